package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"

	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/adaptlog"
	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/agent"
	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/api"
	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/config"
	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/fusion"
	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/profile"
	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/reasoning"
	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/rules"
	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/storage"
	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/validator"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sif server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		mcp, _ := cmd.Flags().GetBool("mcp")
		return runServer(mcp)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running sif server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sif system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdio")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "sif.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// app is the wired engine shared by the HTTP and MCP transports.
type app struct {
	store    *storage.Store
	profiles *profile.Manager
	coord    *fusion.Coordinator
	log      *adaptlog.StoreRecorder
	sink     *adaptlog.FileSink
}

// newApp builds the engine from cfg. A nil reasoning client (provider
// "none" or agent disabled) leaves the coordinator on the rule engine alone.
func newApp(ctx context.Context, cfg config.Config, out io.Writer) (*app, error) {
	params, err := rules.LoadParams(cfg.Rules.File)
	if err != nil {
		return nil, err
	}
	engine, err := rules.New(params)
	if err != nil {
		return nil, fmt.Errorf("building rule engine: %w", err)
	}
	v, err := validator.New(validator.Thresholds{
		MaxDuplicates: cfg.Validator.MaxDuplicates,
		MinCoherence:  cfg.Validator.MinCoherence,
	})
	if err != nil {
		return nil, err
	}

	var reasoner fusion.Reasoner
	if cfg.Agent.Enabled {
		orch, err := newOrchestrator(ctx, cfg, out)
		if err != nil {
			return nil, err
		}
		if orch != nil {
			reasoner = orch
			fmt.Fprintf(out, "agent: %s mode, deadline %s\n", orch.Config().Mode, orch.Deadline())
		}
	} else {
		fmt.Fprintln(out, "agent: disabled, rule engine only")
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	a := &app{
		store:    store,
		profiles: profile.NewManager(store),
		log:      adaptlog.NewStoreRecorder(store),
	}
	if cfg.Log.JSONLPath != "" {
		sink, err := adaptlog.OpenFile(cfg.Log.JSONLPath)
		if err != nil {
			store.Close()
			return nil, err
		}
		a.sink = sink
	}

	opts := []fusion.Option{fusion.WithRecorder(adaptlog.Multi(a.log, a.sinkRecorder()))}
	if reasoner != nil {
		opts = append(opts, fusion.WithAgent(reasoner))
	}
	a.coord = fusion.New(engine, v, a.profiles, opts...)
	return a, nil
}

// sinkRecorder avoids handing Multi a typed nil.
func (a *app) sinkRecorder() adaptlog.Recorder {
	if a.sink == nil {
		return nil
	}
	return a.sink
}

func (a *app) Close() error {
	var errs []error
	if a.sink != nil {
		errs = append(errs, a.sink.Close())
	}
	errs = append(errs, a.store.Close())
	return errors.Join(errs...)
}

func newOrchestrator(ctx context.Context, cfg config.Config, out io.Writer) (*agent.Orchestrator, error) {
	rc := reasoning.Config{
		Provider:   cfg.Reasoning.Provider,
		BaseURL:    cfg.Reasoning.BaseURL,
		APIKey:     cfg.Reasoning.APIKey,
		MaxRetries: cfg.Reasoning.MaxRetries,
	}
	if err := reasoning.EnsureReady(ctx, rc, cfg.Reasoning.Model, out); err != nil {
		return nil, err
	}
	client, err := reasoning.New(ctx, rc)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, nil
	}

	roles, err := roleTable(cfg)
	if err != nil {
		return nil, err
	}
	return agent.New(client, agent.Config{
		Mode:           agent.Mode(cfg.Agent.Mode),
		Model:          cfg.Reasoning.Model,
		Temperature:    cfg.Reasoning.Temperature,
		ThinkingBudget: cfg.Reasoning.ThinkingBudget,
		MaxRevisions:   cfg.Agent.MaxRevisions,
		CapPolicy:      agent.CapPolicy(cfg.Agent.CapPolicy),
		Deadline:       cfg.Agent.Deadline,
		HistoryTail:    cfg.Agent.HistoryTail,
		Roles:          roles,
	})
}

// roleTable applies the configured per-stage timeouts, then the roles file.
func roleTable(cfg config.Config) (map[string]agent.RoleConfig, error) {
	roles := agent.DefaultRoles()
	timeouts := map[string]time.Duration{
		agent.RoleIntent:           cfg.Agent.IntentTimeout,
		agent.RoleProposal:         cfg.Agent.ProposalTimeout,
		agent.RoleProposalUI:       cfg.Agent.ProposalTimeout,
		agent.RoleProposalGeometry: cfg.Agent.ProposalTimeout,
		agent.RoleProposalInput:    cfg.Agent.ProposalTimeout,
		agent.RoleValidation:       cfg.Agent.ValidationTimeout,
	}
	for name, d := range timeouts {
		if d > 0 {
			rc := roles[name]
			rc.Timeout = d
			roles[name] = rc
		}
	}
	if cfg.Agent.RolesFile == "" {
		return roles, nil
	}
	return agent.LoadRoles(cfg.Agent.RolesFile, roles)
}

// maxConns caps concurrent client connections. Each fusion may hold a
// per-user lock for the whole agent deadline.
const maxConns = 256

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "sif version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.Log.Level)})))

	// Check if a server is already running via the health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("sif is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("sif is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	if cfg.Server.APIToken != "" {
		slog.Info("API bearer token required")
	}

	handler := api.NewHandler(api.Deps{
		Fusion:   a.coord,
		Profiles: a.profiles,
		Log:      a.log,
		Store:    a.store,
		Token:    cfg.Server.APIToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Fusion:   a.coord,
			Profiles: a.profiles,
			Log:      a.log,
			Version:  version,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			errCh <- err
			return
		}
		fmt.Fprintf(os.Stderr, "sif listening on %s\n", addr)
		if err := srv.Serve(netutil.LimitListener(ln, maxConns)); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// In-flight events finish (and persist) before the store closes.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("sif is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop sif (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to sif (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	client := &apiClient{
		baseURL:    fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
		token:      cfg.Server.APIToken,
		httpClient: &http.Client{Timeout: 2 * time.Second},
	}

	running := false
	resp, err := client.get(ctx, "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "degraded (HTTP %d)", resp.StatusCode)
		}
	}

	provider := cfg.Reasoning.Provider
	if !cfg.Agent.Enabled || provider == "" || provider == reasoning.ProviderNone {
		printStatus("Reasoning", "disabled (rule engine only)")
	} else {
		printStatus("Reasoning", "%s, model %s", provider, cfg.Reasoning.Model)
		printStatus("Agent mode", "%s, max revisions %d, cap policy %s", cfg.Agent.Mode, cfg.Agent.MaxRevisions, cfg.Agent.CapPolicy)
	}

	if running {
		if resp, err := client.get(ctx, "/log/stats"); err == nil {
			var counts map[string]int
			if decodeJSON(resp, &counts) == nil {
				for _, line := range statsLines(counts) {
					printStatus("Decisions", "%s", line)
				}
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
