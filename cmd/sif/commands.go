package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/adaptation"
	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/adaptlog"
	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/config"
	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/event"
	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/fusion"
	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/profile"
)

// --- fuse ---

var fuseCmd = &cobra.Command{
	Use:   "fuse",
	Short: "Send one interaction event and print the adaptations",
	Long: `Send one interaction event to the running server and print the
adaptations it returns.

Examples:
  sif fuse --user user_1 --type miss_tap --source touch --target lamp
  sif fuse --user user_1 --type voice --source voice --target play --meta command=play
  sif fuse --file event.json
  cat event.json | sif fuse --file -`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ev, err := eventFromFlags(cmd, os.Stdin)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/context", ev)
		if err != nil {
			return err
		}
		var res fusion.Result
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(os.Stdout, res)
		}
		printResult(os.Stdout, res)
		return nil
	},
}

func init() {
	addEventFlags(fuseCmd)
	fuseCmd.Flags().Bool("json", false, "print the raw JSON result")
}

func addEventFlags(cmd *cobra.Command) {
	cmd.Flags().String("file", "", "read the event JSON from a file (- for stdin)")
	cmd.Flags().String("user", "", "user id")
	cmd.Flags().String("type", "", "event type (tap, miss_tap, slider_miss, scroll_miss, voice, gesture, key_press)")
	cmd.Flags().String("source", "", "input modality (touch, keyboard, voice, gesture)")
	cmd.Flags().String("target", "", "target UI element")
	cmd.Flags().Float64("confidence", -1, "recognizer confidence in [0,1]")
	cmd.Flags().StringSlice("meta", nil, "metadata key=value pairs")
}

// eventFromFlags builds the event from --file or from the individual flags.
// The result is validated locally so obvious mistakes fail before the
// request is sent.
func eventFromFlags(cmd *cobra.Command, stdin io.Reader) (event.Event, error) {
	file, _ := cmd.Flags().GetString("file")
	if file != "" {
		var data []byte
		var err error
		if file == "-" {
			data, err = io.ReadAll(stdin)
		} else {
			data, err = os.ReadFile(file)
		}
		if err != nil {
			return event.Event{}, fmt.Errorf("reading event: %w", err)
		}
		return event.Decode(data)
	}

	user, _ := cmd.Flags().GetString("user")
	typ, _ := cmd.Flags().GetString("type")
	source, _ := cmd.Flags().GetString("source")
	target, _ := cmd.Flags().GetString("target")
	confidence, _ := cmd.Flags().GetFloat64("confidence")
	meta, _ := cmd.Flags().GetStringSlice("meta")

	ev := event.Event{
		EventType:     event.Type(typ),
		Source:        source,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		UserID:        user,
		TargetElement: target,
	}
	if confidence >= 0 {
		ev.Confidence = &confidence
	}
	if len(meta) > 0 {
		ev.Metadata = make(map[string]any, len(meta))
		for _, kv := range meta {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				return event.Event{}, fmt.Errorf("invalid --meta %q, want key=value", kv)
			}
			ev.Metadata[k] = v
		}
	}
	if err := ev.Validate(); err != nil {
		return event.Event{}, err
	}
	return ev, nil
}

func classificationColor(c adaptation.Classification) string {
	switch c {
	case adaptation.ValidatedByValidator:
		return colorGreen
	case adaptation.CombinedAgentSuggestions:
		return colorYellow
	default:
		return colorCyan
	}
}

func formatAdaptation(a adaptation.Adaptation) string {
	param := a.Mode
	if a.Value != nil {
		param = strconv.FormatFloat(*a.Value, 'g', -1, 64)
	}
	line := fmt.Sprintf("%s %s", a.Action, a.Target)
	if param != "" {
		line += " = " + param
	}
	if a.Reason != "" {
		line += "  (" + a.Reason + ")"
	}
	return line
}

func printResult(w io.Writer, res fusion.Result) {
	fmt.Fprintf(w, "%s  %d adaptation(s), %dms\n",
		colorize(classificationColor(res.Classification), string(res.Classification)),
		len(res.Adaptations), res.LatencyMs)
	for _, a := range res.Adaptations {
		fmt.Fprintf(w, "  %s\n", formatAdaptation(a))
	}
	for _, v := range res.Violations {
		fmt.Fprintf(w, "  %s\n", colorize(colorYellow, v.String()))
	}
	if res.AgentState != "" {
		fmt.Fprintf(w, "  agent: %s, %d call(s)\n", res.AgentState, len(res.Traces))
	}
	if !res.Persisted {
		fmt.Fprintf(w, "  %s\n", colorize(colorRed, "profile not persisted"))
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- profile ---

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage user profiles",
}

var profileShowCmd = &cobra.Command{
	Use:   "show <user_id>",
	Short: "Show a profile as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/profile/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var p profile.UserProfile
		if err := decodeJSON(resp, &p); err != nil {
			return err
		}
		return printJSON(os.Stdout, p)
	},
}

var profileSetCmd = &cobra.Command{
	Use:   "set <user_id> <key> <value>",
	Short: "Set a profile field",
	Long: `Set a profile field. Keys:
  ` + strings.Join(profileKeys, "\n  ") + `
  input_preferences.sensitivity.<modality>`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, key, value := args[0], args[1], args[2]

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		cur, err := fetchProfile(cmd, client, userID)
		if err != nil {
			return err
		}
		delta, err := setProfileField(cur, key, value)
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/profile", delta)
		if err != nil {
			return err
		}
		var result map[string]any
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("%s: set %s = %s", result["status"], key, value)
		return nil
	},
}

var profileEditCmd = &cobra.Command{
	Use:   "edit <user_id>",
	Short: "Open a profile in $EDITOR",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID := args[0]
		editor := os.Getenv("EDITOR")
		if editor == "" {
			editor = "vi"
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		cur, err := fetchProfile(cmd, client, userID)
		if err != nil {
			return err
		}

		data, err := json.MarshalIndent(editable(cur), "", "  ")
		if err != nil {
			return err
		}

		tmpFile, err := os.CreateTemp("", "sif-profile-*.json")
		if err != nil {
			return fmt.Errorf("creating temp file: %w", err)
		}
		tmpPath := tmpFile.Name()
		defer os.Remove(tmpPath)

		if _, err := tmpFile.Write(data); err != nil {
			tmpFile.Close()
			return err
		}
		tmpFile.Close()

		editorCmd := exec.Command(editor, tmpPath)
		editorCmd.Stdin = os.Stdin
		editorCmd.Stdout = os.Stdout
		editorCmd.Stderr = os.Stderr
		if err := editorCmd.Run(); err != nil {
			return fmt.Errorf("editor exited with error: %w", err)
		}

		edited, err := os.ReadFile(tmpPath)
		if err != nil {
			return err
		}
		var delta profile.Delta
		if err := json.Unmarshal(edited, &delta); err != nil {
			return fmt.Errorf("invalid JSON: %w", err)
		}
		delta.UserID = userID

		resp, err := client.post(cmd.Context(), "/profile", delta)
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}

		printSuccess("Profile %s updated", userID)
		return nil
	},
}

var profileDeleteCmd = &cobra.Command{
	Use:   "delete <user_id>",
	Short: "Delete a profile and its history (requires server.api_token)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This deletes the profile and history of %s. Use --confirm to proceed.", args[0])
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/profile/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			var ae *apiError
			if errors.As(err, &ae) && ae.Status == http.StatusMethodNotAllowed {
				return fmt.Errorf("profile deletion is disabled: set server.api_token on the server")
			}
			return err
		}

		printSuccess("Deleted profile %s", args[0])
		return nil
	},
}

func init() {
	profileDeleteCmd.Flags().Bool("confirm", false, "confirm deletion")
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileSetCmd)
	profileCmd.AddCommand(profileEditCmd)
	profileCmd.AddCommand(profileDeleteCmd)
}

// fetchProfile returns the stored profile, or the default profile for a
// user the server has not seen.
func fetchProfile(cmd *cobra.Command, client *apiClient, userID string) (profile.UserProfile, error) {
	resp, err := client.get(cmd.Context(), "/profile/"+url.PathEscape(userID))
	if err != nil {
		return profile.UserProfile{}, err
	}
	var p profile.UserProfile
	err = decodeJSON(resp, &p)
	var ae *apiError
	if errors.As(err, &ae) && ae.Status == http.StatusNotFound {
		return profile.Default(userID), nil
	}
	return p, err
}

func editable(p profile.UserProfile) profile.Delta {
	return profile.Delta{
		UserID:             p.UserID,
		AccessibilityNeeds: &p.AccessibilityNeeds,
		InputPreferences:   &p.InputPreferences,
		UIPreferences:      &p.UIPreferences,
	}
}

var profileKeys = []string{
	"accessibility_needs.motor_impaired",
	"accessibility_needs.visual_impaired",
	"accessibility_needs.hands_free_preferred",
	"input_preferences.preferred_modality",
	"ui_preferences.font_size",
	"ui_preferences.contrast_mode",
	"ui_preferences.button_size",
}

// setProfileField returns the delta that sets key on cur. Sections replace
// wholesale on the server, so the delta carries the whole edited section.
func setProfileField(cur profile.UserProfile, key, value string) (profile.Delta, error) {
	d := profile.Delta{UserID: cur.UserID}
	needs := cur.AccessibilityNeeds
	input := cur.InputPreferences
	ui := cur.UIPreferences

	parseBool := func() (bool, error) {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return false, fmt.Errorf("%s: want true or false, got %q", key, value)
		}
		return b, nil
	}
	parseFloat := func() (float64, error) {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0, fmt.Errorf("%s: want a number, got %q", key, value)
		}
		return f, nil
	}

	var err error
	switch key {
	case "accessibility_needs.motor_impaired":
		needs.MotorImpaired, err = parseBool()
		d.AccessibilityNeeds = &needs
	case "accessibility_needs.visual_impaired":
		needs.VisualImpaired, err = parseBool()
		d.AccessibilityNeeds = &needs
	case "accessibility_needs.hands_free_preferred":
		needs.HandsFreePreferred, err = parseBool()
		d.AccessibilityNeeds = &needs
	case "input_preferences.preferred_modality":
		input.PreferredModality = value
		d.InputPreferences = &input
	case "ui_preferences.font_size":
		ui.FontSize, err = parseFloat()
		d.UIPreferences = &ui
	case "ui_preferences.contrast_mode":
		ui.ContrastMode = value
		d.UIPreferences = &ui
	case "ui_preferences.button_size":
		ui.ButtonSize, err = parseFloat()
		d.UIPreferences = &ui
	default:
		modality, ok := strings.CutPrefix(key, "input_preferences.sensitivity.")
		if !ok || modality == "" {
			return profile.Delta{}, fmt.Errorf("unknown profile key %q", key)
		}
		var f float64
		if f, err = parseFloat(); err == nil && (f < 0 || f > 1) {
			err = fmt.Errorf("%s: sensitivity must be in [0,1], got %v", key, f)
		}
		sens := make(map[string]float64, len(input.Sensitivity)+1)
		for k, v := range input.Sensitivity {
			sens[k] = v
		}
		sens[modality] = f
		input.Sensitivity = sens
		d.InputPreferences = &input
	}
	if err != nil {
		return profile.Delta{}, err
	}
	return d, nil
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history [user_id]",
	Short: "Show interaction history (one user, or a summary of all users)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if len(args) == 0 {
			resp, err := client.get(cmd.Context(), "/full_history")
			if err != nil {
				return err
			}
			var all struct {
				History []profile.UserHistory `json:"history"`
			}
			if err := decodeJSON(resp, &all); err != nil {
				return err
			}
			if len(all.History) == 0 {
				fmt.Println("No history found.")
				return nil
			}
			for _, h := range all.History {
				fmt.Printf("%s  %d interaction(s)\n", colorize(colorBold, h.UserID), len(h.InteractionHistory))
			}
			return nil
		}

		resp, err := client.get(cmd.Context(), "/history/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var h profile.UserHistory
		if err := decodeJSON(resp, &h); err != nil {
			return err
		}
		if len(h.InteractionHistory) == 0 {
			fmt.Println("No history found.")
			return nil
		}
		for _, e := range h.InteractionHistory {
			fmt.Println(historyLine(e))
		}
		return nil
	},
}

func historyLine(e profile.HistoryEntry) string {
	target := e.Event.TargetElement
	if target == "" {
		target = "-"
	}
	return fmt.Sprintf("%s  %-12s %-8s %-16s %d adaptation(s) %s",
		e.RecordedAt.Format(time.RFC3339),
		e.Event.EventType,
		e.Event.Source,
		target,
		len(e.Adaptations),
		colorize(classificationColor(e.Classification), string(e.Classification)),
	)
}

// --- log ---

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show recent adaptation decisions",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if stats, _ := cmd.Flags().GetBool("stats"); stats {
			resp, err := client.get(cmd.Context(), "/log/stats")
			if err != nil {
				return err
			}
			var counts map[string]int
			if err := decodeJSON(resp, &counts); err != nil {
				return err
			}
			for _, line := range statsLines(counts) {
				fmt.Println(line)
			}
			return nil
		}

		user, _ := cmd.Flags().GetString("user")
		class, _ := cmd.Flags().GetString("classification")
		limit, _ := cmd.Flags().GetInt("limit")
		q := url.Values{}
		if user != "" {
			q.Set("user_id", user)
		}
		if class != "" {
			q.Set("classification", class)
		}
		q.Set("limit", strconv.Itoa(limit))

		resp, err := client.get(cmd.Context(), "/log?"+q.Encode())
		if err != nil {
			return err
		}
		var entries []adaptlog.Entry
		if err := decodeJSON(resp, &entries); err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No decisions found.")
			return nil
		}
		for _, e := range entries {
			fmt.Println(logLine(e))
		}
		return nil
	},
}

func init() {
	logCmd.Flags().String("user", "", "only decisions for this user")
	logCmd.Flags().String("classification", "", "only decisions with this classification")
	logCmd.Flags().Int("limit", 20, "maximum number of decisions to list")
	logCmd.Flags().Bool("stats", false, "show counts per classification")
}

func logLine(e adaptlog.Entry) string {
	id := e.ID
	if len(id) > 8 {
		id = id[:8]
	}
	line := fmt.Sprintf("%s  %s  %-10s %-12s %s  %d adaptation(s) %dms",
		colorize(colorCyan, id),
		e.Timestamp.Format(time.RFC3339),
		e.UserID,
		e.Event.EventType,
		colorize(classificationColor(e.Classification), string(e.Classification)),
		len(e.Adaptations),
		e.LatencyMs,
	)
	if e.AgentState != "" {
		line += " agent=" + e.AgentState
	}
	if !e.Persisted {
		line += " " + colorize(colorRed, "not-persisted")
	}
	return line
}

// statsLines renders classification counts in a stable order with shares.
func statsLines(counts map[string]int) []string {
	total := 0
	keys := make([]string, 0, len(counts))
	for k, n := range counts {
		keys = append(keys, k)
		total += n
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%-28s %6d  %5.1f%%", k, counts[k], 100*float64(counts[k])/float64(total)))
	}
	lines = append(lines, fmt.Sprintf("%-28s %6d", "total", total))
	return lines
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "$"+k.EnvVar))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value. Secrets (server.api_token, reasoning.api_key) are written to the platform secret store.\n\nKeys:\n  " +
		strings.Join(config.ValidKeys(), "\n  "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s", key)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value so its default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}

		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
