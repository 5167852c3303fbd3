package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/adaptation"
	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/event"
	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/storage"
)

// ErrStoreUnavailable marks a session whose profile could not be read, so
// its outcome cannot be persisted without clobbering the stored history.
var ErrStoreUnavailable = errors.New("profile store unavailable")

// Store defines the storage operations the Manager needs.
// Implemented by storage.Store.
type Store interface {
	GetProfileDoc(userID string) ([]byte, error)
	PutProfileDoc(userID string, doc []byte) error
	ListProfileDocs() ([]storage.ProfileDoc, error)
	DeleteProfile(userID string) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Manager owns all per-user profile state. Every read-modify-write for a
// user runs under that user's lock, acquired in arrival order.
type Manager struct {
	store Store
	clock Clock
	locks *keyLocks
	cap   int
}

// NewManager creates a Manager with the default history cap.
func NewManager(store Store) *Manager {
	return &Manager{
		store: store,
		clock: realClock{},
		locks: newKeyLocks(),
		cap:   HistoryCap,
	}
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store Store, clock Clock) *Manager {
	m := NewManager(store)
	m.clock = clock
	return m
}

// Session is an exclusive hold on one user's profile. The holder reads the
// snapshot, does its work, and commits at most once. Close must always be
// called.
type Session struct {
	m       *Manager
	release func()
	loadErr error
	done    bool

	// Profile is a private snapshot; mutating it has no effect on the store.
	Profile UserProfile
}

// Begin acquires the user's lock and loads their profile. If the store
// cannot be read the session carries a default profile and Degraded reports
// true; Begin only fails when ctx ends while waiting for the lock.
func (m *Manager) Begin(ctx context.Context, userID string) (*Session, error) {
	release, err := m.locks.acquire(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("waiting for profile lock %q: %w", userID, err)
	}

	s := &Session{m: m, release: release}
	p, err := m.read(userID)
	if err != nil {
		slog.Error("profile store unavailable, using default profile", "user_id", userID, "error", err)
		s.loadErr = err
		p = Default(userID)
	}
	s.Profile = p
	return s, nil
}

// Degraded reports whether the session runs on a best-effort default profile.
func (s *Session) Degraded() bool { return s.loadErr != nil }

// Commit appends the event and its final adaptations to the history,
// evicting the oldest entry beyond the cap, and persists the profile.
func (s *Session) Commit(ev event.Event, final []adaptation.Adaptation, cls adaptation.Classification) error {
	if s.done {
		return errors.New("session already committed")
	}
	s.done = true
	if s.loadErr != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, s.loadErr)
	}

	p := s.Profile.Clone()
	ring := RingFrom(s.m.cap, p.InteractionHistory)
	ring.Push(HistoryEntry{
		Event:          ev,
		Adaptations:    adaptation.CloneAll(final),
		Classification: cls,
		RecordedAt:     s.m.clock.Now().UTC(),
	})
	p.InteractionHistory = ring.Items()

	if err := s.m.write(p); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	s.Profile = p
	return nil
}

// Close releases the user's lock.
func (s *Session) Close() {
	s.release()
}

// Load returns the user's profile, or a default profile for a user never
// seen before. It errors only when the store fails.
func (m *Manager) Load(ctx context.Context, userID string) (UserProfile, error) {
	release, err := m.locks.acquire(ctx, userID)
	if err != nil {
		return UserProfile{}, err
	}
	defer release()
	return m.read(userID)
}

// Get returns the stored profile or storage.ErrNotFound.
func (m *Manager) Get(ctx context.Context, userID string) (UserProfile, error) {
	release, err := m.locks.acquire(ctx, userID)
	if err != nil {
		return UserProfile{}, err
	}
	defer release()

	doc, err := m.store.GetProfileDoc(userID)
	if err != nil {
		return UserProfile{}, err
	}
	return decode(userID, doc)
}

// Upsert applies an explicit profile edit, creating the profile if needed.
// It reports whether the profile was newly created.
func (m *Manager) Upsert(ctx context.Context, d Delta) (UserProfile, bool, error) {
	if strings.TrimSpace(d.UserID) == "" {
		return UserProfile{}, false, errors.New("user_id is required")
	}
	release, err := m.locks.acquire(ctx, d.UserID)
	if err != nil {
		return UserProfile{}, false, err
	}
	defer release()

	created := false
	doc, err := m.store.GetProfileDoc(d.UserID)
	var cur UserProfile
	switch {
	case errors.Is(err, storage.ErrNotFound):
		cur, created = Default(d.UserID), true
	case err != nil:
		return UserProfile{}, false, fmt.Errorf("loading profile %q: %w", d.UserID, err)
	default:
		if cur, err = decode(d.UserID, doc); err != nil {
			return UserProfile{}, false, err
		}
	}

	next := cur.Apply(d)
	if err := m.write(next); err != nil {
		return UserProfile{}, false, err
	}
	return next, created, nil
}

// Delete removes a profile and its history. Administrative only.
func (m *Manager) Delete(ctx context.Context, userID string) error {
	release, err := m.locks.acquire(ctx, userID)
	if err != nil {
		return err
	}
	defer release()
	return m.store.DeleteProfile(userID)
}

// History returns one user's interaction history, oldest first.
func (m *Manager) History(ctx context.Context, userID string) ([]HistoryEntry, error) {
	p, err := m.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return p.InteractionHistory, nil
}

// FullHistory returns every user's history, ordered by user ID. It reads
// without taking user locks, so an in-flight event may or may not be
// reflected.
func (m *Manager) FullHistory(ctx context.Context) ([]UserHistory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	docs, err := m.store.ListProfileDocs()
	if err != nil {
		return nil, fmt.Errorf("listing profiles: %w", err)
	}
	out := make([]UserHistory, 0, len(docs))
	for _, d := range docs {
		p, err := decode(d.UserID, d.Doc)
		if err != nil {
			slog.Warn("skipping undecodable profile", "user_id", d.UserID, "error", err)
			continue
		}
		out = append(out, UserHistory{UserID: p.UserID, InteractionHistory: p.InteractionHistory})
	}
	return out, nil
}

func (m *Manager) read(userID string) (UserProfile, error) {
	doc, err := m.store.GetProfileDoc(userID)
	if errors.Is(err, storage.ErrNotFound) {
		return Default(userID), nil
	}
	if err != nil {
		return UserProfile{}, fmt.Errorf("loading profile %q: %w", userID, err)
	}
	return decode(userID, doc)
}

func (m *Manager) write(p UserProfile) error {
	if p.InteractionHistory == nil {
		p.InteractionHistory = []HistoryEntry{}
	}
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshalling profile %q: %w", p.UserID, err)
	}
	if err := m.store.PutProfileDoc(p.UserID, doc); err != nil {
		return fmt.Errorf("saving profile %q: %w", p.UserID, err)
	}
	return nil
}

// decode parses a stored document and enforces the history cap on data
// written by older versions or other tools.
func decode(userID string, doc []byte) (UserProfile, error) {
	var p UserProfile
	if err := json.Unmarshal(doc, &p); err != nil {
		return UserProfile{}, fmt.Errorf("decoding profile %q: %w", userID, err)
	}
	if p.UserID == "" {
		p.UserID = userID
	}
	if len(p.InteractionHistory) > HistoryCap {
		p.InteractionHistory = RingFrom(HistoryCap, p.InteractionHistory).Items()
	}
	if p.InteractionHistory == nil {
		p.InteractionHistory = []HistoryEntry{}
	}
	return p, nil
}
