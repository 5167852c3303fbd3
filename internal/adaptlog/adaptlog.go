// Package adaptlog is the durable, append-only record of every fusion
// decision. It is written independently of the profile store so decisions
// stay auditable even when profile persistence is degraded.
package adaptlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/adaptation"
	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/agent"
	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/event"
	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/storage"
	"github.com/YarneD-1952226/A-Multimodal-AI-Driven-GUI-Framework-for-Dynamic-User-Adaptation/internal/validator"
)

// Entry is one logged decision with its full trace.
type Entry struct {
	ID             string                    `json:"id"`
	Timestamp      time.Time                 `json:"timestamp"`
	UserID         string                    `json:"user_id"`
	Event          event.Event               `json:"event"`
	Adaptations    []adaptation.Adaptation   `json:"adaptations"`
	Classification adaptation.Classification `json:"classification"`

	RuleAdaptations  []adaptation.Adaptation `json:"rule_adaptations"`
	AgentAdaptations []adaptation.Adaptation `json:"agent_adaptations,omitempty"`
	AgentState       string                  `json:"agent_state,omitempty"`
	Violations       []validator.Violation   `json:"violations,omitempty"`
	Traces           []agent.Trace           `json:"traces,omitempty"`

	Persisted         bool   `json:"persisted"`
	LatencyMs         int64  `json:"latency_ms"`
	VocabularyVersion string `json:"vocabulary_version"`
}

// Recorder appends entries to a log.
type Recorder interface {
	Record(e Entry) error
}

// LogStore is the storage surface the SQLite recorder needs.
type LogStore interface {
	AppendLog(r storage.LogRecord) error
	ListLog(f storage.LogFilter) ([]storage.LogRecord, error)
	CountLogByClassification() (map[string]int, error)
}

// StoreRecorder writes entries as rows of the adaptation_log table.
type StoreRecorder struct {
	store LogStore
}

// NewStoreRecorder creates a StoreRecorder.
func NewStoreRecorder(store LogStore) *StoreRecorder {
	return &StoreRecorder{store: store}
}

// Record appends e.
func (r *StoreRecorder) Record(e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshalling log entry: %w", err)
	}
	return r.store.AppendLog(storage.LogRecord{
		ID:             e.ID,
		CreatedAt:      e.Timestamp,
		UserID:         e.UserID,
		Classification: string(e.Classification),
		Persisted:      e.Persisted,
		EntryJSON:      string(data),
	})
}

// List returns matching entries, newest first.
func (r *StoreRecorder) List(f storage.LogFilter) ([]Entry, error) {
	recs, err := r.store.ListLog(f)
	if err != nil {
		return nil, fmt.Errorf("listing adaptation log: %w", err)
	}
	out := make([]Entry, 0, len(recs))
	for _, rec := range recs {
		var e Entry
		if err := json.Unmarshal([]byte(rec.EntryJSON), &e); err != nil {
			return nil, fmt.Errorf("decoding log entry %s: %w", rec.ID, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// Counts returns the number of logged decisions per classification.
func (r *StoreRecorder) Counts() (map[string]int, error) {
	return r.store.CountLogByClassification()
}

type multi []Recorder

// Multi fans an entry out to every recorder. Every recorder is attempted;
// the errors are joined.
func Multi(recorders ...Recorder) Recorder {
	var m multi
	for _, r := range recorders {
		if r != nil {
			m = append(m, r)
		}
	}
	return m
}

func (m multi) Record(e Entry) error {
	var errs []error
	for _, r := range m {
		if err := r.Record(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
