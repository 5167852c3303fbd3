package storage

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(versions) < 2 {
		t.Fatalf("expected at least two applied migrations, got %v", versions)
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	for _, idx := range []string{"idx_adaptation_log_created", "idx_adaptation_log_user", "idx_adaptation_log_classification"} {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying index %s: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %s not found", idx)
		}
	}
}

func TestProfileDoc_RoundTrip(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetProfileDoc("u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetProfileDoc on empty store: err = %v, want ErrNotFound", err)
	}

	if err := s.PutProfileDoc("u1", []byte(`{"user_id":"u1"}`)); err != nil {
		t.Fatalf("PutProfileDoc: %v", err)
	}
	if err := s.PutProfileDoc("u1", []byte(`{"user_id":"u1","v":2}`)); err != nil {
		t.Fatalf("PutProfileDoc overwrite: %v", err)
	}

	doc, err := s.GetProfileDoc("u1")
	if err != nil {
		t.Fatalf("GetProfileDoc: %v", err)
	}
	if string(doc) != `{"user_id":"u1","v":2}` {
		t.Errorf("doc = %s, want the overwritten document", doc)
	}
}

func TestListProfileDocs_Ordered(t *testing.T) {
	s := openTestStore(t)

	for _, id := range []string{"carol", "alice", "bob"} {
		if err := s.PutProfileDoc(id, []byte(`{}`)); err != nil {
			t.Fatalf("PutProfileDoc(%s): %v", id, err)
		}
	}

	docs, err := s.ListProfileDocs()
	if err != nil {
		t.Fatalf("ListProfileDocs: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("got %d docs, want 3", len(docs))
	}
	want := []string{"alice", "bob", "carol"}
	for i, d := range docs {
		if d.UserID != want[i] {
			t.Errorf("docs[%d].UserID = %q, want %q", i, d.UserID, want[i])
		}
		if d.UpdatedAt.IsZero() {
			t.Errorf("docs[%d].UpdatedAt is zero", i)
		}
	}
}

func TestDeleteProfile(t *testing.T) {
	s := openTestStore(t)

	if err := s.DeleteProfile("ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteProfile(ghost): err = %v, want ErrNotFound", err)
	}
	if err := s.PutProfileDoc("u1", []byte(`{}`)); err != nil {
		t.Fatalf("PutProfileDoc: %v", err)
	}
	if err := s.DeleteProfile("u1"); err != nil {
		t.Fatalf("DeleteProfile: %v", err)
	}
	if _, err := s.GetProfileDoc("u1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("after delete: err = %v, want ErrNotFound", err)
	}
}

func TestAdaptationLog_AppendAndList(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2025, 8, 1, 10, 0, 0, 0, time.UTC)
	classes := []string{"mock_rule_fallback", "validated_by_validator", "mock_rule_fallback"}
	for i, c := range classes {
		r := LogRecord{
			ID:             fmt.Sprintf("log-%d", i),
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
			UserID:         "u1",
			Classification: c,
			Persisted:      i != 1,
			EntryJSON:      `{}`,
		}
		if err := s.AppendLog(r); err != nil {
			t.Fatalf("AppendLog(%d): %v", i, err)
		}
	}
	if err := s.AppendLog(LogRecord{ID: "other", CreatedAt: base, UserID: "u2", Classification: "mock_rule_fallback", EntryJSON: `{}`}); err != nil {
		t.Fatalf("AppendLog(other): %v", err)
	}

	recs, err := s.ListLog(LogFilter{UserID: "u1"})
	if err != nil {
		t.Fatalf("ListLog: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	if recs[0].ID != "log-2" || recs[2].ID != "log-0" {
		t.Errorf("order = [%s %s %s], want newest first", recs[0].ID, recs[1].ID, recs[2].ID)
	}
	if recs[1].Persisted {
		t.Error("log-1 should be unpersisted")
	}

	recs, err = s.ListLog(LogFilter{Classification: "mock_rule_fallback", Limit: 2})
	if err != nil {
		t.Fatalf("ListLog filtered: %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("limit: got %d records, want 2", len(recs))
	}

	counts, err := s.CountLogByClassification()
	if err != nil {
		t.Fatalf("CountLogByClassification: %v", err)
	}
	if counts["mock_rule_fallback"] != 3 || counts["validated_by_validator"] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestAdaptationLog_DuplicateIDRejected(t *testing.T) {
	s := openTestStore(t)

	r := LogRecord{ID: "dup", CreatedAt: time.Now(), UserID: "u", Classification: "mock_rule_fallback", EntryJSON: `{}`}
	if err := s.AppendLog(r); err != nil {
		t.Fatalf("first AppendLog: %v", err)
	}
	if err := s.AppendLog(r); err == nil {
		t.Error("expected error appending a duplicate ID")
	}
}
