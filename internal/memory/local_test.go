package memory

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/haricheung/memexcli/internal/types"
)

func newTestLocal(t *testing.T) *Local {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "db")
	l, err := NewLocal(dir)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(cancel)
	return l
}

// waitForDrain gives the async write-queue goroutine a moment to apply a
// pending op before assertions run against the DB.
func waitForDrain() { time.Sleep(20 * time.Millisecond) }

func TestLocalRecordCandidateThenSearchFindsIt(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	err := l.RecordCandidate(ctx, types.CandidateDraft{
		Query:      "configure rust logger",
		Answer:     "use tracing",
		Confidence: 0.7,
	})
	if err != nil {
		t.Fatalf("RecordCandidate: %v", err)
	}
	waitForDrain()

	results, err := l.Search(ctx, SearchPayload{Query: "rust logger", Limit: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("want 1 result, got %d", len(results))
	}
	if results[0].Answer != "use tracing" {
		t.Errorf("answer = %q, want %q", results[0].Answer, "use tracing")
	}
	if results[0].Status != "active" {
		t.Errorf("status = %q, want active", results[0].Status)
	}
}

func TestLocalSearchRespectsMinScore(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()
	_ = l.RecordCandidate(ctx, types.CandidateDraft{Query: "a", Answer: "weak", Confidence: 0.1})
	_ = l.RecordCandidate(ctx, types.CandidateDraft{Query: "a", Answer: "strong", Confidence: 0.9})
	waitForDrain()

	results, err := l.Search(ctx, SearchPayload{MinScore: 0.5, Limit: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Answer != "strong" {
		t.Fatalf("MinScore filter failed, got %+v", results)
	}
}

func TestLocalValidationPassPromotesLevelAndResetsConsecutiveFail(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()
	_ = l.RecordCandidate(ctx, types.CandidateDraft{Query: "q", Answer: "a", Confidence: 0.6})
	waitForDrain()

	results, _ := l.Search(ctx, SearchPayload{Limit: 10})
	qaID := results[0].QAID

	if err := l.RecordValidation(ctx, "proj", qaID, ValidationResultPass, ""); err != nil {
		t.Fatalf("RecordValidation: %v", err)
	}
	waitForDrain()

	rec, err := l.fetchQA(qaID)
	if err != nil {
		t.Fatalf("fetchQA: %v", err)
	}
	if rec.ValidationLevel != types.LevelL1 {
		t.Errorf("validation_level = %d, want L1", rec.ValidationLevel)
	}
	if rec.ConsecutiveFail != 0 {
		t.Errorf("consecutive_fail = %d, want 0", rec.ConsecutiveFail)
	}
}

func TestLocalTaskGradeReturnsUnsupported(t *testing.T) {
	l := newTestLocal(t)
	if _, err := l.TaskGrade(context.Background(), "x"); err != ErrUnsupported {
		t.Errorf("TaskGrade error = %v, want ErrUnsupported", err)
	}
}

func TestLocalExportThenImportRoundTrips(t *testing.T) {
	src := newTestLocal(t)
	ctx := context.Background()
	_ = src.RecordCandidate(ctx, types.CandidateDraft{Query: "q1", Answer: "a1", Confidence: 0.6})
	_ = src.RecordCandidate(ctx, types.CandidateDraft{Query: "q2", Answer: "a2", Confidence: 0.8})
	waitForDrain()

	n, err := src.Info()
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if n != 2 {
		t.Fatalf("Info record count = %d, want 2", n)
	}

	var buf bytes.Buffer
	exported, err := src.Export(&buf)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if exported != 2 {
		t.Fatalf("Export count = %d, want 2", exported)
	}

	dst := newTestLocal(t)
	imported, err := dst.Import(&buf)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if imported != 2 {
		t.Fatalf("Import count = %d, want 2", imported)
	}

	results, err := dst.Search(ctx, SearchPayload{Limit: 10})
	if err != nil {
		t.Fatalf("Search after import: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("want 2 imported records searchable, got %d", len(results))
	}
}
