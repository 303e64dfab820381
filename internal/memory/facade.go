// Package memory implements the memory facade (spec §4.2): search,
// record_hit, record_validation, record_candidate, and task_grade, behind a
// single interface with three concrete variants — local (LevelDB), remote
// (HTTP), and hybrid (both).
package memory

import (
	"context"
	"errors"

	"github.com/haricheung/memexcli/internal/types"
)

// SearchPayload is the query sent to Facade.Search.
type SearchPayload struct {
	ProjectID string
	Query     string
	Limit     int     // <= 20
	MinScore  float64 // [0,1]
}

// ValidationOutcome is the result classification passed to RecordValidation.
type ValidationOutcome string

const (
	ValidationResultPass    ValidationOutcome = "pass"
	ValidationResultFail    ValidationOutcome = "fail"
	ValidationResultPartial ValidationOutcome = "partial"
)

// Grade is the optional coarse calibration signal from TaskGrade.
type Grade struct {
	Level string // "L0".."L3"
}

// Facade is the polymorphic capability set the core depends on. It never
// embeds transport-specific types — the HTTP client and the LevelDB handle
// are both collaborators behind this interface, per spec §9.
type Facade interface {
	// Search returns QA records ordered non-increasing by score; callers
	// MUST re-sort defensively (spec §4.2) before injection.
	Search(ctx context.Context, payload SearchPayload) ([]types.QARecord, error)

	// RecordHit, RecordValidation, RecordCandidate are idempotent with
	// respect to their carried identifiers. A failure is reported upward but
	// MUST NOT abort the Run's post-phase.
	RecordHit(ctx context.Context, projectID string, refs []types.HitRef) error
	RecordValidation(ctx context.Context, projectID, qaID string, result ValidationOutcome, notes string) error
	RecordCandidate(ctx context.Context, draft types.CandidateDraft) error

	// TaskGrade is optional; implementations that do not support grading
	// return a fixed default grade rather than an error.
	TaskGrade(ctx context.Context, prompt string) (Grade, error)

	// Close releases any held resources (DB handle, HTTP client idle
	// connections). Safe to call once after Run-draining completes.
	Close() error
}

// ErrUnsupported is returned by optional Facade operations an implementation
// declines to perform (e.g. TaskGrade on a bare local store with no grading
// heuristic configured).
var ErrUnsupported = errors.New("memory: operation not supported by this provider")
