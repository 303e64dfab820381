package memory

import (
	"context"
	"log/slog"
	"sort"

	"github.com/haricheung/memexcli/internal/types"
)

// syncJob is one queued write to mirror to the remote store after a local
// write has already landed synchronously.
type syncJob func(ctx context.Context, remote Facade) error

// Hybrid consults the local store first on reads and opportunistically
// merges remote results by score; writes land on the local store
// synchronously and are mirrored to the remote asynchronously with
// at-least-once, fire-and-forget delivery (spec §4.2, §9 open question on
// sync conflict resolution — left unresolved here, matching the source).
//
// local and remote are both held as the Facade interface rather than the
// concrete *Local/*Remote types, so a test can substitute a fake remote
// without a network dependency.
type Hybrid struct {
	local  Facade
	remote Facade
	syncCh chan syncJob
}

// NewHybrid composes an already-open local and remote Facade.
func NewHybrid(local, remote Facade) *Hybrid {
	return &Hybrid{local: local, remote: remote, syncCh: make(chan syncJob, 1024)}
}

// Run drains the async sync queue until ctx is cancelled. Failures are
// logged, never retried beyond this single attempt — consistent with the
// at-least-once, best-effort delivery the spec assigns to hybrid sync.
func (h *Hybrid) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-h.syncCh:
			if err := job(ctx, h.remote); err != nil {
				slog.Warn("memory/hybrid: remote sync failed", "error", err)
			}
		}
	}
}

func (h *Hybrid) enqueue(job syncJob) {
	select {
	case h.syncCh <- job:
	default:
		slog.Warn("memory/hybrid: sync queue full, dropping remote mirror")
	}
}

func (h *Hybrid) Search(ctx context.Context, payload SearchPayload) ([]types.QARecord, error) {
	localResults, err := h.local.Search(ctx, payload)
	if err != nil {
		return nil, err
	}
	remoteResults, err := h.remote.Search(ctx, payload)
	if err != nil {
		// Remote is best-effort for hybrid reads; local results still stand.
		slog.Warn("memory/hybrid: remote search failed, serving local only", "error", err)
		return localResults, nil
	}
	merged := mergeByQAID(localResults, remoteResults)
	sort.Slice(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	return merged, nil
}

func mergeByQAID(a, b []types.QARecord) []types.QARecord {
	seen := make(map[string]bool, len(a))
	out := make([]types.QARecord, 0, len(a)+len(b))
	for _, rec := range a {
		seen[rec.QAID] = true
		out = append(out, rec)
	}
	for _, rec := range b {
		if !seen[rec.QAID] {
			out = append(out, rec)
		}
	}
	return out
}

func (h *Hybrid) RecordHit(ctx context.Context, projectID string, refs []types.HitRef) error {
	err := h.local.RecordHit(ctx, projectID, refs)
	h.enqueue(func(ctx context.Context, r Facade) error { return r.RecordHit(ctx, projectID, refs) })
	return err
}

func (h *Hybrid) RecordValidation(ctx context.Context, projectID, qaID string, result ValidationOutcome, notes string) error {
	err := h.local.RecordValidation(ctx, projectID, qaID, result, notes)
	h.enqueue(func(ctx context.Context, r Facade) error {
		return r.RecordValidation(ctx, projectID, qaID, result, notes)
	})
	return err
}

func (h *Hybrid) RecordCandidate(ctx context.Context, draft types.CandidateDraft) error {
	err := h.local.RecordCandidate(ctx, draft)
	h.enqueue(func(ctx context.Context, r Facade) error { return r.RecordCandidate(ctx, draft) })
	return err
}

func (h *Hybrid) TaskGrade(ctx context.Context, prompt string) (Grade, error) {
	if g, err := h.remote.TaskGrade(ctx, prompt); err == nil {
		return g, nil
	}
	return h.local.TaskGrade(ctx, prompt)
}

// PendingSyncJobs reports how many local writes are still queued for
// mirroring to the remote store, for the CLI's `sync status`.
func (h *Hybrid) PendingSyncJobs() int {
	return len(h.syncCh)
}

// FlushNow drains the sync queue synchronously against ctx, for the CLI's
// `sync now`. Unlike Run's background loop it returns once the queue is
// empty rather than running until ctx is cancelled.
func (h *Hybrid) FlushNow(ctx context.Context) (flushed int, err error) {
	for {
		select {
		case job := <-h.syncCh:
			if jerr := job(ctx, h.remote); jerr != nil {
				err = jerr
				slog.Warn("memory/hybrid: remote sync failed during flush", "error", jerr)
			}
			flushed++
		default:
			return flushed, err
		}
	}
}

func (h *Hybrid) Close() error {
	_ = h.local.Close()
	return h.remote.Close()
}

var _ Facade = (*Hybrid)(nil)
