package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/haricheung/memexcli/internal/types"
)

// LevelDB key prefix scheme — "|" separated so project ids and qa ids never
// collide with the delimiter.
//
//	q|<id>            → QARecord JSON          (primary record)
//	x|<project>|<id>  → nil                    (inverted index for project scan)
//	h|<project>|<id>  → HitRef JSON            (last-write-wins hit record)
//	v|<project>|<id>  → validation JSON        (last-write-wins validation record)
const (
	prefixQA   = "q|"
	prefixIdx  = "x|"
	prefixHit  = "h|"
	prefixVal  = "v|"
)

type writeOp struct {
	kind  string // "hit" | "validation" | "candidate"
	proj  string
	qaID  string
	hit   types.HitRef
	val   validationWrite
	draft types.CandidateDraft
}

type validationWrite struct {
	Result ValidationOutcome `json:"result"`
	Notes  string            `json:"notes"`
	TS     string            `json:"ts"`
}

// Local is a LevelDB-backed Facade. Writes are enqueued on a buffered,
// fire-and-forget channel so RecordHit/RecordValidation/RecordCandidate never
// block the post-phase on disk I/O (spec §4.2: write failures are reported
// but never fatal).
type Local struct {
	db      *leveldb.DB
	writeCh chan writeOp
	closeMu sync.Mutex
	closed  bool
}

// NewLocal opens (or creates) a LevelDB database at dbPath.
func NewLocal(dbPath string) (*Local, error) {
	db, err := leveldb.OpenFile(dbPath, nil)
	if err != nil {
		return nil, fmt.Errorf("memory: open leveldb at %s: %w", dbPath, err)
	}
	return &Local{db: db, writeCh: make(chan writeOp, 1024)}, nil
}

// Run drains the async write queue until ctx is cancelled, then flushes
// remaining writes and closes the DB handle. Mirrors the owning-goroutine
// pattern used elsewhere in this codebase for single-writer embedded stores.
func (l *Local) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			l.drain()
			if err := l.db.Close(); err != nil {
				slog.Warn("memory/local: db close error", "error", err)
			}
			return
		case op := <-l.writeCh:
			l.apply(op)
		}
	}
}

func (l *Local) drain() {
	for {
		select {
		case op := <-l.writeCh:
			l.apply(op)
		default:
			return
		}
	}
}

func (l *Local) enqueue(op writeOp) error {
	select {
	case l.writeCh <- op:
		return nil
	default:
		slog.Warn("memory/local: write queue full, dropping write", "kind", op.kind, "qa_id", op.qaID)
		return fmt.Errorf("%w: write queue full", types.ErrMemory)
	}
}

func (l *Local) apply(op writeOp) {
	switch op.kind {
	case "hit":
		l.applyHit(op)
	case "validation":
		l.applyValidation(op)
	case "candidate":
		l.applyCandidate(op)
	}
}

func (l *Local) applyHit(op writeOp) {
	data, err := json.Marshal(op.hit)
	if err != nil {
		return
	}
	key := prefixHit + op.proj + "|" + op.qaID
	if err := l.db.Put([]byte(key), data, nil); err != nil {
		slog.Error("memory/local: record_hit failed", "qa_id", op.qaID, "error", err)
	}
}

func (l *Local) applyValidation(op writeOp) {
	data, err := json.Marshal(op.val)
	if err != nil {
		return
	}
	key := prefixVal + op.proj + "|" + op.qaID
	if err := l.db.Put([]byte(key), data, nil); err != nil {
		slog.Error("memory/local: record_validation failed", "qa_id", op.qaID, "error", err)
		return
	}
	// Local-only calibration: a local store has no remote scoring model to
	// consult, so it applies a simple deterministic adjustment instead of
	// leaving validation_level/consecutive_fail untouched. This is specific
	// to the local provider — the remote scoring model stays opaque per §9.
	rec, err := l.fetchQA(op.qaID)
	if err != nil {
		return
	}
	switch op.val.Result {
	case ValidationResultPass:
		rec.ConsecutiveFail = 0
		if rec.ValidationLevel < types.LevelL3 {
			rec.ValidationLevel++
		}
	case ValidationResultFail:
		rec.ConsecutiveFail++
	case ValidationResultPartial:
		// no level change
	}
	l.putQA(rec)
}

func (l *Local) applyCandidate(op writeOp) {
	rec := types.QARecord{
		QAID:            uuid.New().String(),
		Query:           op.draft.Query,
		Answer:          op.draft.Answer,
		Score:           op.draft.Confidence,
		Trust:           0.5,
		ValidationLevel: types.LevelL0,
		Freshness:       1.0,
		Status:          "active",
		ConsecutiveFail: 0,
		Metadata: map[string]any{
			"tags":    op.draft.Tags,
			"context": op.draft.Context,
		},
	}
	l.putQA(rec)
}

func (l *Local) putQA(rec types.QARecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		slog.Error("memory/local: marshal QA record failed", "qa_id", rec.QAID, "error", err)
		return
	}
	batch := new(leveldb.Batch)
	batch.Put([]byte(prefixQA+rec.QAID), data)
	batch.Put([]byte(idxKey(rec.QAID)), nil)
	if err := l.db.Write(batch, nil); err != nil {
		slog.Error("memory/local: persist QA record failed", "qa_id", rec.QAID, "error", err)
	}
}

func (l *Local) fetchQA(qaID string) (types.QARecord, error) {
	data, err := l.db.Get([]byte(prefixQA+qaID), nil)
	if err != nil {
		return types.QARecord{}, err
	}
	var rec types.QARecord
	return rec, json.Unmarshal(data, &rec)
}

func idxKey(qaID string) string {
	// Project scoping is carried in the Local variant by storing QA records
	// under a flat namespace (one DB per project directory, chosen by the
	// caller when selecting dbPath) rather than a per-record project field —
	// the inverted-index key exists so Search can page without a full scan.
	return prefixIdx + qaID
}

// Search scans the local store and returns QA records matching payload,
// ordered non-increasing by score (defensively re-sorted by the caller too).
func (l *Local) Search(ctx context.Context, payload SearchPayload) ([]types.QARecord, error) {
	limit := payload.Limit
	if limit <= 0 || limit > 20 {
		limit = 20
	}
	iter := l.db.NewIterator(util.BytesPrefix([]byte(prefixQA)), nil)
	defer iter.Release()

	var results []types.QARecord
	for iter.Next() {
		var rec types.QARecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue
		}
		if rec.Score < payload.MinScore {
			continue
		}
		if payload.Query != "" && !strings.Contains(strings.ToLower(rec.Query), strings.ToLower(payload.Query)) {
			continue
		}
		results = append(results, rec)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("%w: leveldb iteration: %v", types.ErrMemory, err)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (l *Local) RecordHit(ctx context.Context, projectID string, refs []types.HitRef) error {
	for _, ref := range refs {
		if err := l.enqueue(writeOp{kind: "hit", proj: projectID, qaID: ref.QAID, hit: ref}); err != nil {
			return err
		}
	}
	return nil
}

func (l *Local) RecordValidation(ctx context.Context, projectID, qaID string, result ValidationOutcome, notes string) error {
	return l.enqueue(writeOp{
		kind: "validation",
		proj: projectID,
		qaID: qaID,
		val:  validationWrite{Result: result, Notes: notes, TS: time.Now().UTC().Format(time.RFC3339)},
	})
}

func (l *Local) RecordCandidate(ctx context.Context, draft types.CandidateDraft) error {
	return l.enqueue(writeOp{kind: "candidate", draft: draft})
}

// TaskGrade has no grading heuristic in the local provider; callers should
// treat ErrUnsupported as "use the default grade".
func (l *Local) TaskGrade(ctx context.Context, prompt string) (Grade, error) {
	return Grade{Level: "L1"}, ErrUnsupported
}

// Info reports the current record count, for the CLI's `db info`.
func (l *Local) Info() (recordCount int, err error) {
	iter := l.db.NewIterator(util.BytesPrefix([]byte(prefixQA)), nil)
	defer iter.Release()
	for iter.Next() {
		recordCount++
	}
	return recordCount, iter.Error()
}

// Export writes every stored QARecord as one JSON line to w, for `db export`.
func (l *Local) Export(w io.Writer) (int, error) {
	iter := l.db.NewIterator(util.BytesPrefix([]byte(prefixQA)), nil)
	defer iter.Release()

	enc := json.NewEncoder(w)
	count := 0
	for iter.Next() {
		var rec types.QARecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue
		}
		if err := enc.Encode(rec); err != nil {
			return count, fmt.Errorf("%w: encoding qa_id %s: %v", types.ErrIO, rec.QAID, err)
		}
		count++
	}
	return count, iter.Error()
}

// Import reads one JSON-encoded QARecord per line from r and persists each,
// for `db import`. Existing records with the same qa_id are overwritten.
func (l *Local) Import(r io.Reader) (int, error) {
	dec := json.NewDecoder(r)
	count := 0
	for dec.More() {
		var rec types.QARecord
		if err := dec.Decode(&rec); err != nil {
			return count, fmt.Errorf("%w: decoding record %d: %v", types.ErrIO, count+1, err)
		}
		if rec.QAID == "" {
			rec.QAID = uuid.New().String()
		}
		l.putQA(rec)
		count++
	}
	return count, nil
}

func (l *Local) Close() error {
	l.closeMu.Lock()
	defer l.closeMu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return nil // actual db.Close() happens in Run() on context cancellation
}

var _ Facade = (*Local)(nil)
