// Package sync coordinates concurrent, cancelable, progress-reporting
// synchronization runs across the registered provider adapters. Each
// (source, kind) pair runs as an isolated job: one provider's outage never
// blocks or fails the others, and a denied preference is a successful
// skip, not an error.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dealview/contactsync/internal/contact"
	"github.com/dealview/contactsync/internal/prefs"
	"github.com/dealview/contactsync/internal/provider"
	"github.com/dealview/contactsync/internal/store"
)

// Status is a job's position in the pending → running → terminal machine.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Terminal reports whether a status is final.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusSkipped
}

// Job is the snapshot of one (source, kind) sync within a run. Err is set
// only for StatusFailed; SkipReason only for StatusSkipped.
type Job struct {
	Source     contact.Source
	Kind       prefs.Kind
	Status     Status
	Progress   float64
	Records    int
	StartedAt  time.Time
	FinishedAt time.Time
	SkipReason string
	Err        error
}

// Report summarizes a completed run: every requested job in a terminal
// state.
type Report struct {
	RunID      string
	UserID     string
	StartedAt  time.Time
	FinishedAt time.Time
	Jobs       []Job
}

// Failed returns the jobs that ended in StatusFailed.
func (r *Report) Failed() []Job {
	var out []Job

	for _, j := range r.Jobs {
		if j.Status == StatusFailed {
			out = append(out, j)
		}
	}

	return out
}

// Records returns the total records processed across all jobs.
func (r *Report) Records() int {
	total := 0
	for _, j := range r.Jobs {
		total += j.Records
	}

	return total
}

// Config holds the collaborators an Orchestrator needs. OnProgress, when
// set, receives the monotonically non-decreasing aggregate progress of
// each run.
type Config struct {
	Store      *store.Store
	Gate       *prefs.Gate
	Registry   *provider.Registry
	Events     *Broadcaster
	Logger     *slog.Logger
	OnProgress func(runID string, percent float64)

	// MaxConcurrent bounds simultaneously-running jobs. Zero means no
	// bound; sources are independent so there is no ordering constraint.
	MaxConcurrent int
}

// Orchestrator runs sync requests. Safe for concurrent use; an in-flight
// (user, source, kind) job suppresses duplicate requests for the same key.
type Orchestrator struct {
	cfg    Config
	logger *slog.Logger

	mu       gosync.Mutex
	inflight map[inflightKey]struct{}
}

type inflightKey struct {
	userID string
	source contact.Source
	kind   prefs.Kind
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		cfg:      cfg,
		logger:   logger,
		inflight: make(map[inflightKey]struct{}),
	}
}

// RequestSync starts a run covering every registered adapter for the
// requested sources and returns immediately. Job failures never propagate
// out of the run: the caller learns about them from the report. The run is
// canceled by handle.Cancel or by ctx; partial results already persisted
// remain, because re-sync is idempotent upsert-by-identity.
func (o *Orchestrator) RequestSync(ctx context.Context, userID string, sources []contact.Source) (*RunHandle, error) {
	adapters := o.cfg.Registry.ForSources(sources)
	if len(adapters) == 0 {
		return nil, fmt.Errorf("sync: no adapters registered for requested sources")
	}

	runCtx, cancel := context.WithCancel(ctx)

	handle := &RunHandle{
		ID:     uuid.NewString(),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	started := time.Now()

	jobs := make([]*jobState, 0, len(adapters))
	var accepted []*acceptedJob

	for _, a := range adapters {
		js := &jobState{job: Job{
			Source: a.Source(),
			Kind:   a.Kind(),
			Status: StatusPending,
		}}
		jobs = append(jobs, js)

		// Gate first: a disabled source is a deliberate, successful skip
		// with immediate full progress, never an error.
		if !o.cfg.Gate.IsEnabled(runCtx, userID, a.Kind(), a.PrefKey()) {
			js.skip("disabled by preference")
			continue
		}

		// Re-entrancy: one underlying adapter invocation per in-flight
		// key, so duplicate requests cannot race writes to the store.
		if !o.claim(userID, a.Source(), a.Kind()) {
			js.skip("already in progress")
			continue
		}

		accepted = append(accepted, &acceptedJob{adapter: a, state: js})
	}

	handle.jobs = jobs

	g := &errgroup.Group{}
	if o.cfg.MaxConcurrent > 0 {
		g.SetLimit(o.cfg.MaxConcurrent)
	}

	for _, aj := range accepted {
		g.Go(func() error {
			defer o.release(userID, aj.adapter.Source(), aj.adapter.Kind())
			o.runJob(runCtx, userID, aj, handle)

			return nil
		})
	}

	go func() {
		// Errors never surface here; runJob contains them per job.
		_ = g.Wait()
		cancel()

		report := &Report{
			RunID:      handle.ID,
			UserID:     userID,
			StartedAt:  started,
			FinishedAt: time.Now(),
		}

		for _, js := range jobs {
			report.Jobs = append(report.Jobs, js.snapshot())
		}

		handle.finish(report)
		o.reportProgress(handle)

		o.logger.Info("sync run complete",
			slog.String("run_id", handle.ID),
			slog.String("user_id", userID),
			slog.Int("jobs", len(report.Jobs)),
			slog.Int("failed", len(report.Failed())),
			slog.Int("records", report.Records()),
		)

		if o.cfg.Events != nil {
			o.cfg.Events.Publish(Event{
				RunID:       handle.ID,
				UserID:      userID,
				CompletedAt: report.FinishedAt,
			})
		}
	}()

	return handle, nil
}

// acceptedJob pairs an adapter with its job state for the worker pool.
type acceptedJob struct {
	adapter provider.Adapter
	state   *jobState
}

// runJob executes one adapter fetch with panic containment, persisting
// records as they are emitted so a canceled job keeps its partial results.
func (o *Orchestrator) runJob(ctx context.Context, userID string, aj *acceptedJob, handle *RunHandle) {
	js := aj.state
	js.start()
	o.reportProgress(handle)

	logger := o.logger.With(
		slog.String("source", aj.adapter.Source().String()),
		slog.String("kind", string(aj.adapter.Kind())),
		slog.String("user_id", userID),
	)

	defer func() {
		if r := recover(); r != nil {
			js.fail(fmt.Errorf("sync: panic in %s/%s adapter: %v", aj.adapter.Source(), aj.adapter.Kind(), r))
			logger.Error("adapter panicked", slog.Any("panic", r))
		}
	}()

	result, err := o.fetchAndPersist(ctx, userID, aj, handle)
	if err != nil {
		js.fail(err)
		logger.Warn("source sync failed", slog.String("error", err.Error()))

		return
	}

	if aj.adapter.Incremental() && result.NewCursor != "" {
		err := o.cfg.Store.SaveCursor(ctx, userID, aj.adapter.Source(), string(aj.adapter.Kind()), result.NewCursor)
		if err != nil {
			// The fetch itself succeeded; a lost cursor only means the
			// next sync re-fetches more than it needed to.
			logger.Warn("saving cursor failed", slog.String("error", err.Error()))
		}
	}

	js.succeed(result.Records)
	o.reportProgress(handle)
	logger.Debug("source sync succeeded", slog.Int("records", result.Records))
}

// fetchAndPersist wires the adapter's emit stream into the store. Direct
// records upsert into their partition (or soft-delete on removal);
// inferred records become communication sightings.
func (o *Orchestrator) fetchAndPersist(ctx context.Context, userID string, aj *acceptedJob, handle *RunHandle) (*provider.FetchResult, error) {
	cursor := ""

	if aj.adapter.Incremental() {
		var err error

		cursor, err = o.cfg.Store.GetCursor(ctx, userID, aj.adapter.Source(), string(aj.adapter.Kind()))
		if err != nil {
			return nil, err
		}
	}

	req := provider.FetchRequest{
		UserID: userID,
		Cursor: cursor,
		Progress: func(pct float64) {
			aj.state.progress(pct)
			o.reportProgress(handle)
		},
	}

	if aj.adapter.Kind() == prefs.KindDirect {
		part := partitionFor(aj.adapter.Source())
		req.Emit = func(rec provider.RawRecord) error {
			if rec.Deleted {
				return o.cfg.Store.MarkContactDeleted(ctx, userID, aj.adapter.Source(), rec.ExternalID)
			}

			c := provider.ToContact(userID, aj.adapter.Source(), part, rec)

			return o.cfg.Store.UpsertContact(ctx, &c)
		}
	} else {
		req.Emit = func(rec provider.RawRecord) error {
			identity := provider.Identity(rec)
			if identity == "" {
				return nil
			}

			occurred := rec.LastActivityAt
			if occurred.IsZero() {
				occurred = time.Now()
			}

			return o.cfg.Store.RecordCommunication(ctx, store.Communication{
				UserID:      userID,
				Source:      aj.adapter.Source(),
				Identity:    identity,
				DisplayName: rec.Name,
				OccurredAt:  occurred,
			})
		}
	}

	return aj.adapter.Fetch(ctx, req)
}

// partitionFor maps a direct source to its stored partition: the local
// address book is an explicit import, cloud contact folders are mirrored
// shadows.
func partitionFor(src contact.Source) contact.Partition {
	switch src {
	case contact.SourceManual, contact.SourceImported, contact.SourceContactsApp:
		return contact.PartitionImported
	default:
		return contact.PartitionExternal
	}
}

func (o *Orchestrator) claim(userID string, src contact.Source, kind prefs.Kind) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	key := inflightKey{userID: userID, source: src, kind: kind}
	if _, busy := o.inflight[key]; busy {
		return false
	}

	o.inflight[key] = struct{}{}

	return true
}

func (o *Orchestrator) release(userID string, src contact.Source, kind prefs.Kind) {
	o.mu.Lock()
	defer o.mu.Unlock()

	delete(o.inflight, inflightKey{userID: userID, source: src, kind: kind})
}

// reportProgress pushes the aggregate to the OnProgress callback.
// Compute and delivery happen under one lock so the delivered sequence
// never moves backwards even when jobs report concurrently.
func (o *Orchestrator) reportProgress(handle *RunHandle) {
	if o.cfg.OnProgress == nil {
		return
	}

	handle.broadcastMu.Lock()
	defer handle.broadcastMu.Unlock()

	o.cfg.OnProgress(handle.ID, handle.Progress())
}
