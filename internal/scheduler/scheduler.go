// Package scheduler implements the Batch Scheduler (C4): partitions a
// document's entries into batches respecting a character budget, issues
// them with bounded concurrency and ascending order, retries with backoff,
// and checkpoints progress so a restart can skip completed batches
// (spec §4.4).
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"

	"subtrans/internal/model"
	"subtrans/internal/provider"
	"subtrans/internal/session"
)

// Batch is a contiguous, never-split run of entry ids to translate together.
type Batch struct {
	Index  int
	FromID int64
	ToID   int64
}

// PartitionOptions bounds batch size.
type PartitionOptions struct {
	MaxChars int // character budget per batch; entries are never split across batches
	// SceneBoundary, if non-nil, reports whether a scene ends at the given
	// entry id. When set, the partitioner never spans a batch across a
	// scene boundary (scene-aware batching, flag-gated by spec §4.4).
	SceneBoundary func(entryID int64) bool
}

// Partition greedily accumulates untranslated entries into batches bounded
// by MaxChars, never splitting an entry across batches (spec §4.4).
func Partition(doc *model.Document, opts PartitionOptions) []Batch {
	ids := doc.UntranslatedIDs()
	if len(ids) == 0 {
		return nil
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var batches []Batch
	idx := 0
	chars := 0
	var from int64 = -1
	var to int64

	flush := func() {
		if from == -1 {
			return
		}
		batches = append(batches, Batch{Index: idx, FromID: from, ToID: to})
		idx++
		from = -1
		chars = 0
	}

	for _, id := range ids {
		e, err := doc.Entry(id)
		if err != nil {
			continue
		}
		n := len(e.Original)
		atBoundary := opts.SceneBoundary != nil && from != -1 && opts.SceneBoundary(to)
		overBudget := opts.MaxChars > 0 && from != -1 && chars+n > opts.MaxChars
		if atBoundary || overBudget {
			flush()
		}
		if from == -1 {
			from = id
		}
		to = id
		chars += n
	}
	flush()
	return batches
}

// TranslateFunc performs the actual work for one batch (C8: window assembly,
// provider call, response attach). A returned error wrapping a
// *provider.Error drives the scheduler's retry/fatality decision; any other
// error is treated as fatal at the batch level.
type TranslateFunc func(ctx context.Context, b Batch, attempt int) error

// RetryPolicy configures C4's retry rules (spec §4.4).
type RetryPolicy struct {
	BaseDelay    time.Duration // exponential backoff starting point, typical 1s
	MaxDelay     time.Duration // backoff ceiling, typical 60s
	MaxAttempts  int           // attempt count cap for Timeout/Transient, typical 3
}

func (p RetryPolicy) effective() RetryPolicy {
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 60 * time.Second
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	return p
}

// BatchOutcome reports what happened to one batch, for checkpointing and
// for the orchestrator's Partial/Failed reporting.
type BatchOutcome struct {
	Batch Batch
	Err   error // nil on success
}

// Scheduler drives bounded-concurrency dispatch of a batch list.
type Scheduler struct {
	Concurrency int
	Retry       RetryPolicy
	Sessions    *session.Store // optional; nil disables checkpointing
	InputFP     string         // input fingerprint for the sessions row
	OnProgress  func(BatchOutcome)
}

// ResumeFrom drops batches a prior run already completed, per the saved
// checkpoint for s.InputFP (spec §4.4, §8 scenario 6: a restart on the same
// input skips already-covered batches). batches must be in ascending Index
// order, as returned by Partition. A missing Sessions store or checkpoint is
// a no-op: every batch is issued.
func (s *Scheduler) ResumeFrom(ctx context.Context, batches []Batch) []Batch {
	if s.Sessions == nil {
		return batches
	}
	cp, ok, err := s.Sessions.Load(ctx, s.InputFP)
	if err != nil || !ok {
		return batches
	}
	out := make([]Batch, 0, len(batches))
	for _, b := range batches {
		if b.Index > cp.LastBatchIndex {
			out = append(out, b)
		}
	}
	return out
}

// Run issues batches in ascending order with bounded concurrency. Completion
// is unordered (disjoint id ranges commute freely against the document), but
// checkpoints only ever advance to the highest fully-completed prefix, so a
// restart resumes from a safe, contiguous point (spec §4.4, §5).
func (s *Scheduler) Run(ctx context.Context, batches []Batch, fn TranslateFunc) ([]BatchOutcome, error) {
	conc := s.Concurrency
	if conc < 1 {
		conc = 1
	}
	sem := semaphore.NewWeighted(int64(conc))
	retry := s.Retry.effective()

	var mu sync.Mutex
	outcomes := make([]BatchOutcome, len(batches))
	completed := make(map[int]bool, len(batches))
	var firstFatal error
	var wg sync.WaitGroup

	checkpoint := func() {
		if s.Sessions == nil {
			return
		}
		prefix := -1
		for i := 0; i < len(batches); i++ {
			if !completed[i] {
				break
			}
			prefix = i
		}
		if prefix < 0 {
			return
		}
		_ = s.Sessions.Save(ctx, session.Checkpoint{
			InputFingerprint: s.InputFP,
			LastBatchIndex:   batches[prefix].Index,
			UpdatedAt:        time.Now(),
		})
	}

	for i, b := range batches {
		select {
		case <-ctx.Done():
			return outcomes, ctx.Err()
		default:
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			return outcomes, err
		}
		wg.Add(1)
		go func(i int, b Batch) {
			defer wg.Done()
			defer sem.Release(1)
			err := s.runOne(ctx, b, retry, fn)
			mu.Lock()
			outcomes[i] = BatchOutcome{Batch: b, Err: err}
			completed[i] = true
			if err != nil && firstFatal == nil {
				firstFatal = err
			}
			checkpoint()
			mu.Unlock()
			if s.OnProgress != nil {
				s.OnProgress(outcomes[i])
			}
		}(i, b)
	}
	wg.Wait()
	return outcomes, nil
}

// runOne applies the retry policy for a single batch (spec §4.4 "Retry").
func (s *Scheduler) runOne(ctx context.Context, b Batch, retry RetryPolicy, fn TranslateFunc) error {
	invalidRetried := false
	attempt := 0
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retry.BaseDelay
	bo.MaxInterval = retry.MaxDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.1

	for {
		attempt++
		err := fn(ctx, b, attempt)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}

		var perr *provider.Error
		if !errors.As(err, &perr) {
			return err // not a classified provider failure: fatal at batch level
		}

		switch perr.Code {
		case provider.CodeRateLimited:
			delay := perr.RetryAfter
			if delay <= 0 {
				delay = bo.NextBackOff()
			}
			if sleepErr := sleepCtx(ctx, delay); sleepErr != nil {
				return sleepErr
			}
			continue
		case provider.CodeTimeout, provider.CodeTransient:
			if attempt >= retry.MaxAttempts {
				return err
			}
			if sleepErr := sleepCtx(ctx, bo.NextBackOff()); sleepErr != nil {
				return sleepErr
			}
			continue
		case provider.CodeInvalidOutput:
			if !invalidRetried {
				invalidRetried = true
				continue // one immediate retry with a clarifying appendix, composed by C8
			}
			return fmt.Errorf("scheduler: batch %d: %w (surfaced for entry-level repair)", b.Index, err)
		default:
			// Refused, AuthFailed, Cancelled: fatal at the batch level.
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
