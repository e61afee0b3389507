// Package orchestrator implements the State Machine / Orchestrator (C6):
// the seven explicit states driving a document from Fresh through analysis,
// translation, validation, to a terminal Finalized/Failed outcome, with
// checkpointing between passes (spec §4.6).
package orchestrator

import (
	"context"
	"fmt"

	"subtrans/internal/analysis"
	"subtrans/internal/model"
	"subtrans/internal/provider"
	"subtrans/internal/scheduler"
	"subtrans/internal/translate"
	"subtrans/internal/validate"
	"subtrans/internal/window"
)

// State names one of the seven states of spec §4.6.
type State int

const (
	StateFresh State = iota
	StateAnalyzed
	StateTranslatingBatch
	StateTranslated
	StateValidated
	StateFinalized
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateFresh:
		return "Fresh"
	case StateAnalyzed:
		return "Analyzed"
	case StateTranslatingBatch:
		return "TranslatingBatch"
	case StateTranslated:
		return "Translated"
	case StateValidated:
		return "Validated"
	case StateFinalized:
		return "Finalized"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Stats accompanies every outcome (spec §4.5 propagation policy).
type Stats struct {
	BatchesIssued   int
	FailedEntryIDs  []int64
	RepairedEntries []int64
}

// Outcome is one of the three shapes the orchestrator ever reports: a
// Finalized document, a Partial one (State == StateFailed with a non-empty
// Document and UnreportedEntryIDs), or a pure Failed reason (Document is
// nil). Recoverable conditions never bubble past this boundary (spec
// §4.5 "Propagation policy").
type Outcome struct {
	State              State
	Document           *model.Document
	Stats              Stats
	UnreportedEntryIDs []int64
	LastError          error
	FailReason         string
}

// Options configures one run. Experimental flags default off per spec §6.
type Options struct {
	EnableAnalysisPass    bool
	EnableValidationPass  bool
	FeedbackInformedRetry bool // flag-gated single repair round per entry
	SummaryStride         int  // entries between rolling-summary refreshes; <= 0 uses 50

	AnalysisOptions  analysis.Options
	PartitionOptions scheduler.PartitionOptions
	WindowSizing     window.Sizing
	ValidateOptions  validate.Options
}

func (o Options) effective() Options {
	if o.SummaryStride <= 0 {
		o.SummaryStride = 50
	}
	return o
}

// Orchestrator drives one document through the full pipeline.
type Orchestrator struct {
	Doc        *model.Document
	Provider   provider.Provider
	Translator *translate.Translator
	Scheduler  *scheduler.Scheduler
	Opts       Options

	onState func(State)
}

// OnStateChange registers a callback invoked on every state transition, for
// diagnostics (internal/diag wires this to structured logging).
func (o *Orchestrator) OnStateChange(fn func(State)) { o.onState = fn }

func (o *Orchestrator) transition(s State) {
	if o.onState != nil {
		o.onState(s)
	}
}

// Run drives the document from Fresh to a terminal outcome.
func (o *Orchestrator) Run(ctx context.Context) Outcome {
	opts := o.Opts.effective()
	o.transition(StateFresh)

	if opts.EnableAnalysisPass {
		analysis.Run(ctx, o.Provider, o.Doc, opts.AnalysisOptions)
	}
	o.transition(StateAnalyzed)

	batches := scheduler.Partition(o.Doc, opts.PartitionOptions)
	batches = o.Scheduler.ResumeFrom(ctx, batches)
	if len(batches) == 0 {
		o.transition(StateFinalized)
		return Outcome{State: StateFinalized, Document: o.Doc, Stats: Stats{}}
	}

	o.transition(StateTranslatingBatch)
	translatedSinceSummary := 0
	var stats Stats
	stats.BatchesIssued = len(batches)

	outcomes, err := o.Scheduler.Run(ctx, batches, func(ctx context.Context, b scheduler.Batch, attempt int) error {
		terr := o.Translator.Translate(ctx, b, attempt)
		if terr == nil && opts.SummaryStride > 0 {
			translatedSinceSummary += int(b.ToID-b.FromID) + 1
			if translatedSinceSummary >= opts.SummaryStride {
				translatedSinceSummary = 0
				_ = translate.RefreshSummary(ctx, o.Provider, o.Doc, recentTranslated(o.Doc, b.ToID, opts.SummaryStride))
			}
		}
		return terr
	})
	if err != nil {
		o.transition(StateFailed)
		return Outcome{State: StateFailed, FailReason: err.Error(), LastError: err}
	}

	var failedEntries []int64
	for _, oc := range outcomes {
		if oc.Err == nil {
			continue
		}
		for id := oc.Batch.FromID; id <= oc.Batch.ToID; id++ {
			if e, eerr := o.Doc.Entry(id); eerr == nil && !e.HasTranslation() {
				failedEntries = append(failedEntries, id)
			}
		}
	}
	stats.FailedEntryIDs = failedEntries

	if ctx.Err() != nil || len(failedEntries) > 0 {
		o.transition(StateFailed)
		return Outcome{
			State:              StateFailed,
			Document:           o.Doc,
			Stats:              stats,
			UnreportedEntryIDs: failedEntries,
			LastError:          firstErr(outcomes),
		}
	}
	o.transition(StateTranslated)

	if opts.EnableValidationPass {
		findings := validate.Run(ctx, o.Provider, o.Doc, opts.ValidateOptions)
		o.transition(StateValidated)

		if opts.FeedbackInformedRetry {
			for id, reasons := range validate.RepairReasons(findings) {
				if rerr := validate.Repair(ctx, o.Provider, o.Doc, id, opts.WindowSizing, reasons); rerr == nil {
					stats.RepairedEntries = append(stats.RepairedEntries, id)
				}
			}
		}
	}

	o.transition(StateFinalized)
	return Outcome{State: StateFinalized, Document: o.Doc, Stats: stats}
}

func firstErr(outcomes []scheduler.BatchOutcome) error {
	for _, oc := range outcomes {
		if oc.Err != nil {
			return fmt.Errorf("batch %d: %w", oc.Batch.Index, oc.Err)
		}
	}
	return nil
}

func recentTranslated(doc *model.Document, uptoID int64, stride int) []model.Entry {
	var out []model.Entry
	for id := uptoID; id > 0 && int64(len(out)) < int64(stride); id-- {
		e, err := doc.Entry(id)
		if err != nil || !e.HasTranslation() {
			continue
		}
		out = append([]model.Entry{e}, out...)
	}
	return out
}
