// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package tagging drives the per-trial pipeline: build a prompt, call the
// model, validate the response into a TagRecord, and hand the record to
// the store. One trial's failure never aborts the batch; a bad API key does.
package tagging

import (
	"context"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/trial-search/internal/llm"
	"github.com/pdiddy/trial-search/pkg/types"
)

// Store is the persistence surface the orchestrator needs. The SQLite
// implementation lives in internal/store; tests supply fakes.
type Store interface {
	IsProcessed(ctx context.Context, nctID string, version int) (bool, error)
	UpsertTrial(ctx context.Context, trial types.RawTrial) error
	SaveTagRecord(ctx context.Context, nctID string, rec *types.TagRecord) error
	MarkProcessed(ctx context.Context, nctID string, version int, success bool) error
}

// Orchestrator runs tagging batches with bounded concurrency.
type Orchestrator struct {
	client llm.Backend
	store  Store // nil in file-only mode: no skip policy, no persistence
	parser Parser

	concurrency       int
	version           int
	retagOnParseError bool
	force             bool

	// OnTagged, when set, receives every validated record. The process
	// command uses it to collect records for the output file. Called
	// under the orchestrator's lock; keep it cheap.
	OnTagged func(trial types.RawTrial, rec *types.TagRecord)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStore attaches a persistence store, enabling the skip policy and
// per-trial upserts.
func WithStore(s Store) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithForce disables the skip policy so already-processed trials are
// re-tagged.
func WithForce(force bool) Option {
	return func(o *Orchestrator) { o.force = force }
}

// WithScorePolicy overrides the default score coercion policy.
func WithScorePolicy(p ScorePolicy) Option {
	return func(o *Orchestrator) { o.parser = Parser{Policy: p} }
}

// NewOrchestrator builds an orchestrator around a model client.
func NewOrchestrator(client llm.Backend, cfg types.TaggingConfig, opts ...Option) *Orchestrator {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 3
	}
	version := cfg.Version
	if version <= 0 {
		version = 1
	}

	o := &Orchestrator{
		client:            client,
		parser:            Parser{Policy: DefaultScorePolicy()},
		concurrency:       concurrency,
		version:           version,
		retagOnParseError: cfg.RetagOnParseError,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// syncWriter serializes writes from concurrent workers onto one writer.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (sw *syncWriter) Write(p []byte) (int, error) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.w.Write(p)
}

// RunBatch tags every trial, at most the configured concurrency in flight
// at once, and returns the batch outcome. Per-trial progress lines go to w.
//
// Results are persisted trial by trial: an interrupted run loses only its
// in-flight trials, and the skip policy picks the rest up on resumption.
// An authentication failure stops dispatch immediately; trials already in
// flight run to completion on the caller's context, so no model call is
// cut off mid-request and no partially-persisted state is abandoned.
func (o *Orchestrator) RunBatch(ctx context.Context, trials []types.RawTrial, w io.Writer) BatchRun {
	run := BatchRun{Total: len(trials)}
	w = &syncWriter{w: w}
	var mu sync.Mutex
	processed := 0

	var g errgroup.Group
	g.SetLimit(o.concurrency)

	for _, trial := range trials {
		trial := trial
		// Stop dispatching once a fatal error or cancellation has hit.
		mu.Lock()
		aborted := run.Aborted
		mu.Unlock()
		if aborted || ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// The slot may have been granted after an abort landed.
			mu.Lock()
			aborted := run.Aborted
			mu.Unlock()
			if aborted || ctx.Err() != nil {
				return nil
			}

			outcome, rec, err := o.tagOne(ctx, trial, w)

			mu.Lock()
			defer mu.Unlock()
			processed++
			switch outcome {
			case outcomeSkipped:
				run.Skipped++
				fmt.Fprintf(w, "[%d/%d] skipped %s\n", processed, run.Total, trial.NCTID)
			case outcomeTagged:
				run.Succeeded++
				fmt.Fprintf(w, "[%d/%d] tagged  %s (%d condition tags)\n",
					processed, run.Total, trial.NCTID, len(rec.ConditionTags))
				if o.OnTagged != nil {
					o.OnTagged(trial, rec)
				}
			case outcomeFailed:
				run.Failed++
				run.Failures = append(run.Failures, TrialFailure{NCTID: trial.NCTID, Reason: err.Error()})
				if llm.IsFatal(err) && !run.Aborted {
					run.Aborted = true
					run.AbortReason = err.Error()
				}
				fmt.Fprintf(w, "[%d/%d] failed  %s: %v\n", processed, run.Total, trial.NCTID, err)
			}
			return nil
		})
	}

	g.Wait()

	if run.Aborted {
		fmt.Fprintf(w, "batch aborted: %s\n", run.AbortReason)
	} else if ctx.Err() != nil {
		run.Aborted = true
		run.AbortReason = ctx.Err().Error()
	}

	fmt.Fprintf(w, "\nBatch summary: %d tagged, %d skipped, %d failed, %d not attempted (total: %d)\n",
		run.Succeeded, run.Skipped, run.Failed, run.Unattempted(), run.Total)
	return run
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeTagged
	outcomeFailed
)

// tagOne runs the full pipeline for a single trial.
func (o *Orchestrator) tagOne(ctx context.Context, trial types.RawTrial, w io.Writer) (outcome, *types.TagRecord, error) {
	if o.store != nil && !o.force {
		done, err := o.store.IsProcessed(ctx, trial.NCTID, o.version)
		if err != nil {
			return outcomeFailed, nil, fmt.Errorf("checking processed state: %w", err)
		}
		if done {
			return outcomeSkipped, nil, nil
		}
	}

	rec, err := o.tagWithModel(ctx, trial, w)
	if err != nil {
		if o.store != nil && !llm.IsFatal(err) && ctx.Err() == nil {
			if markErr := o.store.MarkProcessed(ctx, trial.NCTID, o.version, false); markErr != nil {
				fmt.Fprintf(w, "warning: %s: recording failure: %v\n", trial.NCTID, markErr)
			}
		}
		return outcomeFailed, nil, err
	}

	if o.store != nil {
		if err := o.persist(ctx, trial, rec); err != nil {
			return outcomeFailed, nil, err
		}
	}

	return outcomeTagged, rec, nil
}

// tagWithModel calls the model and validates the response, re-calling once
// on a validation failure when configured. A parse failure is never retried
// against the same output: re-reading the same bad text cannot succeed, so
// the only retry that makes sense is a fresh completion.
func (o *Orchestrator) tagWithModel(ctx context.Context, trial types.RawTrial, w io.Writer) (*types.TagRecord, error) {
	prompt := BuildPrompt(trial)

	attempts := 1
	if o.retagOnParseError {
		attempts = 2
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		raw, err := o.client.Complete(ctx, prompt)
		if err != nil {
			return nil, fmt.Errorf("model call: %w", err)
		}

		rec, warnings, err := o.parser.Parse(raw)
		for _, warning := range warnings {
			fmt.Fprintf(w, "warning: %s: %s\n", trial.NCTID, warning)
		}
		if err != nil {
			lastErr = err
			continue
		}

		// A trial that lists conditions must come back with condition tags;
		// an empty set means the model ignored the schema.
		if len(trial.Conditions) > 0 && len(rec.ConditionTags) == 0 {
			lastErr = &ParseError{Kind: SchemaViolation, Field: "condition_tags",
				Err: fmt.Errorf("empty for a trial with %d conditions", len(trial.Conditions))}
			continue
		}

		return rec, nil
	}

	return nil, fmt.Errorf("validating model response: %w", lastErr)
}

// persist writes one trial's record and processed mark. Each trial is its
// own transaction inside the store, so a failure here cannot corrupt
// previously committed trials.
func (o *Orchestrator) persist(ctx context.Context, trial types.RawTrial, rec *types.TagRecord) error {
	if err := o.store.UpsertTrial(ctx, trial); err != nil {
		return fmt.Errorf("upserting trial: %w", err)
	}
	if err := o.store.SaveTagRecord(ctx, trial.NCTID, rec); err != nil {
		return fmt.Errorf("saving tags: %w", err)
	}
	if err := o.store.MarkProcessed(ctx, trial.NCTID, o.version, true); err != nil {
		return fmt.Errorf("marking processed: %w", err)
	}
	return nil
}
