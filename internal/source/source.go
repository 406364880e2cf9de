// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package source supplies raw trial records to the tagging pipeline, either
// from a downloaded JSON file or from the trial store.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/pdiddy/trial-search/pkg/types"
)

// envelope is the on-disk shape written by the download command: results
// wrapped with the query that produced them. A bare JSON array of trials
// is also accepted.
type envelope struct {
	Query     string           `json:"query,omitempty"`
	Timestamp string           `json:"timestamp,omitempty"`
	Results   []types.RawTrial `json:"results"`
}

// FromFile reads trials from a JSON file. The file may hold either a bare
// array of trial records or an object with a "results" key. Trials with a
// malformed or duplicate NCT ID are rejected: the identifier keys every
// downstream table, so a bad batch fails loudly up front.
func FromFile(path string) ([]types.RawTrial, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading trials file: %w", err)
	}

	var trials []types.RawTrial
	if err := json.Unmarshal(data, &trials); err != nil {
		var env envelope
		if envErr := json.Unmarshal(data, &env); envErr != nil || env.Results == nil {
			return nil, fmt.Errorf("parsing %s: expected a trial array or an object with a \"results\" key", path)
		}
		trials = env.Results
	}

	return validate(trials)
}

// validate enforces the batch invariants: every NCT ID well-formed and
// unique within the batch.
func validate(trials []types.RawTrial) ([]types.RawTrial, error) {
	seen := make(map[string]bool, len(trials))
	for i, trial := range trials {
		if !types.ValidNCTID(trial.NCTID) {
			return nil, fmt.Errorf("trial %d: malformed NCT ID %q", i, trial.NCTID)
		}
		if seen[trial.NCTID] {
			return nil, fmt.Errorf("trial %d: duplicate NCT ID %s", i, trial.NCTID)
		}
		seen[trial.NCTID] = true
	}
	return trials, nil
}

// Lister is the store surface needed to pull pending trials.
type Lister interface {
	UnprocessedTrials(ctx context.Context, limit, version int) ([]types.RawTrial, error)
}

// FromStore pulls up to limit trials that have no successful processing
// record at the given version. Stored trials already passed validation on
// the way in.
func FromStore(ctx context.Context, l Lister, limit, version int) ([]types.RawTrial, error) {
	return l.UnprocessedTrials(ctx, limit, version)
}

// Cap returns at most max trials, or all of them when max <= 0.
func Cap(trials []types.RawTrial, max int) []types.RawTrial {
	if max > 0 && len(trials) > max {
		return trials[:max]
	}
	return trials
}
