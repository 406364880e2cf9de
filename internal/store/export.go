// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/trial-search/pkg/types"
)

// ExportEntry is one tagged trial with its full tag record, the shape
// downstream search indexing consumes.
type ExportEntry struct {
	NCTID  string           `json:"nct_id" yaml:"nct_id"`
	Title  string           `json:"title" yaml:"title"`
	Phase  string           `json:"phase" yaml:"phase"`
	Status string           `json:"status" yaml:"status"`
	Tags   *types.TagRecord `json:"tags" yaml:"tags"`
}

// ExportYAML writes every successfully tagged trial to path as YAML.
func (s *Store) ExportYAML(ctx context.Context, path string) error {
	entries, err := s.exportEntries(ctx)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshaling YAML: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ExportJSON writes every successfully tagged trial to path as JSON.
func (s *Store) ExportJSON(ctx context.Context, path string) error {
	entries, err := s.exportEntries(ctx)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func (s *Store) exportEntries(ctx context.Context) ([]ExportEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.nct_id, t.title, t.phase, t.status
		 FROM trials t
		 JOIN processed_trials pt ON t.nct_id = pt.nct_id
		 WHERE pt.successfully_processed = 1
		 ORDER BY t.nct_id`)
	if err != nil {
		return nil, fmt.Errorf("querying tagged trials: %w", err)
	}
	defer rows.Close()

	var entries []ExportEntry
	for rows.Next() {
		var e ExportEntry
		if err := rows.Scan(&e.NCTID, &e.Title, &e.Phase, &e.Status); err != nil {
			return nil, fmt.Errorf("scanning trial row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range entries {
		rec, err := s.TagRecord(ctx, entries[i].NCTID)
		if err != nil {
			return nil, err
		}
		entries[i].Tags = rec
	}
	return entries, nil
}

// TagRecord reassembles the stored tag record for one trial.
func (s *Store) TagRecord(ctx context.Context, nctID string) (*types.TagRecord, error) {
	rec := &types.TagRecord{StageRelevance: make(map[types.Stage]int, len(types.Stages))}

	var err error
	rec.ConditionTags, err = s.scoredTags(ctx, nctID, "condition_tags", "trial_conditions")
	if err != nil {
		return nil, err
	}
	rec.MechanismTags, err = s.scoredTags(ctx, nctID, "mechanism_tags", "trial_mechanisms")
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT tt.name, tt.target_type
		 FROM trial_targets jt JOIN treatment_targets tt ON jt.target_id = tt.id
		 WHERE jt.nct_id = ? ORDER BY tt.name`, nctID)
	if err != nil {
		return nil, fmt.Errorf("querying targets for %s: %w", nctID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var target types.TreatmentTarget
		var targetType string
		if err := rows.Scan(&target.Name, &targetType); err != nil {
			return nil, fmt.Errorf("scanning target row: %w", err)
		}
		target.Type = types.TargetType(targetType)
		rec.TreatmentTargets = append(rec.TreatmentTargets, target)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	stageRows, err := s.db.QueryContext(ctx,
		`SELECT stage, relevance_score FROM trial_stages WHERE nct_id = ?`, nctID)
	if err != nil {
		return nil, fmt.Errorf("querying stages for %s: %w", nctID, err)
	}
	defer stageRows.Close()
	for stageRows.Next() {
		var stage string
		var score int
		if err := stageRows.Scan(&stage, &score); err != nil {
			return nil, fmt.Errorf("scanning stage row: %w", err)
		}
		rec.StageRelevance[types.Stage(stage)] = score
	}
	if err := stageRows.Err(); err != nil {
		return nil, err
	}

	var inclusionJSON, exclusionJSON string
	err = s.db.QueryRowContext(ctx,
		`SELECT summary, inclusion_tags, exclusion_tags FROM trial_eligibility WHERE nct_id = ?`,
		nctID,
	).Scan(&rec.EligibilitySummary, &inclusionJSON, &exclusionJSON)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("querying eligibility for %s: %w", nctID, err)
	}
	json.Unmarshal([]byte(inclusionJSON), &rec.InclusionTags)
	json.Unmarshal([]byte(exclusionJSON), &rec.ExclusionTags)

	countryRows, err := s.db.QueryContext(ctx,
		`SELECT country, remote_option FROM trial_countries WHERE nct_id = ? ORDER BY country`, nctID)
	if err != nil {
		return nil, fmt.Errorf("querying countries for %s: %w", nctID, err)
	}
	defer countryRows.Close()
	for countryRows.Next() {
		var c types.CountryAvailability
		var remote int
		if err := countryRows.Scan(&c.Name, &remote); err != nil {
			return nil, fmt.Errorf("scanning country row: %w", err)
		}
		c.RemoteOption = remote != 0
		rec.Countries = append(rec.Countries, c)
	}
	if err := countryRows.Err(); err != nil {
		return nil, err
	}

	return rec, nil
}

// scoredTags loads one scored tag list, preferring the display casing saved
// with the join row.
func (s *Store) scoredTags(ctx context.Context, nctID, tagTable, joinTable string) ([]types.ScoredTag, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT COALESCE(NULLIF(jt.display_name, ''), tt.name), jt.relevance_score
		 FROM `+joinTable+` jt JOIN `+tagTable+` tt ON jt.tag_id = tt.id
		 WHERE jt.nct_id = ? ORDER BY jt.relevance_score DESC, tt.name`, nctID)
	if err != nil {
		return nil, fmt.Errorf("querying %s for %s: %w", joinTable, nctID, err)
	}
	defer rows.Close()

	var tags []types.ScoredTag
	for rows.Next() {
		var tag types.ScoredTag
		if err := rows.Scan(&tag.Name, &tag.Relevance); err != nil {
			return nil, fmt.Errorf("scanning tag row: %w", err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}
