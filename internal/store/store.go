// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package store persists trials, their LLM-generated tags, and the
// processed-trials ledger in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/trial-search/pkg/types"
)

// Store manages the trial tag SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at path and ensures the schema
// exists.
func Open(cfg types.StoreConfig) (*Store, error) {
	path := cfg.Path
	if path == "" {
		path = "trials.db"
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS trials (
			nct_id TEXT PRIMARY KEY,
			title TEXT,
			official_title TEXT,
			brief_summary TEXT,
			detailed_description TEXT,
			conditions TEXT,
			interventions TEXT,
			eligibility_criteria TEXT,
			phase TEXT,
			study_type TEXT,
			status TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS condition_tags (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS mechanism_tags (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS treatment_targets (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			target_type TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS trial_conditions (
			nct_id TEXT NOT NULL REFERENCES trials(nct_id),
			tag_id INTEGER NOT NULL REFERENCES condition_tags(id),
			relevance_score INTEGER NOT NULL,
			display_name TEXT,
			PRIMARY KEY (nct_id, tag_id)
		)`,
		`CREATE TABLE IF NOT EXISTS trial_mechanisms (
			nct_id TEXT NOT NULL REFERENCES trials(nct_id),
			tag_id INTEGER NOT NULL REFERENCES mechanism_tags(id),
			relevance_score INTEGER NOT NULL,
			display_name TEXT,
			PRIMARY KEY (nct_id, tag_id)
		)`,
		`CREATE TABLE IF NOT EXISTS trial_targets (
			nct_id TEXT NOT NULL REFERENCES trials(nct_id),
			target_id INTEGER NOT NULL REFERENCES treatment_targets(id),
			PRIMARY KEY (nct_id, target_id)
		)`,
		`CREATE TABLE IF NOT EXISTS trial_stages (
			nct_id TEXT NOT NULL REFERENCES trials(nct_id),
			stage TEXT NOT NULL,
			relevance_score INTEGER NOT NULL,
			PRIMARY KEY (nct_id, stage)
		)`,
		`CREATE TABLE IF NOT EXISTS trial_eligibility (
			nct_id TEXT PRIMARY KEY REFERENCES trials(nct_id),
			summary TEXT,
			inclusion_tags TEXT,
			exclusion_tags TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS trial_countries (
			nct_id TEXT NOT NULL REFERENCES trials(nct_id),
			country TEXT NOT NULL,
			remote_option INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (nct_id, country)
		)`,
		`CREATE TABLE IF NOT EXISTS processed_trials (
			nct_id TEXT PRIMARY KEY,
			processed_at TEXT NOT NULL,
			successfully_processed INTEGER NOT NULL,
			processing_version INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trial_conditions_tag ON trial_conditions(tag_id)`,
		`CREATE INDEX IF NOT EXISTS idx_trial_mechanisms_tag ON trial_mechanisms(tag_id)`,
		`CREATE INDEX IF NOT EXISTS idx_trial_targets_target ON trial_targets(target_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// UpsertTrial inserts or replaces the raw trial record. List fields are
// stored JSON-encoded.
func (s *Store) UpsertTrial(ctx context.Context, trial types.RawTrial) error {
	conditionsJSON, _ := json.Marshal(trial.Conditions)
	interventionsJSON, _ := json.Marshal(trial.Interventions)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trials (nct_id, title, official_title, brief_summary, detailed_description,
			conditions, interventions, eligibility_criteria, phase, study_type, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(nct_id) DO UPDATE SET
			title=excluded.title, official_title=excluded.official_title,
			brief_summary=excluded.brief_summary, detailed_description=excluded.detailed_description,
			conditions=excluded.conditions, interventions=excluded.interventions,
			eligibility_criteria=excluded.eligibility_criteria, phase=excluded.phase,
			study_type=excluded.study_type, status=excluded.status`,
		trial.NCTID, trial.Title, trial.OfficialTitle, trial.BriefSummary, trial.DetailedDescription,
		string(conditionsJSON), string(interventionsJSON), trial.EligibilityCriteria,
		trial.Phase, trial.StudyType, trial.Status,
	)
	if err != nil {
		return fmt.Errorf("upserting trial %s: %w", trial.NCTID, err)
	}
	return nil
}

// SaveTagRecord writes one trial's validated tags in a single transaction.
// Existing join rows for the trial are replaced wholesale: a TagRecord is
// committed whole or not at all, never merged with a previous tagging.
func (s *Store) SaveTagRecord(ctx context.Context, nctID string, rec *types.TagRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"trial_conditions", "trial_mechanisms", "trial_targets", "trial_stages", "trial_countries"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE nct_id = ?`, nctID); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM trial_eligibility WHERE nct_id = ?`, nctID); err != nil {
		return fmt.Errorf("clearing trial_eligibility: %w", err)
	}

	if err := saveScoredTags(ctx, tx, nctID, rec.ConditionTags, "condition_tags", "trial_conditions"); err != nil {
		return err
	}
	if err := saveScoredTags(ctx, tx, nctID, rec.MechanismTags, "mechanism_tags", "trial_mechanisms"); err != nil {
		return err
	}

	for _, target := range rec.TreatmentTargets {
		var targetID int64
		err := tx.QueryRowContext(ctx,
			`INSERT INTO treatment_targets (name, target_type) VALUES (?, ?)
			 ON CONFLICT(name) DO UPDATE SET target_type=excluded.target_type
			 RETURNING id`,
			normalize(target.Name), string(target.Type),
		).Scan(&targetID)
		if err != nil {
			return fmt.Errorf("upserting target %q: %w", target.Name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO trial_targets (nct_id, target_id) VALUES (?, ?)`,
			nctID, targetID,
		); err != nil {
			return fmt.Errorf("linking target %q: %w", target.Name, err)
		}
	}

	for _, stage := range types.Stages {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO trial_stages (nct_id, stage, relevance_score) VALUES (?, ?, ?)`,
			nctID, string(stage), rec.StageRelevance[stage],
		); err != nil {
			return fmt.Errorf("saving stage %s: %w", stage, err)
		}
	}

	inclusionJSON, _ := json.Marshal(rec.InclusionTags)
	exclusionJSON, _ := json.Marshal(rec.ExclusionTags)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO trial_eligibility (nct_id, summary, inclusion_tags, exclusion_tags)
		 VALUES (?, ?, ?, ?)`,
		nctID, rec.EligibilitySummary, string(inclusionJSON), string(exclusionJSON),
	); err != nil {
		return fmt.Errorf("saving eligibility: %w", err)
	}

	for _, country := range rec.Countries {
		remote := 0
		if country.RemoteOption {
			remote = 1
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO trial_countries (nct_id, country, remote_option) VALUES (?, ?, ?)`,
			nctID, country.Name, remote,
		); err != nil {
			return fmt.Errorf("saving country %q: %w", country.Name, err)
		}
	}

	return tx.Commit()
}

// saveScoredTags upserts the tag rows and join rows for one scored tag list.
// Tag rows are keyed by normalized name; the join row keeps the original
// display casing alongside the score.
func saveScoredTags(ctx context.Context, tx *sql.Tx, nctID string, tags []types.ScoredTag, tagTable, joinTable string) error {
	for _, tag := range tags {
		var tagID int64
		err := tx.QueryRowContext(ctx,
			`INSERT INTO `+tagTable+` (name) VALUES (?)
			 ON CONFLICT(name) DO UPDATE SET name=excluded.name
			 RETURNING id`,
			normalize(tag.Name),
		).Scan(&tagID)
		if err != nil {
			return fmt.Errorf("upserting tag %q in %s: %w", tag.Name, tagTable, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO `+joinTable+` (nct_id, tag_id, relevance_score, display_name)
			 VALUES (?, ?, ?, ?)`,
			nctID, tagID, tag.Relevance, tag.Name,
		); err != nil {
			return fmt.Errorf("linking tag %q in %s: %w", tag.Name, joinTable, err)
		}
	}
	return nil
}

// IsProcessed reports whether the trial has a processing record at the
// given version or newer. Failed attempts count too: a trial whose model
// call keeps failing must not be re-sent on every rerun, so only a version
// bump or an explicit force retries it.
func (s *Store) IsProcessed(ctx context.Context, nctID string, version int) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM processed_trials
		 WHERE nct_id = ? AND processing_version >= ?`,
		nctID, version,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("querying processed state for %s: %w", nctID, err)
	}
	return n > 0, nil
}

// MarkProcessed records the outcome of processing a trial at a version.
func (s *Store) MarkProcessed(ctx context.Context, nctID string, version int, success bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO processed_trials (nct_id, processed_at, successfully_processed, processing_version)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(nct_id) DO UPDATE SET
			processed_at=excluded.processed_at,
			successfully_processed=excluded.successfully_processed,
			processing_version=excluded.processing_version`,
		nctID, time.Now().UTC().Format(time.RFC3339), success, version,
	)
	if err != nil {
		return fmt.Errorf("marking %s processed: %w", nctID, err)
	}
	return nil
}

// UnprocessedTrials returns up to limit stored trials with no processing
// record at the given version, in insertion order. Failed marks hide the
// trial too, matching IsProcessed. A non-positive limit means no limit.
func (s *Store) UnprocessedTrials(ctx context.Context, limit, version int) ([]types.RawTrial, error) {
	if limit <= 0 {
		limit = -1 // SQLite treats a negative LIMIT as unbounded
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.nct_id, t.title, t.official_title, t.brief_summary, t.detailed_description,
			t.conditions, t.interventions, t.eligibility_criteria, t.phase, t.study_type, t.status
		 FROM trials t
		 LEFT JOIN processed_trials pt
			ON t.nct_id = pt.nct_id AND pt.processing_version >= ?
		 WHERE pt.nct_id IS NULL
		 ORDER BY t.rowid
		 LIMIT ?`,
		version, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying unprocessed trials: %w", err)
	}
	defer rows.Close()

	var trials []types.RawTrial
	for rows.Next() {
		var trial types.RawTrial
		var conditionsJSON, interventionsJSON string
		if err := rows.Scan(&trial.NCTID, &trial.Title, &trial.OfficialTitle, &trial.BriefSummary,
			&trial.DetailedDescription, &conditionsJSON, &interventionsJSON,
			&trial.EligibilityCriteria, &trial.Phase, &trial.StudyType, &trial.Status); err != nil {
			return nil, fmt.Errorf("scanning trial row: %w", err)
		}
		json.Unmarshal([]byte(conditionsJSON), &trial.Conditions)
		json.Unmarshal([]byte(interventionsJSON), &trial.Interventions)
		trials = append(trials, trial)
	}
	return trials, rows.Err()
}

// Stats summarizes the store contents.
type Stats struct {
	Trials        int `json:"trials" yaml:"trials"`
	Processed     int `json:"processed" yaml:"processed"`
	Failed        int `json:"failed" yaml:"failed"`
	ConditionTags int `json:"condition_tags" yaml:"condition_tags"`
	MechanismTags int `json:"mechanism_tags" yaml:"mechanism_tags"`
	Targets       int `json:"treatment_targets" yaml:"treatment_targets"`
}

// CollectStats counts rows across the main tables.
func (s *Store) CollectStats(ctx context.Context) (Stats, error) {
	var stats Stats
	counts := []struct {
		query string
		dest  *int
	}{
		{`SELECT count(*) FROM trials`, &stats.Trials},
		{`SELECT count(*) FROM processed_trials WHERE successfully_processed = 1`, &stats.Processed},
		{`SELECT count(*) FROM processed_trials WHERE successfully_processed = 0`, &stats.Failed},
		{`SELECT count(*) FROM condition_tags`, &stats.ConditionTags},
		{`SELECT count(*) FROM mechanism_tags`, &stats.MechanismTags},
		{`SELECT count(*) FROM treatment_targets`, &stats.Targets},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return Stats{}, fmt.Errorf("collecting stats: %w", err)
		}
	}
	return stats, nil
}

// normalize is the canonical tag key form: lowercase, trimmed. It matches
// the parser's dedup key so a tag name maps to one row regardless of the
// casing the model produced.
func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
