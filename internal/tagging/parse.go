// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package tagging

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/pdiddy/trial-search/pkg/types"
)

// ParseErrorKind classifies a response validation failure.
type ParseErrorKind string

const (
	// MalformedJSON means no parseable JSON object was found in the response.
	MalformedJSON ParseErrorKind = "malformed_json"

	// MissingField means a required top-level key was absent.
	MissingField ParseErrorKind = "missing_field"

	// SchemaViolation means a field was present with the wrong shape.
	SchemaViolation ParseErrorKind = "schema_violation"
)

// ParseError reports why a model response could not be validated into a
// TagRecord. Parse failures are per-trial and never abort a batch.
type ParseError struct {
	Kind  ParseErrorKind
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	switch {
	case e.Field != "" && e.Err != nil:
		return fmt.Sprintf("%s: field %q: %v", e.Kind, e.Field, e.Err)
	case e.Field != "":
		return fmt.Sprintf("%s: field %q", e.Kind, e.Field)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *ParseError) Unwrap() error { return e.Err }

// ScorePolicy controls how out-of-shape scores are repaired. The defaults
// follow the prompt's intent (neutral 3 for a garbled tag score, low 1 for
// a stage the model did not mention) but are configuration, not law.
type ScorePolicy struct {
	// DefaultTagScore replaces a missing or non-numeric tag relevance score.
	DefaultTagScore int

	// DefaultStageScore fills a stage key absent from the response.
	DefaultStageScore int
}

// DefaultScorePolicy is the policy used when none is configured.
func DefaultScorePolicy() ScorePolicy {
	return ScorePolicy{DefaultTagScore: 3, DefaultStageScore: 1}
}

// Parser validates raw model output into TagRecords.
type Parser struct {
	Policy ScorePolicy
}

// Parse extracts the JSON payload from raw model output and validates it
// into a TagRecord. The returned warnings describe repairs that did not
// fail the record (clamped scores, dropped stage keys, coerced shapes).
//
// A single bad sub-field never discards an otherwise-useful tagging:
// scores are clamped or defaulted and malformed list entries are skipped.
// Only a missing payload, a missing required key, or a wrongly-typed field
// fails the whole record.
func (p Parser) Parse(raw string) (*types.TagRecord, []string, error) {
	payload, ok := extractJSON(raw)
	if !ok {
		return nil, nil, &ParseError{Kind: MalformedJSON, Err: fmt.Errorf("no JSON object in response")}
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &top); err != nil {
		return nil, nil, &ParseError{Kind: MalformedJSON, Err: err}
	}

	var warnings []string
	rec := &types.TagRecord{}

	conditions, err := p.scoredTags(top, &warnings, "condition_tags", "conditionTags")
	if err != nil {
		return nil, warnings, err
	}
	rec.ConditionTags = conditions

	mechanisms, err := p.scoredTags(top, &warnings, "mechanism_tags", "mechanismTags")
	if err != nil {
		return nil, warnings, err
	}
	rec.MechanismTags = mechanisms

	targets, err := p.treatmentTargets(top, &warnings)
	if err != nil {
		return nil, warnings, err
	}
	rec.TreatmentTargets = targets

	stages, err := p.stageRelevance(top, &warnings)
	if err != nil {
		return nil, warnings, err
	}
	rec.StageRelevance = stages

	summary, err := eligibilitySummary(top)
	if err != nil {
		return nil, warnings, err
	}
	rec.EligibilitySummary = summary

	rec.InclusionTags, err = stringTags(top, &warnings, "inclusion_tags", "inclusionTags", "inclusion_criteria_tags")
	if err != nil {
		return nil, warnings, err
	}
	rec.ExclusionTags, err = stringTags(top, &warnings, "exclusion_tags", "exclusionTags", "exclusion_criteria_tags")
	if err != nil {
		return nil, warnings, err
	}

	rec.Countries, err = countries(top, &warnings)
	if err != nil {
		return nil, warnings, err
	}

	return rec, warnings, nil
}

// extractJSON finds the first top-level JSON object in s by brace-depth
// counting, skipping braces inside string literals. The model sometimes
// wraps its JSON in prose or markdown fences; a naive first-{ to last-}
// slice breaks when trailing prose contains a brace.
func extractJSON(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// field returns the first present key among names. The model drifts between
// snake_case and camelCase spellings; both are accepted.
func field(top map[string]json.RawMessage, names ...string) (json.RawMessage, bool) {
	for _, name := range names {
		if v, ok := top[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// scoredTags decodes one tag list field. Entries may be {"name", "relevance"}
// objects or bare strings (older prompt revisions produced plain lists);
// bare strings take the default score. Duplicate names collapse to the
// higher score, ties keeping the first occurrence.
func (p Parser) scoredTags(top map[string]json.RawMessage, warnings *[]string, names ...string) ([]types.ScoredTag, error) {
	raw, ok := field(top, names...)
	if !ok {
		return nil, &ParseError{Kind: MissingField, Field: names[0]}
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, &ParseError{Kind: SchemaViolation, Field: names[0], Err: fmt.Errorf("expected array: %w", err)}
	}

	tags := make([]types.ScoredTag, 0, len(entries))
	for i, entry := range entries {
		var name string
		score := p.tagScore(nil, names[0], i, warnings)

		var s string
		if err := json.Unmarshal(entry, &s); err == nil {
			name = s
		} else {
			var obj map[string]json.RawMessage
			if err := json.Unmarshal(entry, &obj); err != nil {
				*warnings = append(*warnings, fmt.Sprintf("%s[%d]: unrecognized entry shape, skipped", names[0], i))
				continue
			}
			nameRaw, ok := field(obj, "name", "tag", "condition")
			if !ok || json.Unmarshal(nameRaw, &name) != nil {
				*warnings = append(*warnings, fmt.Sprintf("%s[%d]: entry without name, skipped", names[0], i))
				continue
			}
			scoreRaw, _ := field(obj, "relevance", "relevance_score", "score")
			score = p.tagScore(scoreRaw, names[0], i, warnings)
		}

		if strings.TrimSpace(name) == "" {
			*warnings = append(*warnings, fmt.Sprintf("%s[%d]: empty name, skipped", names[0], i))
			continue
		}
		tags = append(tags, types.ScoredTag{Name: strings.TrimSpace(name), Relevance: score})
	}

	return dedupeScored(tags), nil
}

// tagScore coerces one relevance value. Missing or non-numeric scores take
// the policy default; out-of-range scores are clamped.
func (p Parser) tagScore(raw json.RawMessage, fieldName string, idx int, warnings *[]string) int {
	def := p.Policy.DefaultTagScore
	if def == 0 {
		def = 3
	}
	if raw == nil {
		return def
	}

	n, ok := numeric(raw)
	if !ok {
		*warnings = append(*warnings, fmt.Sprintf("%s[%d]: non-numeric score, defaulted to %d", fieldName, idx, def))
		return def
	}
	return clampScore(n, fieldName, idx, warnings)
}

// numeric decodes a JSON number or numeric string.
func numeric(raw json.RawMessage) (int, bool) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return int(f), true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return n, true
		}
	}
	return 0, false
}

func clampScore(n int, fieldName string, idx int, warnings *[]string) int {
	switch {
	case n < types.MinRelevance:
		*warnings = append(*warnings, fmt.Sprintf("%s[%d]: score %d below range, clamped", fieldName, idx, n))
		return types.MinRelevance
	case n > types.MaxRelevance:
		*warnings = append(*warnings, fmt.Sprintf("%s[%d]: score %d above range, clamped", fieldName, idx, n))
		return types.MaxRelevance
	}
	return n
}

// dedupeScored collapses tags sharing a normalized name, keeping the entry
// with the higher score. Ties keep the first occurrence; output order
// follows first appearance.
func dedupeScored(tags []types.ScoredTag) []types.ScoredTag {
	index := make(map[string]int, len(tags))
	out := make([]types.ScoredTag, 0, len(tags))
	for _, tag := range tags {
		key := NormalizeTagName(tag.Name)
		if at, seen := index[key]; seen {
			if tag.Relevance > out[at].Relevance {
				out[at] = tag
			}
			continue
		}
		index[key] = len(out)
		out = append(out, tag)
	}
	return out
}

// NormalizeTagName lowercases and trims a tag name. The store keys tag rows
// by this form, so "Diabetes" and " diabetes " land on the same row.
func NormalizeTagName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// treatmentTargets decodes the treatment_targets field. Unknown target
// types coerce to "other"; bare strings become untyped targets.
func (p Parser) treatmentTargets(top map[string]json.RawMessage, warnings *[]string) ([]types.TreatmentTarget, error) {
	raw, ok := field(top, "treatment_targets", "treatmentTargets", "target_tags")
	if !ok {
		return nil, &ParseError{Kind: MissingField, Field: "treatment_targets"}
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, &ParseError{Kind: SchemaViolation, Field: "treatment_targets", Err: fmt.Errorf("expected array: %w", err)}
	}

	seen := make(map[string]bool, len(entries))
	targets := make([]types.TreatmentTarget, 0, len(entries))
	for i, entry := range entries {
		var name string
		targetType := types.TargetOther

		var s string
		if err := json.Unmarshal(entry, &s); err == nil {
			name = s
		} else {
			var obj map[string]json.RawMessage
			if err := json.Unmarshal(entry, &obj); err != nil {
				*warnings = append(*warnings, fmt.Sprintf("treatment_targets[%d]: unrecognized entry shape, skipped", i))
				continue
			}
			nameRaw, ok := field(obj, "name", "target")
			if !ok || json.Unmarshal(nameRaw, &name) != nil {
				*warnings = append(*warnings, fmt.Sprintf("treatment_targets[%d]: entry without name, skipped", i))
				continue
			}
			if typeRaw, ok := field(obj, "type", "target_type", "targetType"); ok {
				var ts string
				if json.Unmarshal(typeRaw, &ts) == nil {
					tt := types.TargetType(strings.ToLower(strings.TrimSpace(ts)))
					if types.ValidTargetType(tt) {
						targetType = tt
					} else {
						*warnings = append(*warnings, fmt.Sprintf("treatment_targets[%d]: unknown type %q, coerced to other", i, ts))
					}
				}
			}
		}

		if strings.TrimSpace(name) == "" {
			continue
		}
		key := NormalizeTagName(name)
		if seen[key] {
			continue
		}
		seen[key] = true
		targets = append(targets, types.TreatmentTarget{Name: strings.TrimSpace(name), Type: targetType})
	}

	return targets, nil
}

// stageAliases maps normalized response keys onto the canonical stages.
var stageAliases = map[string]types.Stage{
	"early":                    types.StageEarly,
	"early_stage":              types.StageEarly,
	"locally_advanced":         types.StageLocallyAdvanced,
	"metastatic_recurrent":     types.StageMetastaticRecurrent,
	"recurrent_metastatic":     types.StageMetastaticRecurrent,
	"metastatic":               types.StageMetastaticRecurrent,
	"recurrent_or_metastatic":  types.StageMetastaticRecurrent,
	"metastatic_or_recurrent":  types.StageMetastaticRecurrent,
	"metastatic_and_recurrent": types.StageMetastaticRecurrent,
}

// stageRelevance decodes the stage_relevance object into a map with exactly
// the three canonical keys. Unknown stage keys are dropped with a warning;
// missing stages take the policy default.
func (p Parser) stageRelevance(top map[string]json.RawMessage, warnings *[]string) (map[types.Stage]int, error) {
	raw, ok := field(top, "stage_relevance", "stageRelevance", "stage_relevance_scores")
	if !ok {
		return nil, &ParseError{Kind: MissingField, Field: "stage_relevance"}
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, &ParseError{Kind: SchemaViolation, Field: "stage_relevance", Err: fmt.Errorf("expected object: %w", err)}
	}

	stages := make(map[types.Stage]int, len(types.Stages))
	for key, val := range obj {
		stage, known := stageAliases[normalizeStageKey(key)]
		if !known {
			*warnings = append(*warnings, fmt.Sprintf("stage_relevance: unknown stage %q dropped", key))
			continue
		}
		n, ok := numeric(val)
		if !ok {
			*warnings = append(*warnings, fmt.Sprintf("stage_relevance.%s: non-numeric score, defaulted", stage))
			continue
		}
		score := n
		switch {
		case score < types.MinRelevance:
			score = types.MinRelevance
		case score > types.MaxRelevance:
			score = types.MaxRelevance
		}
		if score != n {
			*warnings = append(*warnings, fmt.Sprintf("stage_relevance.%s: score %d out of range, clamped", stage, n))
		}

		// A key and its alias may both appear; keep the higher score.
		if prev, dup := stages[stage]; !dup || score > prev {
			stages[stage] = score
		}
	}

	def := p.Policy.DefaultStageScore
	if def == 0 {
		def = 1
	}
	for _, stage := range types.Stages {
		if _, ok := stages[stage]; !ok {
			stages[stage] = def
		}
	}

	return stages, nil
}

// normalizeStageKey folds separators and case so "Locally Advanced",
// "locally-advanced", and "locally_advanced" compare equal.
func normalizeStageKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, sep := range []string{" ", "-", "/"} {
		key = strings.ReplaceAll(key, sep, "_")
	}
	return key
}

// eligibilitySummary decodes the summary field. A string is taken verbatim;
// an array of strings is joined into bullet lines.
func eligibilitySummary(top map[string]json.RawMessage) (string, error) {
	raw, ok := field(top, "eligibility_summary", "eligibilitySummary", "simplified_eligibility", "simplified_eligibility_summary")
	if !ok {
		return "", &ParseError{Kind: MissingField, Field: "eligibility_summary"}
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}

	var lines []string
	if err := json.Unmarshal(raw, &lines); err == nil {
		for i, line := range lines {
			if !strings.HasPrefix(strings.TrimSpace(line), "-") {
				lines[i] = "- " + line
			}
		}
		return strings.Join(lines, "\n"), nil
	}

	return "", &ParseError{Kind: SchemaViolation, Field: "eligibility_summary", Err: fmt.Errorf("expected string or string array")}
}

// stringTags decodes a list of short string tags, skipping non-string
// entries and collapsing case-insensitive duplicates.
func stringTags(top map[string]json.RawMessage, warnings *[]string, names ...string) ([]string, error) {
	raw, ok := field(top, names...)
	if !ok {
		return nil, &ParseError{Kind: MissingField, Field: names[0]}
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, &ParseError{Kind: SchemaViolation, Field: names[0], Err: fmt.Errorf("expected array: %w", err)}
	}

	seen := make(map[string]bool, len(entries))
	out := make([]string, 0, len(entries))
	for i, entry := range entries {
		var s string
		if err := json.Unmarshal(entry, &s); err != nil {
			*warnings = append(*warnings, fmt.Sprintf("%s[%d]: non-string entry, skipped", names[0], i))
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" || seen[NormalizeTagName(s)] {
			continue
		}
		seen[NormalizeTagName(s)] = true
		out = append(out, s)
	}

	return out, nil
}

// countries decodes the countries field. Absent countries are tolerated
// (not every record lists locations); bare strings become entries without
// a remote option.
func countries(top map[string]json.RawMessage, warnings *[]string) ([]types.CountryAvailability, error) {
	raw, ok := field(top, "countries", "country_tags")
	if !ok {
		return nil, nil
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, &ParseError{Kind: SchemaViolation, Field: "countries", Err: fmt.Errorf("expected array: %w", err)}
	}

	seen := make(map[string]bool, len(entries))
	out := make([]types.CountryAvailability, 0, len(entries))
	for i, entry := range entries {
		var name string
		remote := false

		var s string
		if err := json.Unmarshal(entry, &s); err == nil {
			name = s
		} else {
			var obj struct {
				Name            string `json:"name"`
				RemoteOption    *bool  `json:"remote_option"`
				HasRemoteOption *bool  `json:"has_remote_option"`
			}
			if err := json.Unmarshal(entry, &obj); err != nil {
				*warnings = append(*warnings, fmt.Sprintf("countries[%d]: unrecognized entry shape, skipped", i))
				continue
			}
			name = obj.Name
			if obj.RemoteOption != nil {
				remote = *obj.RemoteOption
			} else if obj.HasRemoteOption != nil {
				remote = *obj.HasRemoteOption
			}
		}

		name = strings.TrimSpace(name)
		if name == "" || seen[NormalizeTagName(name)] {
			continue
		}
		seen[NormalizeTagName(name)] = true
		out = append(out, types.CountryAvailability{Name: name, RemoteOption: remote})
	}

	return out, nil
}
