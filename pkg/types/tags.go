// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// Score bounds for tag relevance. Scores outside the range are clamped
// during response validation, never stored.
const (
	MinRelevance = 1
	MaxRelevance = 5
)

// TargetType categorizes a treatment target.
type TargetType string

const (
	TargetGene    TargetType = "gene"
	TargetProtein TargetType = "protein"
	TargetPathway TargetType = "pathway"
	TargetOther   TargetType = "other"
)

// ValidTargetType reports whether t is one of the known target categories.
func ValidTargetType(t TargetType) bool {
	switch t {
	case TargetGene, TargetProtein, TargetPathway, TargetOther:
		return true
	}
	return false
}

// Stage identifies a disease stage scenario scored for relevance.
type Stage string

const (
	StageEarly               Stage = "early"
	StageLocallyAdvanced     Stage = "locally_advanced"
	StageMetastaticRecurrent Stage = "metastatic_recurrent"
)

// Stages lists the three scored stages in canonical order. A TagRecord's
// StageRelevance map carries exactly these keys.
var Stages = []Stage{StageEarly, StageLocallyAdvanced, StageMetastaticRecurrent}

// ScoredTag is a standardized label with a 1-5 relevance score.
type ScoredTag struct {
	// Name is the normalized tag text.
	Name string `json:"name" yaml:"name"`

	// Relevance indicates how strongly the tag applies (1 weak, 5 strong).
	Relevance int `json:"relevance" yaml:"relevance"`
}

// TreatmentTarget names a biological target of the trial's intervention.
type TreatmentTarget struct {
	// Name is the target identifier (e.g. "EGFR", "PD-1", "MAPK pathway").
	Name string `json:"name" yaml:"name"`

	// Type categorizes the target: gene, protein, pathway, or other.
	Type TargetType `json:"type" yaml:"type"`
}

// CountryAvailability records one country where the trial enrolls.
type CountryAvailability struct {
	// Name is the country name.
	Name string `json:"name" yaml:"name"`

	// RemoteOption reports whether remote or decentralized participation
	// is offered from that country.
	RemoteOption bool `json:"remote_option" yaml:"remote_option"`
}

// TagRecord is the validated structured output of tagging one trial.
// A record is created whole from a single model response and either
// persisted whole or discarded; partial records are never stored.
type TagRecord struct {
	// ConditionTags are standardized condition labels with relevance scores.
	ConditionTags []ScoredTag `json:"condition_tags" yaml:"condition_tags"`

	// MechanismTags categorize the trial by primary mechanism
	// (e.g. "immunotherapy", "targeted therapy").
	MechanismTags []ScoredTag `json:"mechanism_tags" yaml:"mechanism_tags"`

	// TreatmentTargets lists genes, proteins, or pathways the intervention acts on.
	TreatmentTargets []TreatmentTarget `json:"treatment_targets" yaml:"treatment_targets"`

	// StageRelevance scores the trial's relevance for each disease stage.
	// All three Stage keys are always present after validation.
	StageRelevance map[Stage]int `json:"stage_relevance" yaml:"stage_relevance"`

	// EligibilitySummary is a plain-language restatement of the eligibility
	// criteria, bullet style.
	EligibilitySummary string `json:"eligibility_summary" yaml:"eligibility_summary"`

	// InclusionTags are short standardized inclusion criteria labels
	// (e.g. "no prior treatment").
	InclusionTags []string `json:"inclusion_tags" yaml:"inclusion_tags"`

	// ExclusionTags are short standardized exclusion criteria labels
	// (e.g. "brain metastases").
	ExclusionTags []string `json:"exclusion_tags" yaml:"exclusion_tags"`

	// Countries lists enrollment countries with remote-participation flags.
	Countries []CountryAvailability `json:"countries" yaml:"countries"`
}
