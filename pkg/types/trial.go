// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "regexp"

// nctIDPattern matches ClinicalTrials.gov registry identifiers ("NCT" + 8 digits).
var nctIDPattern = regexp.MustCompile(`^NCT\d{8}$`)

// ValidNCTID reports whether id is a well-formed ClinicalTrials.gov identifier.
func ValidNCTID(id string) bool {
	return nctIDPattern.MatchString(id)
}

// Intervention is one treatment arm entry on a trial record.
type Intervention struct {
	// Type is the registry intervention category (e.g. "Drug", "Biological").
	Type string `json:"type" yaml:"type"`

	// Name is the intervention name as registered.
	Name string `json:"name" yaml:"name"`
}

// RawTrial holds one clinical trial record as supplied by a trial source.
// Records are read-only inside the tagging pipeline: the source owns them
// and the pipeline never mutates fields.
type RawTrial struct {
	// NCTID is the stable ClinicalTrials.gov identifier (e.g. "NCT04267848").
	NCTID string `json:"nct_id" yaml:"nct_id"`

	// Title is the brief title of the study.
	Title string `json:"title" yaml:"title"`

	// OfficialTitle is the full registered title, when it differs from Title.
	OfficialTitle string `json:"official_title,omitempty" yaml:"official_title,omitempty"`

	// BriefSummary is the short study description.
	BriefSummary string `json:"brief_summary" yaml:"brief_summary"`

	// DetailedDescription is the long-form description. Often absent.
	DetailedDescription string `json:"detailed_description,omitempty" yaml:"detailed_description,omitempty"`

	// Conditions lists the studied conditions in registry order.
	Conditions []string `json:"conditions" yaml:"conditions"`

	// Interventions lists the treatment arms in registry order.
	Interventions []Intervention `json:"interventions" yaml:"interventions"`

	// EligibilityCriteria is the free-text inclusion/exclusion section.
	EligibilityCriteria string `json:"eligibility_criteria" yaml:"eligibility_criteria"`

	// Phase is the trial phase string (e.g. "PHASE2").
	Phase string `json:"phase" yaml:"phase"`

	// StudyType distinguishes interventional from observational studies.
	StudyType string `json:"study_type,omitempty" yaml:"study_type,omitempty"`

	// Status is the overall recruitment status (e.g. "RECRUITING").
	Status string `json:"status" yaml:"status"`
}
