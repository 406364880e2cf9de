// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package tagging

import (
	"bytes"
	"strings"
	"text/template"

	"github.com/pdiddy/trial-search/pkg/types"
)

// Field budgets keep a prompt inside the model context window for even the
// wordiest registry records. Truncation keeps the head: eligibility sections
// open with the inclusion/exclusion criteria, which is the part the model
// needs.
const (
	maxDescriptionChars = 6000
	maxEligibilityChars = 8000
)

// taggingPromptTmpl renders one trial into the tagging prompt. The schema
// block spells out every output field, its allowed values, and the exact
// key names Parse expects.
var taggingPromptTmpl = template.Must(template.New("tagging").Parse(`You are an expert in clinical trials, oncology, and medical research. Analyze the following clinical trial record and generate standardized tags that make it easier for patients to find relevant trials.

## Clinical Trial Information
NCT ID: {{.NCTID}}
Title: {{.Title}}
Official Title: {{.OfficialTitle}}
Phase: {{.Phase}}
Status: {{.Status}}

Summary:
{{.Summary}}

Description:
{{.Description}}

Conditions:
{{.Conditions}}

Interventions:
{{.Interventions}}

Eligibility Criteria:
{{.Eligibility}}

## Task
Respond with a single JSON object containing exactly these fields:

1. "condition_tags": array of {"name": string, "relevance": integer 1-5} — standardized condition labels (normalize different terms for the same condition)
2. "mechanism_tags": array of {"name": string, "relevance": integer 1-5} — primary mechanism categories (e.g. "immunotherapy", "targeted therapy", "chemotherapy")
3. "treatment_targets": array of {"name": string, "type": one of "gene", "protein", "pathway", "other"} — specific genes, proteins, or pathways targeted
4. "stage_relevance": object with integer scores 1-5 for exactly the keys "early", "locally_advanced", "metastatic_recurrent"
5. "eligibility_summary": string — the eligibility criteria restated as plain-language bullets
6. "inclusion_tags": array of short strings — key inclusion criteria (e.g. "no prior treatment", "recurrent disease")
7. "exclusion_tags": array of short strings — key exclusion criteria (e.g. "brain metastases", "autoimmune disease")
8. "countries": array of {"name": string, "remote_option": boolean} — countries where the trial enrolls

Relevance scores: 5 means the tag is central to the trial, 1 means marginal.

Your response must be ONLY the JSON object, with no surrounding text.
`))

// promptData is the flattened, pre-truncated view of a trial fed to the template.
type promptData struct {
	NCTID         string
	Title         string
	OfficialTitle string
	Phase         string
	Status        string
	Summary       string
	Description   string
	Conditions    string
	Interventions string
	Eligibility   string
}

// BuildPrompt renders trial into the tagging prompt. It is a pure function:
// the same trial always yields byte-identical output, so prompts can be
// cached and compared in tests.
func BuildPrompt(trial types.RawTrial) string {
	interventions := make([]string, 0, len(trial.Interventions))
	for _, iv := range trial.Interventions {
		if iv.Type != "" {
			interventions = append(interventions, iv.Type+": "+iv.Name)
		} else {
			interventions = append(interventions, iv.Name)
		}
	}

	data := promptData{
		NCTID:         trial.NCTID,
		Title:         trial.Title,
		OfficialTitle: trial.OfficialTitle,
		Phase:         trial.Phase,
		Status:        trial.Status,
		Summary:       trial.BriefSummary,
		Description:   truncate(trial.DetailedDescription, maxDescriptionChars),
		Conditions:    strings.Join(trial.Conditions, ", "),
		Interventions: strings.Join(interventions, "; "),
		Eligibility:   truncate(trial.EligibilityCriteria, maxEligibilityChars),
	}

	var buf bytes.Buffer
	// The template only references fields of promptData; execution cannot fail.
	if err := taggingPromptTmpl.Execute(&buf, data); err != nil {
		panic(err)
	}
	return buf.String()
}

// truncate keeps the first max bytes of s, cutting back to a rune boundary,
// and marks the cut.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n[truncated]"
}

func utf8RuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
