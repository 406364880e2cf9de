// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package download

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/pdiddy/trial-search/pkg/types"
)

// ExtractStudies reads a downloaded bulk zip of study JSON records and
// converts up to maxTrials of them into the flat trial format the process
// command consumes. Entries that fail to decode are reported and skipped;
// one corrupt study should not sink a multi-gigabyte dump.
func ExtractStudies(zipPath string, maxTrials int, w io.Writer) ([]types.RawTrial, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("opening archive %s: %w", zipPath, err)
	}
	defer r.Close()

	var trials []types.RawTrial
	skipped := 0

	for _, f := range r.File {
		if maxTrials > 0 && len(trials) >= maxTrials {
			break
		}
		if f.FileInfo().IsDir() || !strings.HasSuffix(f.Name, ".json") {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			fmt.Fprintf(w, "failed  %s: %v\n", f.Name, err)
			skipped++
			continue
		}

		var study ctgovStudy
		decodeErr := json.NewDecoder(rc).Decode(&study)
		rc.Close()
		if decodeErr != nil {
			fmt.Fprintf(w, "failed  %s: %v\n", f.Name, decodeErr)
			skipped++
			continue
		}

		trial := mapStudy(study)
		if !types.ValidNCTID(trial.NCTID) {
			fmt.Fprintf(w, "failed  %s: malformed NCT ID %q\n", f.Name, trial.NCTID)
			skipped++
			continue
		}
		trials = append(trials, trial)
	}

	fmt.Fprintf(w, "extracted %d studies from %s (%d skipped)\n", len(trials), zipPath, skipped)
	return trials, nil
}
