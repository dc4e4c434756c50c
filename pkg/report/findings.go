// Package report turns registry scan results into the list of findings that
// block a release.
package report

import (
	log "github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/robert-cronin/imagerelease/pkg/types"
)

// ScanStatusPending is reported by the registry while a scan is running.
const ScanStatusPending = "PENDING"

// Report is the scan result of one image.
type Report struct {
	ImageURI string
	Status   string
	Findings []types.Finding
	// Truncated is set when more findings exist than were fetched.
	Truncated bool
}

func (r *Report) Pending() bool {
	return r.Status == ScanStatusPending
}

// Filter returns the titles of findings whose severity is in severities and
// whose title is not excluded, in scan order.
func (r *Report) Filter(severities sets.Set[types.Severity], excluded sets.Set[string]) []string {
	var results []string
	for _, f := range r.Findings {
		if severities.Has(f.Severity) && !excluded.Has(f.Title) {
			results = append(results, f.Title)
			continue
		}
		log.Infof("Excluding vulnerability '%s' with severity: %s.", f.Title, f.Severity)
	}
	log.Infof("%s has the following filtered vulnerabilities: %v.", r.ImageURI, results)
	return results
}

// CountBySeverity summarises the findings for logging.
func (r *Report) CountBySeverity() map[types.Severity]int {
	counts := make(map[types.Severity]int)
	for _, f := range r.Findings {
		counts[f.Severity]++
	}
	return counts
}
