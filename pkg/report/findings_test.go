package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/robert-cronin/imagerelease/pkg/types"
)

func sampleReport() *Report {
	return &Report{
		ImageURI: "111111111111.dkr.ecr.us-east-1.amazonaws.com/staging:1.1.0-gpu-abc",
		Status:   "COMPLETE",
		Findings: []types.Finding{
			{Title: "CVE-2024-0001", Severity: types.SeverityCritical},
			{Title: "CVE-2024-0002", Severity: types.SeverityHigh},
			{Title: "CVE-2024-0003", Severity: types.SeverityCritical},
			{Title: "CVE-2024-0004", Severity: "MEDIUM"},
		},
	}
}

func TestFilter(t *testing.T) {
	tests := []struct {
		name       string
		severities sets.Set[types.Severity]
		excluded   sets.Set[string]
		want       []string
	}{
		{
			name:       "critical only",
			severities: sets.New(types.SeverityCritical),
			excluded:   sets.New[string](),
			want:       []string{"CVE-2024-0001", "CVE-2024-0003"},
		},
		{
			name:       "ignored ids are dropped",
			severities: sets.New(types.SeverityCritical),
			excluded:   sets.New("CVE-2024-0001"),
			want:       []string{"CVE-2024-0003"},
		},
		{
			name:       "critical and high",
			severities: sets.New(types.SeverityCritical, types.SeverityHigh),
			excluded:   sets.New[string](),
			want:       []string{"CVE-2024-0001", "CVE-2024-0002", "CVE-2024-0003"},
		},
		{
			name:       "everything ignored",
			severities: sets.New(types.SeverityCritical),
			excluded:   sets.New("CVE-2024-0001", "CVE-2024-0003"),
			want:       nil,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, sampleReport().Filter(tc.severities, tc.excluded))
		})
	}
}

func TestSummaries(t *testing.T) {
	r := sampleReport()
	assert.False(t, r.Pending())
	assert.Equal(t, map[types.Severity]int{
		types.SeverityCritical: 2,
		types.SeverityHigh:     1,
		"MEDIUM":               1,
	}, r.CountBySeverity())

	assert.True(t, (&Report{Status: ScanStatusPending}).Pending())
}
