package runs

import (
	"sort"
	"strings"

	"scanlens/pkg/models"
)

func severityRank(level string) int {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "critical":
		return 0
	case "high":
		return 1
	case "medium":
		return 2
	case "low":
		return 3
	case "info", "informational":
		return 4
	default:
		return 5
	}
}

// RankFindings returns a copy of findings ordered by severity (critical
// first, unknown last) and then by timestamp.
func RankFindings(findings []models.Finding) []models.Finding {
	out := append(make([]models.Finding, 0, len(findings)), findings...)
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := severityRank(out[i].Severity), severityRank(out[j].Severity)
		if ri != rj {
			return ri < rj
		}
		return out[i].TS.Before(out[j].TS)
	})
	return out
}
