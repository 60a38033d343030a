// factors.go: pure sub-factor functions of the safety index.
package safety

import (
	"time"

	"github.com/wayfareapp/wayfare-go/internal/datastore"
)

// reportDecayDays is the linear decay window for report weights. Reports
// older than this still contribute the floor weight, never zero.
const reportDecayDays = 30.0

// reportWeightFloor is the minimum weight of any report regardless of age.
const reportWeightFloor = 0.1

// positiveReportTypes are observations that raise the perceived safety of
// a location; their severity scales the score up.
var positiveReportTypes = map[string]bool{
	datastore.ReportWellLit:           true,
	datastore.ReportPolicePresence:    true,
	datastore.ReportCrowdedArea:       true,
	datastore.ReportEmergencyServices: true,
	datastore.ReportSafeTransport:     true,
}

// negativeReportTypes are observations that lower the perceived safety;
// their severity scales the score down.
var negativeReportTypes = map[string]bool{
	datastore.ReportUnsafeArea:      true,
	datastore.ReportUnsafeTransport: true,
	datastore.ReportTouristScam:     true,
	datastore.ReportPickpocketRisk:  true,
}

// TimeFactor maps an hour of day (0-23) to a safety multiplier in [0,1].
// The tiers are fixed heuristics: late night 22:00-06:59 scores 0.6,
// daytime 08:00-18:59 scores 1.0, the transition hours score 0.8.
func TimeFactor(hour int) float64 {
	switch {
	case hour >= 22 || hour <= 6:
		return 0.6
	case hour >= 8 && hour <= 18:
		return 1.0
	default:
		return 0.8
	}
}

// DensityFactor maps a recent-activity count to a safety multiplier in [0,1].
// More apparent crowd presence is treated as safer (more witnesses and help
// available). This is a simplifying assumption, not an empirical result.
func DensityFactor(activeCount int) float64 {
	switch {
	case activeCount >= 20:
		return 1.0
	case activeCount >= 10:
		return 0.8
	case activeCount >= 5:
		return 0.6
	default:
		return 0.4
	}
}

// ReportsFactor computes the report-based safety sub-score in [0,1] from
// reports the caller has already filtered to verified and within the
// lookback window. With no reports the factor is neutral 0.5.
//
// Each report scores severity/10 if its type is positive, 1-severity/10 if
// negative, and 0.5 if neutral (OTHER). Report weight decays linearly over
// 30 days down to a floor of 0.1; the result is the weighted average.
func ReportsFactor(reports []datastore.SafetyReport, now time.Time) float64 {
	if len(reports) == 0 {
		return 0.5
	}

	var weightedScore, totalWeight float64

	for i := range reports {
		report := &reports[i]

		daysOld := now.Sub(report.ReportedAt).Hours() / 24
		weight := 1 - daysOld/reportDecayDays
		if weight < reportWeightFloor {
			weight = reportWeightFloor
		}

		var score float64
		switch {
		case positiveReportTypes[report.Type]:
			score = float64(report.Severity) / 10.0
		case negativeReportTypes[report.Type]:
			score = 1 - float64(report.Severity)/10.0
		default:
			score = 0.5
		}

		weightedScore += score * weight
		totalWeight += weight
	}

	// Unreachable given the weight floor, but fall back to neutral anyway.
	if totalWeight <= 0 {
		return 0.5
	}

	return weightedScore / totalWeight
}
