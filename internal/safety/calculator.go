// Package safety implements the multi-factor safety index scoring engine.
//
// The index blends four signals: user-submitted safety reports, time of
// day, local activity density, and a news-derived threat multiplier. Each
// computation is stateless and re-fetches fresh data; the only persisted
// output is the City.SafetyIndex cache field, which is refreshed explicitly
// (new report, verification change, index request) and may be stale in
// between. Sub-factor failures degrade to neutral defaults and are never
// fatal; only an unknown city aborts a computation.
package safety

import (
	"log/slog"
	"math"
	"time"

	"github.com/wayfareapp/wayfare-go/internal/conf"
	"github.com/wayfareapp/wayfare-go/internal/datastore"
	"github.com/wayfareapp/wayfare-go/internal/geo"
	"github.com/wayfareapp/wayfare-go/internal/logging"
	"github.com/wayfareapp/wayfare-go/internal/observability"
)

const (
	// newsAttenuation scales the three base weights down, reserving the
	// remaining weight budget for the news signal.
	newsAttenuation = 0.8

	// newsNudgeThreshold is the deviation from neutral above which the
	// news factor additionally nudges the index additively.
	newsNudgeThreshold = 0.1

	// newsNudgeGain scales the additive news nudge.
	newsNudgeGain = 0.2
)

// Factors is the per-factor breakdown of a computed index.
type Factors struct {
	Time    float64 `json:"time_factor"`
	Density float64 `json:"density_factor"`
	Reports float64 `json:"reports_factor"`
	News    float64 `json:"news_factor"`
}

// AreaData carries the input metadata of an area computation.
type AreaData struct {
	TotalReports     int     `json:"total_reports"`
	RecentActivity   int     `json:"recent_activity"`
	CurrentHour      int     `json:"current_hour"`
	AnalysisRadiusKm float64 `json:"analysis_radius_km"`
}

// AreaResult is the ephemeral snapshot returned for an area computation.
// It is recomputed per request and never persisted.
type AreaResult struct {
	SafetyIndex float64  `json:"safety_index"`
	Factors     Factors  `json:"factors"`
	Data        AreaData `json:"data"`
}

// HeatmapCell is one grid cell of a city safety heatmap. The raw reports
// backing the cell are intentionally not exposed.
type HeatmapCell struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	SafetyScore float64 `json:"safety_score"`
	ReportCount int     `json:"report_count"`
}

// Calculator computes safety indices. It holds no mutable state of its own
// and is safe for concurrent use.
type Calculator struct {
	ds       datastore.Interface
	settings *conf.SafetySettings
	metrics  *observability.SafetyMetrics
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Calculator backed by the given datastore and settings.
// metrics may be nil to disable instrumentation.
func New(ds datastore.Interface, settings *conf.SafetySettings, metrics *observability.SafetyMetrics) *Calculator {
	logger := logging.ForService("safety")
	if logger == nil {
		logger = slog.Default()
	}
	return &Calculator{
		ds:       ds,
		settings: settings,
		metrics:  metrics,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source. Intended for tests.
func (c *Calculator) SetClock(now func() time.Time) {
	c.now = now
}

// CityIndex computes a fresh safety index for a city and persists it into
// the city's SafetyIndex cache field. The persisted write is best-effort:
// a failure is logged and the computed score is still returned.
func (c *Calculator) CityIndex(cityID uint) (float64, error) {
	start := time.Now()

	city, err := c.ds.GetCity(cityID)
	if err != nil {
		c.metrics.RecordComputation("city", "error", time.Since(start).Seconds())
		return 0, err
	}

	now := c.now()
	reportsSince := now.AddDate(0, 0, -c.settings.ReportWindow)
	activitySince := now.Add(-time.Duration(c.settings.ActivityWindow) * time.Hour)
	newsSince := now.AddDate(0, 0, -c.settings.NewsWindow)

	reports, err := c.ds.GetVerifiedCityReports(cityID, reportsSince)
	if err != nil {
		c.logger.Warn("report lookup failed, degrading reports factor to neutral",
			"city_id", cityID, "error", err)
		reports = nil
	}

	activity, err := c.ds.CountActiveCityUsers(cityID, activitySince)
	if err != nil {
		c.logger.Warn("activity lookup failed, degrading density factor",
			"city_id", cityID, "error", err)
		activity = 0
	}

	newsFactor := 1.0
	if articles, err := c.cityNewsArticles(&city, newsSince); err != nil {
		c.logger.Warn("news lookup failed, using neutral news factor",
			"city_id", cityID, "error", err)
		c.metrics.RecordNewsDegradation()
	} else {
		newsFactor = NewsFactor(articles, now)
	}

	score := c.compose(
		ReportsFactor(reports, now),
		TimeFactor(now.Hour()),
		DensityFactor(activity),
		newsFactor,
	)

	// Cache refresh is best-effort, the score is valid regardless.
	if err := c.ds.UpdateCitySafetyIndex(cityID, score); err != nil {
		c.logger.Warn("failed to persist city safety index",
			"city_id", cityID, "score", score, "error", err)
	}

	c.metrics.RecordComputation("city", "success", time.Since(start).Seconds())
	return score, nil
}

// AreaIndex computes the safety index for an arbitrary point and radius.
// The result includes the factor breakdown and is not persisted.
func (c *Calculator) AreaIndex(lat, lon, radiusKm float64) (*AreaResult, error) {
	start := time.Now()

	now := c.now()
	reportsSince := now.AddDate(0, 0, -c.settings.ReportWindow)
	activitySince := now.Add(-time.Duration(c.settings.ActivityWindow) * time.Hour)
	newsSince := now.AddDate(0, 0, -c.settings.NewsWindow)

	var areaReports []datastore.SafetyReport
	if reports, err := c.ds.GetVerifiedReportsSince(reportsSince); err != nil {
		c.logger.Warn("report lookup failed, degrading reports factor to neutral", "error", err)
	} else {
		for i := range reports {
			if geo.WithinRadiusKm(lat, lon, reports[i].Latitude, reports[i].Longitude, radiusKm) {
				areaReports = append(areaReports, reports[i])
			}
		}
	}

	activity := 0
	if proofs, err := c.ds.GetVerifiedProofsSince(activitySince); err != nil {
		c.logger.Warn("activity lookup failed, degrading density factor", "error", err)
	} else {
		for i := range proofs {
			if geo.WithinRadiusKm(lat, lon, proofs[i].Latitude, proofs[i].Longitude, radiusKm) {
				activity++
			}
		}
	}

	newsFactor := 1.0
	if articles, err := c.areaNewsArticles(lat, lon, newsSince); err != nil {
		c.logger.Warn("news lookup failed, using neutral news factor", "error", err)
		c.metrics.RecordNewsDegradation()
	} else {
		newsFactor = NewsFactor(articles, now)
	}

	timeFactor := TimeFactor(now.Hour())
	densityFactor := DensityFactor(activity)
	reportsFactor := ReportsFactor(areaReports, now)

	result := &AreaResult{
		SafetyIndex: c.compose(reportsFactor, timeFactor, densityFactor, newsFactor),
		Factors: Factors{
			Time:    round2(timeFactor),
			Density: round2(densityFactor),
			Reports: round2(reportsFactor),
			News:    round2(newsFactor),
		},
		Data: AreaData{
			TotalReports:     len(areaReports),
			RecentActivity:   activity,
			CurrentHour:      now.Hour(),
			AnalysisRadiusKm: radiusKm,
		},
	}

	c.metrics.RecordComputation("area", "success", time.Since(start).Seconds())
	return result, nil
}

// Heatmap snaps verified city reports of the last days onto a coordinate
// grid of gridSize degrees and scores each cell from its reports alone.
// Cell order is unspecified.
func (c *Calculator) Heatmap(cityID uint, gridSize float64, days int) ([]HeatmapCell, error) {
	start := time.Now()

	if _, err := c.ds.GetCity(cityID); err != nil {
		c.metrics.RecordComputation("heatmap", "error", time.Since(start).Seconds())
		return nil, err
	}

	now := c.now()
	since := now.AddDate(0, 0, -days)
	reports, err := c.ds.GetVerifiedCityReports(cityID, since)
	if err != nil {
		c.metrics.RecordComputation("heatmap", "error", time.Since(start).Seconds())
		return nil, err
	}

	type gridKey struct{ lat, lon float64 }
	cells := make(map[gridKey][]datastore.SafetyReport)

	for i := range reports {
		key := gridKey{
			lat: snapToGrid(reports[i].Latitude, gridSize),
			lon: snapToGrid(reports[i].Longitude, gridSize),
		}
		cells[key] = append(cells[key], reports[i])
	}

	result := make([]HeatmapCell, 0, len(cells))
	for key, cellReports := range cells {
		result = append(result, HeatmapCell{
			Latitude:    key.lat,
			Longitude:   key.lon,
			SafetyScore: round2(ReportsFactor(cellReports, now) * 10),
			ReportCount: len(cellReports),
		})
	}

	c.metrics.RecordHeatmapCells(len(result))
	c.metrics.RecordComputation("heatmap", "success", time.Since(start).Seconds())
	return result, nil
}

// compose combines the four sub-factors into the final 0-10 score.
//
// The three base weights are attenuated by 0.8 to reserve weight budget for
// the news signal, which then applies both multiplicatively and, when it
// deviates from neutral by more than 0.1, as an additional additive nudge.
// The combination of multiplier and nudge matches the historical scoring
// behavior that published scores depend on.
func (c *Calculator) compose(reportsFactor, timeFactor, densityFactor, newsFactor float64) float64 {
	w := c.settings.Weights

	base := reportsFactor*w.Reports*newsAttenuation +
		timeFactor*w.Time*newsAttenuation +
		densityFactor*w.Density*newsAttenuation

	index := base * newsFactor

	if math.Abs(newsFactor-1.0) > newsNudgeThreshold {
		index += (newsFactor - 1.0) * newsNudgeGain
	}

	return round2(clamp(index, 0.0, 1.0) * 10)
}

// Level converts a numeric 0-10 safety index to a descriptive level.
func Level(index float64) string {
	switch {
	case index >= 8.0:
		return "Very Safe"
	case index >= 6.0:
		return "Safe"
	case index >= 4.0:
		return "Moderate"
	case index >= 2.0:
		return "Caution"
	default:
		return "High Risk"
	}
}

// snapToGrid snaps a coordinate to the nearest grid cell center.
func snapToGrid(coord, gridSize float64) float64 {
	return math.Round(coord/gridSize) * gridSize
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
