// internal/api/v2/safety.go
package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/patrickmn/go-cache"

	"github.com/wayfareapp/wayfare-go/internal/datastore"
	"github.com/wayfareapp/wayfare-go/internal/errors"
	"github.com/wayfareapp/wayfare-go/internal/geo"
	"github.com/wayfareapp/wayfare-go/internal/safety"
)

const (
	defaultReportDays = 30
	defaultListLimit  = 50
	maxListLimit      = 100

	defaultAreaRadiusKm = 2.0
	maxAreaRadiusKm     = 50.0

	defaultGridSize = 0.01
	minGridSize     = 0.001
	maxGridSize     = 1.0

	defaultHeatmapDays = 30
	maxHeatmapDays     = 90
)

// initSafetyRoutes registers safety report and index endpoints
func (c *Controller) initSafetyRoutes() {
	c.Group.POST("/safety/reports", c.CreateSafetyReport)
	c.Group.GET("/safety/reports", c.ListSafetyReports)
	c.Group.POST("/safety/reports/:id/verify", c.VerifySafetyReport)
	c.Group.GET("/safety/index/city/:id", c.GetCitySafetyIndex)
	c.Group.GET("/safety/index/area", c.GetAreaSafetyIndex)
	c.Group.GET("/safety/heatmap/:id", c.GetSafetyHeatmap)
}

// CreateReportRequest is the payload for submitting a safety report
type CreateReportRequest struct {
	ReporterID  uint    `json:"reporter_id"`
	CityID      uint    `json:"city_id"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Type        string  `json:"type"`
	Severity    int     `json:"severity"`
	Description string  `json:"description"`
}

// ReportResponse mirrors a stored safety report
type ReportResponse struct {
	ID          uint       `json:"id"`
	ReporterID  uint       `json:"reporter_id"`
	CityID      uint       `json:"city_id"`
	Latitude    float64    `json:"latitude"`
	Longitude   float64    `json:"longitude"`
	Type        string     `json:"type"`
	Severity    int        `json:"severity"`
	Description string     `json:"description,omitempty"`
	IsVerified  bool       `json:"is_verified"`
	VerifiedAt  *time.Time `json:"verified_at,omitempty"`
	ReportedAt  time.Time  `json:"reported_at"`
}

func reportResponse(r *datastore.SafetyReport) ReportResponse {
	return ReportResponse{
		ID:          r.ID,
		ReporterID:  r.ReporterID,
		CityID:      r.CityID,
		Latitude:    r.Latitude,
		Longitude:   r.Longitude,
		Type:        r.Type,
		Severity:    r.Severity,
		Description: r.Description,
		IsVerified:  r.IsVerified,
		VerifiedAt:  r.VerifiedAt,
		ReportedAt:  r.ReportedAt,
	}
}

// CityIndexResponse is the response for a city safety index query
type CityIndexResponse struct {
	CityID        uint     `json:"city_id"`
	CityName      string   `json:"city_name"`
	SafetyIndex   float64  `json:"safety_index"`
	SafetyLevel   string   `json:"safety_level"`
	PreviousIndex *float64 `json:"previous_index,omitempty"`
	Trend         string   `json:"trend"`
	ComputedAt    string   `json:"computed_at"`

	// 7-day report statistics feeding the trend view
	RecentReports   int            `json:"recent_reports"`
	ReportBreakdown map[string]int `json:"report_breakdown,omitempty"`
}

// HeatmapResponse wraps the grid cells of a city heatmap
type HeatmapResponse struct {
	CityID      uint                 `json:"city_id"`
	CityName    string               `json:"city_name"`
	GridSize    float64              `json:"grid_size"`
	Days        int                  `json:"days"`
	TotalCells  int                  `json:"total_cells"`
	Cells       []safety.HeatmapCell `json:"cells"`
	GeneratedAt string               `json:"generated_at"`
}

// CreateSafetyReport handles POST /api/v2/safety/reports
func (c *Controller) CreateSafetyReport(ctx echo.Context) error {
	var req CreateReportRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}

	if !datastore.IsValidReportType(req.Type) {
		return c.HandleError(ctx, errors.ValidationError(fmt.Sprintf("unknown report type %q", req.Type)),
			"Invalid report type", http.StatusBadRequest)
	}
	if req.Severity < 1 || req.Severity > 10 {
		return c.HandleError(ctx, errors.ValidationError("severity must be between 1 and 10"),
			"Invalid severity", http.StatusBadRequest)
	}
	if req.Latitude < -90 || req.Latitude > 90 || req.Longitude < -180 || req.Longitude > 180 {
		return c.HandleError(ctx, errors.ValidationError("coordinates out of range"),
			"Invalid coordinates", http.StatusBadRequest)
	}

	// Reject reports against unknown cities up front
	if _, err := c.DS.GetCity(req.CityID); err != nil {
		if errors.IsNotFound(err) {
			return c.HandleError(ctx, err, "City not found", http.StatusNotFound)
		}
		return c.HandleError(ctx, err, "Failed to look up city", http.StatusInternalServerError)
	}

	report := datastore.SafetyReport{
		ReporterID:  req.ReporterID,
		CityID:      req.CityID,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
		Type:        req.Type,
		Severity:    req.Severity,
		Description: req.Description,
		ReportedAt:  time.Now().UTC(),
		IsActive:    true,
	}
	if err := c.DS.SaveSafetyReport(&report); err != nil {
		return c.HandleError(ctx, err, "Failed to save report", http.StatusInternalServerError)
	}

	// Refresh the cached city index. The report is already stored, a failed
	// recompute only leaves the cache stale.
	if _, err := c.Calculator.CityIndex(req.CityID); err != nil {
		c.apiLogger.Warn("failed to refresh city index after report",
			"city_id", req.CityID, "error", err)
	}

	return ctx.JSON(http.StatusCreated, reportResponse(&report))
}

// ListSafetyReports handles GET /api/v2/safety/reports
func (c *Controller) ListSafetyReports(ctx echo.Context) error {
	filter := datastore.ReportFilter{
		Type:         ctx.QueryParam("type"),
		VerifiedOnly: ctx.QueryParam("verified_only") == "true",
		Limit:        defaultListLimit,
	}

	if raw := ctx.QueryParam("city_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return c.HandleError(ctx, err, "Invalid city_id", http.StatusBadRequest)
		}
		cityID := uint(id)
		filter.CityID = &cityID
	}

	if filter.Type != "" && !datastore.IsValidReportType(filter.Type) {
		return c.HandleError(ctx, errors.ValidationError(fmt.Sprintf("unknown report type %q", filter.Type)),
			"Invalid report type", http.StatusBadRequest)
	}

	days := defaultReportDays
	if raw := ctx.QueryParam("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return c.HandleError(ctx, err, "Invalid days", http.StatusBadRequest)
		}
		days = parsed
	}
	filter.Since = time.Now().UTC().AddDate(0, 0, -days)

	if raw := ctx.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return c.HandleError(ctx, err, "Invalid limit", http.StatusBadRequest)
		}
		filter.Limit = min(parsed, maxListLimit)
	}

	if raw := ctx.QueryParam("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return c.HandleError(ctx, err, "Invalid offset", http.StatusBadRequest)
		}
		filter.Offset = parsed
	}

	reports, err := c.DS.SearchReports(filter)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to search reports", http.StatusInternalServerError)
	}

	// Optional location post-filter on the paged result
	if raw := ctx.QueryParam("lat"); raw != "" {
		lat, err := strconv.ParseFloat(raw, 64)
		if err != nil || lat < -90 || lat > 90 {
			return c.HandleError(ctx, err, "Invalid lat", http.StatusBadRequest)
		}
		lon, err := strconv.ParseFloat(ctx.QueryParam("lon"), 64)
		if err != nil || lon < -180 || lon > 180 {
			return c.HandleError(ctx, err, "Invalid lon", http.StatusBadRequest)
		}
		radiusKm := defaultAreaRadiusKm
		if rawRadius := ctx.QueryParam("radius_km"); rawRadius != "" {
			parsed, err := strconv.ParseFloat(rawRadius, 64)
			if err != nil || parsed <= 0 || parsed > maxAreaRadiusKm {
				return c.HandleError(ctx, err, "Invalid radius_km", http.StatusBadRequest)
			}
			radiusKm = parsed
		}

		filtered := reports[:0]
		for i := range reports {
			if geo.WithinRadiusKm(lat, lon, reports[i].Latitude, reports[i].Longitude, radiusKm) {
				filtered = append(filtered, reports[i])
			}
		}
		reports = filtered
	}

	responses := make([]ReportResponse, 0, len(reports))
	for i := range reports {
		responses = append(responses, reportResponse(&reports[i]))
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"reports": responses,
		"count":   len(responses),
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}

// VerifyRequest is the payload for changing a report's verification state
type VerifyRequest struct {
	Verified bool `json:"verified"`
}

// VerifySafetyReport handles POST /api/v2/safety/reports/:id/verify
func (c *Controller) VerifySafetyReport(ctx echo.Context) error {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid report ID", http.StatusBadRequest)
	}

	var req VerifyRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}

	var verifiedAt *time.Time
	if req.Verified {
		now := time.Now().UTC()
		verifiedAt = &now
	}

	if err := c.DS.SetReportVerification(uint(id), req.Verified, verifiedAt); err != nil {
		if errors.IsNotFound(err) {
			return c.HandleError(ctx, err, "Report not found", http.StatusNotFound)
		}
		return c.HandleError(ctx, err, "Failed to update verification", http.StatusInternalServerError)
	}

	report, err := c.DS.GetSafetyReport(uint(id))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to load report", http.StatusInternalServerError)
	}

	// Verified reports feed the index, refresh the city cache
	if _, err := c.Calculator.CityIndex(report.CityID); err != nil {
		c.apiLogger.Warn("failed to refresh city index after verification",
			"city_id", report.CityID, "error", err)
	}

	return ctx.JSON(http.StatusOK, reportResponse(&report))
}

// GetCitySafetyIndex handles GET /api/v2/safety/index/city/:id
func (c *Controller) GetCitySafetyIndex(ctx echo.Context) error {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid city ID", http.StatusBadRequest)
	}
	cityID := uint(id)

	city, err := c.DS.GetCity(cityID)
	if err != nil {
		if errors.IsNotFound(err) {
			return c.HandleError(ctx, err, "City not found", http.StatusNotFound)
		}
		return c.HandleError(ctx, err, "Failed to look up city", http.StatusInternalServerError)
	}

	index, err := c.Calculator.CityIndex(cityID)
	if err != nil {
		if errors.IsNotFound(err) {
			return c.HandleError(ctx, err, "City not found", http.StatusNotFound)
		}
		return c.HandleError(ctx, err, "Failed to compute safety index", http.StatusInternalServerError)
	}

	response := CityIndexResponse{
		CityID:      cityID,
		CityName:    city.Name,
		SafetyIndex: index,
		SafetyLevel: safety.Level(index),
		Trend:       "stable",
		ComputedAt:  time.Now().UTC().Format(time.RFC3339),
	}

	// Compare against the previously cached value read before the recompute.
	// A zero cache means the city has never been scored.
	if prev := city.SafetyIndex; prev > 0 {
		response.PreviousIndex = &prev
		switch {
		case index > prev:
			response.Trend = "improving"
		case index < prev:
			response.Trend = "declining"
		}
	}

	// Recent report statistics are informational; failure leaves them empty
	if recent, err := c.DS.GetVerifiedCityReports(cityID, time.Now().UTC().AddDate(0, 0, -7)); err == nil {
		response.RecentReports = len(recent)
		if len(recent) > 0 {
			breakdown := make(map[string]int)
			for i := range recent {
				breakdown[recent[i].Type]++
			}
			response.ReportBreakdown = breakdown
		}
	}

	return ctx.JSON(http.StatusOK, response)
}

// GetAreaSafetyIndex handles GET /api/v2/safety/index/area
func (c *Controller) GetAreaSafetyIndex(ctx echo.Context) error {
	lat, err := strconv.ParseFloat(ctx.QueryParam("lat"), 64)
	if err != nil || lat < -90 || lat > 90 {
		return c.HandleError(ctx, err, "Invalid lat", http.StatusBadRequest)
	}
	lon, err := strconv.ParseFloat(ctx.QueryParam("lon"), 64)
	if err != nil || lon < -180 || lon > 180 {
		return c.HandleError(ctx, err, "Invalid lon", http.StatusBadRequest)
	}

	radiusKm := defaultAreaRadiusKm
	if raw := ctx.QueryParam("radius_km"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed <= 0 || parsed > maxAreaRadiusKm {
			return c.HandleError(ctx, err, "Invalid radius_km", http.StatusBadRequest)
		}
		radiusKm = parsed
	}

	// Area scores are ephemeral but expensive, cache briefly per rounded location
	cacheKey := fmt.Sprintf("area:%.4f:%.4f:%.1f", lat, lon, radiusKm)
	if cached, found := c.areaCache.Get(cacheKey); found {
		return ctx.JSON(http.StatusOK, cached)
	}

	result, err := c.Calculator.AreaIndex(lat, lon, radiusKm)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to compute area safety index", http.StatusInternalServerError)
	}

	response := map[string]any{
		"latitude":     lat,
		"longitude":    lon,
		"safety_index": result.SafetyIndex,
		"safety_level": safety.Level(result.SafetyIndex),
		"factors":      result.Factors,
		"data":         result.Data,
		"computed_at":  time.Now().UTC().Format(time.RFC3339),
	}

	c.areaCache.Set(cacheKey, response, cache.DefaultExpiration)
	return ctx.JSON(http.StatusOK, response)
}

// GetSafetyHeatmap handles GET /api/v2/safety/heatmap/:id
func (c *Controller) GetSafetyHeatmap(ctx echo.Context) error {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid city ID", http.StatusBadRequest)
	}
	cityID := uint(id)

	gridSize := defaultGridSize
	if raw := ctx.QueryParam("grid_size"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed < minGridSize || parsed > maxGridSize {
			return c.HandleError(ctx, err, "Invalid grid_size", http.StatusBadRequest)
		}
		gridSize = parsed
	}

	days := defaultHeatmapDays
	if raw := ctx.QueryParam("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxHeatmapDays {
			return c.HandleError(ctx, err, "Invalid days", http.StatusBadRequest)
		}
		days = parsed
	}

	city, err := c.DS.GetCity(cityID)
	if err != nil {
		if errors.IsNotFound(err) {
			return c.HandleError(ctx, err, "City not found", http.StatusNotFound)
		}
		return c.HandleError(ctx, err, "Failed to look up city", http.StatusInternalServerError)
	}

	cells, err := c.Calculator.Heatmap(cityID, gridSize, days)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to build heatmap", http.StatusInternalServerError)
	}

	return ctx.JSON(http.StatusOK, HeatmapResponse{
		CityID:      cityID,
		CityName:    city.Name,
		GridSize:    gridSize,
		Days:        days,
		TotalCells:  len(cells),
		Cells:       cells,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	})
}
