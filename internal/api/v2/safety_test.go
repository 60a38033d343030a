package api

import (
	"encoding/json"
	"io"
	"log"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/wayfareapp/wayfare-go/internal/conf"
	"github.com/wayfareapp/wayfare-go/internal/datastore"
	"github.com/wayfareapp/wayfare-go/internal/errors"
	"github.com/wayfareapp/wayfare-go/internal/safety"
)

// mockStore is a testify mock of the datastore interface.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) Open() error  { return m.Called().Error(0) }
func (m *mockStore) Close() error { return m.Called().Error(0) }

func (m *mockStore) GetCity(id uint) (datastore.City, error) {
	args := m.Called(id)
	return args.Get(0).(datastore.City), args.Error(1)
}

func (m *mockStore) SaveCity(city *datastore.City) error {
	return m.Called(city).Error(0)
}

func (m *mockStore) UpdateCitySafetyIndex(id uint, value float64) error {
	return m.Called(id, value).Error(0)
}

func (m *mockStore) SaveSafetyReport(report *datastore.SafetyReport) error {
	return m.Called(report).Error(0)
}

func (m *mockStore) GetSafetyReport(id uint) (datastore.SafetyReport, error) {
	args := m.Called(id)
	return args.Get(0).(datastore.SafetyReport), args.Error(1)
}

func (m *mockStore) SetReportVerification(id uint, verified bool, verifiedAt *time.Time) error {
	return m.Called(id, verified, verifiedAt).Error(0)
}

func (m *mockStore) GetVerifiedCityReports(cityID uint, since time.Time) ([]datastore.SafetyReport, error) {
	args := m.Called(cityID, since)
	return args.Get(0).([]datastore.SafetyReport), args.Error(1)
}

func (m *mockStore) GetVerifiedReportsSince(since time.Time) ([]datastore.SafetyReport, error) {
	args := m.Called(since)
	return args.Get(0).([]datastore.SafetyReport), args.Error(1)
}

func (m *mockStore) SearchReports(filter datastore.ReportFilter) ([]datastore.SafetyReport, error) {
	args := m.Called(filter)
	return args.Get(0).([]datastore.SafetyReport), args.Error(1)
}

func (m *mockStore) CountActiveCityUsers(cityID uint, since time.Time) (int, error) {
	args := m.Called(cityID, since)
	return args.Int(0), args.Error(1)
}

func (m *mockStore) GetVerifiedProofsSince(since time.Time) ([]datastore.LocationProof, error) {
	args := m.Called(since)
	return args.Get(0).([]datastore.LocationProof), args.Error(1)
}

func (m *mockStore) GetCityNewsArticles(cityID uint, since time.Time) ([]datastore.NewsArticle, error) {
	args := m.Called(cityID, since)
	return args.Get(0).([]datastore.NewsArticle), args.Error(1)
}

func (m *mockStore) GetGeoNewsArticles(since time.Time) ([]datastore.NewsArticle, error) {
	args := m.Called(since)
	return args.Get(0).([]datastore.NewsArticle), args.Error(1)
}

func testSettings() *conf.Settings {
	return &conf.Settings{
		Safety: conf.SafetySettings{
			Weights:        conf.SafetyWeights{Reports: 0.4, Time: 0.3, Density: 0.3},
			ReportWindow:   30,
			NewsWindow:     7,
			ActivityWindow: 24,
			NewsRadiusKm:   50.0,
		},
	}
}

// newTestController wires a controller with routes registered but without
// touching the filesystem for logs.
func newTestController(t *testing.T, ds datastore.Interface) (*Controller, *echo.Echo) {
	t.Helper()

	settings := testSettings()
	e := echo.New()
	c := &Controller{
		Echo:       e,
		DS:         ds,
		Settings:   settings,
		Calculator: safety.New(ds, &settings.Safety, nil),
		logger:     log.New(io.Discard, "", 0),
		apiLogger:  slog.New(slog.NewJSONHandler(io.Discard, nil)),
		areaCache:  cache.New(time.Minute, time.Minute),
	}
	c.Group = e.Group("/api/v2")
	c.initRoutes()
	return c, e
}

var testCity = datastore.City{ID: 1, Name: "Helsinki", Country: "Finland", Latitude: 60.1699, Longitude: 24.9384}

// expectCityComputation registers the datastore calls a city index recompute makes.
func expectCityComputation(ds *mockStore) {
	ds.On("GetCity", uint(1)).Return(testCity, nil)
	ds.On("GetVerifiedCityReports", uint(1), mock.Anything).Return([]datastore.SafetyReport{}, nil)
	ds.On("CountActiveCityUsers", uint(1), mock.Anything).Return(0, nil)
	ds.On("GetCityNewsArticles", uint(1), mock.Anything).Return([]datastore.NewsArticle{}, nil)
	ds.On("GetGeoNewsArticles", mock.Anything).Return([]datastore.NewsArticle{}, nil)
	ds.On("UpdateCitySafetyIndex", uint(1), mock.Anything).Return(nil)
}

func TestHealthCheck(t *testing.T) {
	ds := &mockStore{}
	ds.On("GetVerifiedReportsSince", mock.Anything).Return([]datastore.SafetyReport{}, nil)
	_, e := newTestController(t, ds)

	req := httptest.NewRequest(http.MethodGet, "/api/v2/health", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "connected", body["database_status"])
}

func TestCreateSafetyReport(t *testing.T) {
	ds := &mockStore{}
	expectCityComputation(ds)
	ds.On("SaveSafetyReport", mock.Anything).Return(nil)
	_, e := newTestController(t, ds)

	payload := `{"reporter_id":7,"city_id":1,"latitude":60.17,"longitude":24.94,` +
		`"type":"PICKPOCKET_RISK","severity":8,"description":"crowded station"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v2/safety/reports", strings.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var body ReportResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, uint(1), body.CityID)
	assert.Equal(t, datastore.ReportPickpocketRisk, body.Type)
	assert.False(t, body.IsVerified)

	// Submitting a report refreshes the cached city index
	ds.AssertCalled(t, "UpdateCitySafetyIndex", uint(1), mock.Anything)
}

func TestCreateSafetyReportValidation(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		code    int
	}{
		{"unknown type", `{"city_id":1,"latitude":0,"longitude":0,"type":"LOUD_MUSIC","severity":5}`, http.StatusBadRequest},
		{"severity too high", `{"city_id":1,"latitude":0,"longitude":0,"type":"WELL_LIT","severity":11}`, http.StatusBadRequest},
		{"severity too low", `{"city_id":1,"latitude":0,"longitude":0,"type":"WELL_LIT","severity":0}`, http.StatusBadRequest},
		{"latitude out of range", `{"city_id":1,"latitude":91,"longitude":0,"type":"WELL_LIT","severity":5}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := &mockStore{}
			_, e := newTestController(t, ds)

			req := httptest.NewRequest(http.MethodPost, "/api/v2/safety/reports", strings.NewReader(tt.payload))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			assert.Equal(t, tt.code, rec.Code)
			ds.AssertNotCalled(t, "SaveSafetyReport", mock.Anything)
		})
	}
}

func TestCreateSafetyReportUnknownCity(t *testing.T) {
	ds := &mockStore{}
	ds.On("GetCity", uint(42)).Return(datastore.City{}, errors.NotFoundError("city", uint(42)))
	_, e := newTestController(t, ds)

	payload := `{"city_id":42,"latitude":0,"longitude":0,"type":"WELL_LIT","severity":5}`
	req := httptest.NewRequest(http.MethodPost, "/api/v2/safety/reports", strings.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "City not found", body.Message)
	assert.NotEmpty(t, body.CorrelationID)
}

func TestListSafetyReports(t *testing.T) {
	reports := []datastore.SafetyReport{
		{ID: 2, CityID: 1, Type: datastore.ReportWellLit, Severity: 7, ReportedAt: time.Now()},
		{ID: 1, CityID: 1, Type: datastore.ReportTouristScam, Severity: 4, ReportedAt: time.Now().Add(-time.Hour)},
	}

	ds := &mockStore{}
	ds.On("SearchReports", mock.MatchedBy(func(f datastore.ReportFilter) bool {
		return f.CityID != nil && *f.CityID == 1 && f.Limit == 100 && f.VerifiedOnly
	})).Return(reports, nil)
	_, e := newTestController(t, ds)

	// limit above the maximum is clamped to 100
	req := httptest.NewRequest(http.MethodGet,
		"/api/v2/safety/reports?city_id=1&verified_only=true&limit=500", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Reports []ReportResponse `json:"reports"`
		Count   int              `json:"count"`
		Limit   int              `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, 100, body.Limit)
	assert.Equal(t, uint(2), body.Reports[0].ID)
}

func TestListSafetyReportsLocationFilter(t *testing.T) {
	reports := []datastore.SafetyReport{
		{ID: 1, CityID: 1, Type: datastore.ReportWellLit, Severity: 7,
			Latitude: 60.17, Longitude: 24.94, ReportedAt: time.Now()},
		{ID: 2, CityID: 1, Type: datastore.ReportWellLit, Severity: 7,
			Latitude: 61.0, Longitude: 24.94, ReportedAt: time.Now()}, // ~92 km away
	}

	ds := &mockStore{}
	ds.On("SearchReports", mock.Anything).Return(reports, nil)
	_, e := newTestController(t, ds)

	req := httptest.NewRequest(http.MethodGet,
		"/api/v2/safety/reports?lat=60.17&lon=24.94&radius_km=5", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Reports []ReportResponse `json:"reports"`
		Count   int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, uint(1), body.Reports[0].ID)
}

func TestVerifySafetyReport(t *testing.T) {
	verifiedAt := time.Now().UTC()
	report := datastore.SafetyReport{
		ID: 3, CityID: 1, Type: datastore.ReportUnsafeArea, Severity: 9,
		IsVerified: true, VerifiedAt: &verifiedAt, ReportedAt: time.Now(), IsActive: true,
	}

	ds := &mockStore{}
	expectCityComputation(ds)
	ds.On("SetReportVerification", uint(3), true, mock.Anything).Return(nil)
	ds.On("GetSafetyReport", uint(3)).Return(report, nil)
	_, e := newTestController(t, ds)

	req := httptest.NewRequest(http.MethodPost, "/api/v2/safety/reports/3/verify",
		strings.NewReader(`{"verified":true}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body ReportResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.IsVerified)

	// Verification changes feed the index, the city cache must refresh
	ds.AssertCalled(t, "UpdateCitySafetyIndex", uint(1), mock.Anything)
}

func TestVerifySafetyReportNotFound(t *testing.T) {
	ds := &mockStore{}
	ds.On("SetReportVerification", uint(9), true, mock.Anything).
		Return(errors.NotFoundError("safety report", uint(9)))
	_, e := newTestController(t, ds)

	req := httptest.NewRequest(http.MethodPost, "/api/v2/safety/reports/9/verify",
		strings.NewReader(`{"verified":true}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetCitySafetyIndex(t *testing.T) {
	city := testCity
	city.SafetyIndex = 6.2 // previously cached score

	ds := &mockStore{}
	ds.On("GetCity", uint(1)).Return(city, nil)
	ds.On("GetVerifiedCityReports", uint(1), mock.Anything).Return([]datastore.SafetyReport{}, nil)
	ds.On("CountActiveCityUsers", uint(1), mock.Anything).Return(0, nil)
	ds.On("GetCityNewsArticles", uint(1), mock.Anything).Return([]datastore.NewsArticle{}, nil)
	ds.On("GetGeoNewsArticles", mock.Anything).Return([]datastore.NewsArticle{}, nil)
	ds.On("UpdateCitySafetyIndex", uint(1), mock.Anything).Return(nil)
	_, e := newTestController(t, ds)

	req := httptest.NewRequest(http.MethodGet, "/api/v2/safety/index/city/1", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body CityIndexResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, uint(1), body.CityID)
	assert.Equal(t, "Helsinki", body.CityName)
	assert.GreaterOrEqual(t, body.SafetyIndex, 0.0)
	assert.LessOrEqual(t, body.SafetyIndex, 10.0)
	assert.NotEmpty(t, body.SafetyLevel)
	require.NotNil(t, body.PreviousIndex)
	assert.InDelta(t, 6.2, *body.PreviousIndex, 1e-9)
	assert.Contains(t, []string{"improving", "declining", "stable"}, body.Trend)
	assert.Equal(t, 0, body.RecentReports)
}

func TestGetCitySafetyIndexNotFound(t *testing.T) {
	ds := &mockStore{}
	ds.On("GetCity", uint(404)).Return(datastore.City{}, errors.NotFoundError("city", uint(404)))
	_, e := newTestController(t, ds)

	req := httptest.NewRequest(http.MethodGet, "/api/v2/safety/index/city/404", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetAreaSafetyIndex(t *testing.T) {
	ds := &mockStore{}
	ds.On("GetVerifiedReportsSince", mock.Anything).Return([]datastore.SafetyReport{}, nil)
	ds.On("GetVerifiedProofsSince", mock.Anything).Return([]datastore.LocationProof{}, nil)
	ds.On("GetGeoNewsArticles", mock.Anything).Return([]datastore.NewsArticle{}, nil)
	_, e := newTestController(t, ds)

	req := httptest.NewRequest(http.MethodGet,
		"/api/v2/safety/index/area?lat=60.17&lon=24.94&radius_km=2.0", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.InDelta(t, 60.17, body["latitude"].(float64), 1e-9)
	assert.NotEmpty(t, body["safety_level"])
	assert.Contains(t, body, "factors")
	assert.Contains(t, body, "data")
}

func TestGetAreaSafetyIndexCaches(t *testing.T) {
	ds := &mockStore{}
	ds.On("GetVerifiedReportsSince", mock.Anything).Return([]datastore.SafetyReport{}, nil).Once()
	ds.On("GetVerifiedProofsSince", mock.Anything).Return([]datastore.LocationProof{}, nil).Once()
	ds.On("GetGeoNewsArticles", mock.Anything).Return([]datastore.NewsArticle{}, nil).Once()
	_, e := newTestController(t, ds)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet,
			"/api/v2/safety/index/area?lat=60.17&lon=24.94", http.NoBody)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	// The second request is served from cache, the store is hit once.
	ds.AssertExpectations(t)
}

func TestGetAreaSafetyIndexValidation(t *testing.T) {
	ds := &mockStore{}
	_, e := newTestController(t, ds)

	urls := []string{
		"/api/v2/safety/index/area?lat=91&lon=0",
		"/api/v2/safety/index/area?lat=0&lon=181",
		"/api/v2/safety/index/area?lon=24.94",
		"/api/v2/safety/index/area?lat=60.17&lon=24.94&radius_km=100",
	}
	for _, url := range urls {
		req := httptest.NewRequest(http.MethodGet, url, http.NoBody)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "url %s", url)
	}
}

func TestGetSafetyHeatmap(t *testing.T) {
	reports := []datastore.SafetyReport{
		{Type: datastore.ReportWellLit, Severity: 10, Latitude: 60.17, Longitude: 24.94, ReportedAt: time.Now()},
		{Type: datastore.ReportUnsafeArea, Severity: 10, Latitude: 60.19, Longitude: 24.96, ReportedAt: time.Now()},
	}

	ds := &mockStore{}
	ds.On("GetCity", uint(1)).Return(testCity, nil)
	ds.On("GetVerifiedCityReports", uint(1), mock.Anything).Return(reports, nil)
	_, e := newTestController(t, ds)

	req := httptest.NewRequest(http.MethodGet, "/api/v2/safety/heatmap/1?grid_size=0.01&days=14", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body HeatmapResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, uint(1), body.CityID)
	assert.Equal(t, "Helsinki", body.CityName)
	assert.InDelta(t, 0.01, body.GridSize, 1e-9)
	assert.Equal(t, 14, body.Days)
	assert.Equal(t, 2, body.TotalCells)
	assert.Len(t, body.Cells, 2)
}

func TestGetSafetyHeatmapValidation(t *testing.T) {
	ds := &mockStore{}
	_, e := newTestController(t, ds)

	urls := []string{
		"/api/v2/safety/heatmap/1?grid_size=0.0001",
		"/api/v2/safety/heatmap/1?grid_size=2",
		"/api/v2/safety/heatmap/1?days=0",
		"/api/v2/safety/heatmap/1?days=365",
		"/api/v2/safety/heatmap/abc",
	}
	for _, url := range urls {
		req := httptest.NewRequest(http.MethodGet, url, http.NoBody)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "url %s", url)
	}
}
