// interfaces.go: this code defines the interface for the database operations
package datastore

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/wayfareapp/wayfare-go/internal/conf"
	"github.com/wayfareapp/wayfare-go/internal/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Interface abstracts the underlying database implementation and defines the
// operations the safety scoring engine and the route layer depend on.
type Interface interface {
	Open() error
	Close() error

	// cities
	GetCity(id uint) (City, error)
	SaveCity(city *City) error
	UpdateCitySafetyIndex(id uint, value float64) error

	// safety reports
	SaveSafetyReport(report *SafetyReport) error
	GetSafetyReport(id uint) (SafetyReport, error)
	SetReportVerification(id uint, verified bool, verifiedAt *time.Time) error
	GetVerifiedCityReports(cityID uint, since time.Time) ([]SafetyReport, error)
	GetVerifiedReportsSince(since time.Time) ([]SafetyReport, error)
	SearchReports(filter ReportFilter) ([]SafetyReport, error)

	// activity proxy
	CountActiveCityUsers(cityID uint, since time.Time) (int, error)
	GetVerifiedProofsSince(since time.Time) ([]LocationProof, error)

	// news signal
	GetCityNewsArticles(cityID uint, since time.Time) ([]NewsArticle, error)
	GetGeoNewsArticles(since time.Time) ([]NewsArticle, error)
}

// ReportFilter narrows SearchReports results. Zero values mean "no filter"
// except Since, which is always applied by the caller.
type ReportFilter struct {
	CityID       *uint
	Type         string
	Since        time.Time
	VerifiedOnly bool
	Limit        int
	Offset       int
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB *gorm.DB // GORM database instance
}

// New creates a new datastore instance based on the provided configuration.
func New(settings *conf.Settings) (Interface, error) {
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{Settings: settings}, nil
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{Settings: settings}, nil
	default:
		return nil, errors.NewStd("no database backend enabled in configuration")
	}
}

// GetCity retrieves a city by its ID from the database.
func (ds *DataStore) GetCity(id uint) (City, error) {
	var city City
	if err := ds.DB.First(&city, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return City{}, errors.NotFoundError("city", id)
		}
		return City{}, errors.Newf("getting city %d: %w", id, err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return city, nil
}

// SaveCity inserts or updates a city record.
func (ds *DataStore) SaveCity(city *City) error {
	if err := ds.DB.Save(city).Error; err != nil {
		return errors.Newf("saving city: %w", err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return nil
}

// UpdateCitySafetyIndex overwrites the cached safety index for a city.
// Last writer wins; concurrent recomputes are not synchronized.
func (ds *DataStore) UpdateCitySafetyIndex(id uint, value float64) error {
	result := ds.DB.Model(&City{}).Where("id = ?", id).Update("safety_index", value)
	if result.Error != nil {
		return errors.Newf("updating safety index for city %d: %w", id, result.Error).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	if result.RowsAffected == 0 {
		return errors.NotFoundError("city", id)
	}
	return nil
}

// SaveSafetyReport stores a new safety report.
func (ds *DataStore) SaveSafetyReport(report *SafetyReport) error {
	if err := ds.DB.Create(report).Error; err != nil {
		return errors.Newf("saving safety report: %w", err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("city_id", report.CityID).
			Build()
	}
	return nil
}

// GetSafetyReport retrieves a safety report by its ID.
func (ds *DataStore) GetSafetyReport(id uint) (SafetyReport, error) {
	var report SafetyReport
	if err := ds.DB.First(&report, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return SafetyReport{}, errors.NotFoundError("safety report", id)
		}
		return SafetyReport{}, errors.Newf("getting safety report %d: %w", id, err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return report, nil
}

// SetReportVerification flips the verification state of a report.
// verifiedAt is cleared when verification is revoked.
func (ds *DataStore) SetReportVerification(id uint, verified bool, verifiedAt *time.Time) error {
	updates := map[string]any{
		"is_verified": verified,
		"verified_at": verifiedAt,
	}
	result := ds.DB.Model(&SafetyReport{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return errors.Newf("updating verification for report %d: %w", id, result.Error).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	if result.RowsAffected == 0 {
		return errors.NotFoundError("safety report", id)
	}
	return nil
}

// GetVerifiedCityReports returns active verified reports for a city newer than since.
func (ds *DataStore) GetVerifiedCityReports(cityID uint, since time.Time) ([]SafetyReport, error) {
	var reports []SafetyReport
	err := ds.DB.
		Where("city_id = ? AND is_verified = ? AND is_active = ? AND reported_at >= ?",
			cityID, true, true, since).
		Find(&reports).Error
	if err != nil {
		return nil, errors.Newf("getting verified reports for city %d: %w", cityID, err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return reports, nil
}

// GetVerifiedReportsSince returns all active verified reports newer than since,
// regardless of city. Used for area queries which filter by distance afterwards.
func (ds *DataStore) GetVerifiedReportsSince(since time.Time) ([]SafetyReport, error) {
	var reports []SafetyReport
	err := ds.DB.
		Where("is_verified = ? AND is_active = ? AND reported_at >= ?", true, true, since).
		Find(&reports).Error
	if err != nil {
		return nil, errors.Newf("getting verified reports: %w", err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return reports, nil
}

// SearchReports returns active reports matching the filter, newest first.
func (ds *DataStore) SearchReports(filter ReportFilter) ([]SafetyReport, error) {
	query := ds.DB.Where("is_active = ? AND reported_at >= ?", true, filter.Since)

	if filter.CityID != nil {
		query = query.Where("city_id = ?", *filter.CityID)
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.VerifiedOnly {
		query = query.Where("is_verified = ?", true)
	}

	var reports []SafetyReport
	err := query.
		Order("reported_at DESC").
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&reports).Error
	if err != nil {
		return nil, errors.Newf("searching reports: %w", err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return reports, nil
}

// CountActiveCityUsers counts distinct users with a verified location proof
// in the city newer than since.
func (ds *DataStore) CountActiveCityUsers(cityID uint, since time.Time) (int, error) {
	var count int64
	err := ds.DB.Model(&LocationProof{}).
		Where("city_id = ? AND is_verified = ? AND timestamp >= ?", cityID, true, since).
		Distinct("user_id").
		Count(&count).Error
	if err != nil {
		return 0, errors.Newf("counting active users for city %d: %w", cityID, err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return int(count), nil
}

// GetVerifiedProofsSince returns verified location proofs newer than since.
// Used for area queries which filter by distance afterwards.
func (ds *DataStore) GetVerifiedProofsSince(since time.Time) ([]LocationProof, error) {
	var proofs []LocationProof
	err := ds.DB.
		Where("is_verified = ? AND timestamp >= ?", true, since).
		Find(&proofs).Error
	if err != nil {
		return nil, errors.Newf("getting location proofs: %w", err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return proofs, nil
}

// GetCityNewsArticles returns relevant processed news articles tied to a city,
// with their pre-computed impact records preloaded.
func (ds *DataStore) GetCityNewsArticles(cityID uint, since time.Time) ([]NewsArticle, error) {
	var articles []NewsArticle
	err := ds.DB.
		Preload("Impacts", "is_active = ? AND expires_at > ?", true, time.Now().UTC()).
		Where("city_id = ? AND is_relevant = ? AND is_processed = ? AND processed_at >= ?",
			cityID, true, true, since).
		Find(&articles).Error
	if err != nil {
		return nil, errors.Newf("getting news articles for city %d: %w", cityID, err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return articles, nil
}

// GetGeoNewsArticles returns relevant processed news articles carrying
// coordinates, with impact records preloaded. Callers filter by distance.
func (ds *DataStore) GetGeoNewsArticles(since time.Time) ([]NewsArticle, error) {
	var articles []NewsArticle
	err := ds.DB.
		Preload("Impacts", "is_active = ? AND expires_at > ?", true, time.Now().UTC()).
		Where("latitude IS NOT NULL AND longitude IS NOT NULL AND is_relevant = ? AND is_processed = ? AND processed_at >= ?",
			true, true, since).
		Find(&articles).Error
	if err != nil {
		return nil, errors.Newf("getting geo news articles: %w", err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return articles, nil
}

// performAutoMigration automates database migrations with error handling.
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	if err := db.AutoMigrate(&City{}, &SafetyReport{}, &NewsArticle{}, &NewsSafetyImpact{}, &LocationProof{}); err != nil {
		return fmt.Errorf("failed to auto-migrate %s database: %w", dbType, err)
	}

	if debug {
		log.Printf("%s database connection initialized: %s", dbType, connectionInfo)
	}

	return nil
}

// createGormLogger configures and returns a new GORM logger instance.
func createGormLogger() logger.Interface {
	return logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold: 200 * time.Millisecond,
			LogLevel:      logger.Warn,
			Colorful:      true,
		},
	)
}
