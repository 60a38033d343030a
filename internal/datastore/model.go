// model.go this code defines the data model for the application
package datastore

import "time"

// Report type values. The scoring engine partitions these into positive
// and negative observations; OTHER is scored neutral.
const (
	ReportUnsafeArea        = "UNSAFE_AREA"
	ReportWellLit           = "WELL_LIT"
	ReportPolicePresence    = "POLICE_PRESENCE"
	ReportCrowdedArea       = "CROWDED_AREA"
	ReportEmergencyServices = "EMERGENCY_SERVICES"
	ReportUnsafeTransport   = "UNSAFE_TRANSPORT"
	ReportSafeTransport     = "SAFE_TRANSPORT"
	ReportTouristScam       = "TOURIST_SCAM"
	ReportPickpocketRisk    = "PICKPOCKET_RISK"
	ReportOther             = "OTHER"
)

// ValidReportTypes lists every accepted safety report type.
var ValidReportTypes = []string{
	ReportUnsafeArea, ReportWellLit, ReportPolicePresence, ReportCrowdedArea,
	ReportEmergencyServices, ReportUnsafeTransport, ReportSafeTransport,
	ReportTouristScam, ReportPickpocketRisk, ReportOther,
}

// IsValidReportType reports whether t is an accepted safety report type.
func IsValidReportType(t string) bool {
	for _, v := range ValidReportTypes {
		if v == t {
			return true
		}
	}
	return false
}

// City represents a city known to the service.
//
// SafetyIndex is a derived cache, not a source of truth: it is overwritten
// on every recompute (new report, verification change, explicit refresh)
// and may be stale between recomputes. Concurrent recomputes race
// last-writer-wins, which is accepted for an approximate value.
type City struct {
	ID          uint   `gorm:"primaryKey"`
	Name        string `gorm:"index:idx_cities_name"`
	Country     string
	Latitude    float64
	Longitude   float64
	SafetyIndex float64 // cached 0-10 score, refreshed on demand
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SafetyReport represents a single incident or positive-safety observation
// submitted by a user. Reports are never hard-deleted; withdrawal clears
// IsActive and moderation flips IsVerified.
type SafetyReport struct {
	ID          uint   `gorm:"primaryKey"`
	ReporterID  uint   `gorm:"index:idx_reports_reporter"`
	CityID      uint   `gorm:"index:idx_reports_city;not null"`
	Latitude    float64
	Longitude   float64
	Type        string `gorm:"type:varchar(32);index:idx_reports_type"`
	Severity    int    // 1-10
	Description string `gorm:"type:text"`
	IsVerified  bool   `gorm:"index:idx_reports_verified"`
	VerifiedAt  *time.Time
	ReportedAt  time.Time `gorm:"index:idx_reports_reported_at"`
	IsActive    bool      `gorm:"default:true"`
}

// NewsArticle is a pre-scored news item produced by the out-of-scope
// scraping/analysis pipeline. Either CityID or a coordinate+radius ties
// the article to a location; both may be present.
type NewsArticle struct {
	ID                uint  `gorm:"primaryKey"`
	CityID            *uint `gorm:"index:idx_news_city"`
	Title             string
	URL               string
	Latitude          *float64
	Longitude         *float64
	LocationRadiusKm  *float64 // nil means the default analysis radius applies
	ThreatLevel       int      // 1-10, higher is more threatening
	SentimentPolarity float64  // -1..1
	Confidence        float64  // 0..1
	IsRelevant        bool     `gorm:"index:idx_news_relevant"`
	IsProcessed       bool
	ProcessedAt       time.Time          `gorm:"index:idx_news_processed_at"`
	Impacts           []NewsSafetyImpact `gorm:"foreignKey:ArticleID;constraint:OnDelete:CASCADE"`
}

// NewsSafetyImpact is a pre-computed impact record derived from an article.
// When present it takes precedence over inline derivation from the article.
type NewsSafetyImpact struct {
	ID           uint `gorm:"primaryKey"`
	ArticleID    uint `gorm:"index;not null;constraint:OnDelete:CASCADE,OnUpdate:CASCADE;foreignKey:ArticleID;references:ID"`
	ImpactFactor float64
	WeightFactor float64
	DecayFactor  float64
	RadiusKm     float64
	ExpiresAt    time.Time `gorm:"index"`
	IsActive     bool      `gorm:"default:true"`
}

// LocationProof is a verified presence record used as the activity proxy:
// recent proofs near a point (or tied to a city) indicate crowd presence.
type LocationProof struct {
	ID         uint  `gorm:"primaryKey"`
	UserID     uint  `gorm:"index:idx_proofs_user"`
	CityID     *uint `gorm:"index:idx_proofs_city"`
	Latitude   float64
	Longitude  float64
	IsVerified bool
	Timestamp  time.Time `gorm:"index:idx_proofs_timestamp"`
}
