package safety

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wayfareapp/wayfare-go/internal/datastore"
)

func newsArticle(threat int, sentiment, confidence float64, processedAt time.Time) datastore.NewsArticle {
	return datastore.NewsArticle{
		ThreatLevel:       threat,
		SentimentPolarity: sentiment,
		Confidence:        confidence,
		IsRelevant:        true,
		IsProcessed:       true,
		ProcessedAt:       processedAt,
	}
}

func TestNewsFactorNoArticles(t *testing.T) {
	assert.InDelta(t, 1.0, NewsFactor(nil, time.Now()), 1e-9)
	assert.InDelta(t, 1.0, NewsFactor([]datastore.NewsArticle{}, time.Now()), 1e-9)
}

func TestNewsFactorInlineDerivation(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		threat    int
		sentiment float64
		want      float64
	}{
		{"calm news lifts", 1, 0.0, 1.2},
		{"mild threat boundary", 3, 0.0, 1.0},
		{"neutral band", 5, 0.0, 1.0},
		{"high threat dampens", 8, 0.0, 0.8},
		{"max threat", 10, 0.0, 0.6},
		{"sentiment nudge up", 5, 1.0, 1.05},
		{"sentiment nudge down", 5, -1.0, 0.95},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			articles := []datastore.NewsArticle{
				newsArticle(tt.threat, tt.sentiment, 1.0, now),
			}
			assert.InDelta(t, tt.want, NewsFactor(articles, now), 1e-9)
		})
	}
}

func TestNewsFactorConfidenceAndRecencyWeighting(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	// Fresh high-confidence severe article vs an old low-confidence calm one.
	// Weights: 1.0*1.0 = 1.0 and 0.5*0.1 (recency floored) = 0.05.
	articles := []datastore.NewsArticle{
		newsArticle(10, 0.0, 1.0, now),
		newsArticle(1, 0.0, 0.5, now.AddDate(0, 0, -14)),
	}
	want := (0.6*1.0 + 1.2*0.05) / 1.05
	assert.InDelta(t, want, NewsFactor(articles, now), 1e-9)
}

func TestNewsFactorZeroConfidenceFallsBackToNeutral(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	articles := []datastore.NewsArticle{
		newsArticle(10, 0.0, 0.0, now),
	}
	assert.InDelta(t, 1.0, NewsFactor(articles, now), 1e-9)
}

func TestNewsFactorPrefersImpactRecords(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	article := newsArticle(1, 0.0, 1.0, now) // inline would say 1.2
	article.Impacts = []datastore.NewsSafetyImpact{
		{
			ImpactFactor: 0.5,
			WeightFactor: 1.0,
			DecayFactor:  0.8,
			IsActive:     true,
			ExpiresAt:    now.Add(24 * time.Hour),
		},
	}

	assert.InDelta(t, 0.5, NewsFactor([]datastore.NewsArticle{article}, now), 1e-9)
}

func TestNewsFactorIgnoresExpiredAndInactiveImpacts(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	article := newsArticle(10, 0.0, 1.0, now)
	article.Impacts = []datastore.NewsSafetyImpact{
		{ImpactFactor: 1.5, WeightFactor: 1.0, DecayFactor: 1.0, IsActive: true, ExpiresAt: now.Add(-time.Hour)},
		{ImpactFactor: 1.5, WeightFactor: 1.0, DecayFactor: 1.0, IsActive: false, ExpiresAt: now.Add(time.Hour)},
	}

	// Both impacts are unusable, the inline derivation applies.
	assert.InDelta(t, 0.6, NewsFactor([]datastore.NewsArticle{article}, now), 1e-9)
}

func TestNewsFactorClampBounds(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	severe := newsArticle(10, 0.0, 1.0, now)
	severe.Impacts = []datastore.NewsSafetyImpact{
		{ImpactFactor: 0.05, WeightFactor: 1.0, DecayFactor: 1.0, IsActive: true, ExpiresAt: now.Add(time.Hour)},
	}
	assert.InDelta(t, 0.3, NewsFactor([]datastore.NewsArticle{severe}, now), 1e-9)

	glowing := newsArticle(1, 0.0, 1.0, now)
	glowing.Impacts = []datastore.NewsSafetyImpact{
		{ImpactFactor: 2.5, WeightFactor: 1.0, DecayFactor: 1.0, IsActive: true, ExpiresAt: now.Add(time.Hour)},
	}
	assert.InDelta(t, 1.5, NewsFactor([]datastore.NewsArticle{glowing}, now), 1e-9)
}

func TestNewsArticlesNear(t *testing.T) {
	lat, lon := 60.0, 25.0
	nearLat, nearLon := 60.01, 25.0 // about 1.1 km away
	farLat, farLon := 61.0, 25.0    // about 111 km away
	smallRadius := 0.5

	articles := []datastore.NewsArticle{
		{ID: 1, Latitude: &nearLat, Longitude: &nearLon},
		{ID: 2, Latitude: &farLat, Longitude: &farLon},
		{ID: 3}, // no coordinates, never matches
		{ID: 4, Latitude: &nearLat, Longitude: &nearLon, LocationRadiusKm: &smallRadius},
	}

	matched := newsArticlesNear(articles, lat, lon, 50.0)

	ids := make([]uint, 0, len(matched))
	for _, a := range matched {
		ids = append(ids, a.ID)
	}
	// Article 4 overrides the default radius with one too small to reach.
	assert.Equal(t, []uint{1}, ids)
}
