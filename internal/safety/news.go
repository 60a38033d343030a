// news.go: aggregation of pre-scored news articles into a safety multiplier.
package safety

import (
	"time"

	"github.com/wayfareapp/wayfare-go/internal/datastore"
	"github.com/wayfareapp/wayfare-go/internal/errors"
	"github.com/wayfareapp/wayfare-go/internal/geo"
)

const (
	// newsFactorMin and newsFactorMax bound the aggregated news multiplier.
	newsFactorMin = 0.3
	newsFactorMax = 1.5

	// newsDecayDays is the linear decay window for inline article weights.
	newsDecayDays = 7.0

	// newsWeightFloor is the minimum recency weight of any article.
	newsWeightFloor = 0.1
)

// NewsFactor aggregates relevant news articles into a single multiplicative
// safety factor. Unlike the other sub-factors it is centered on 1.0: values
// below dampen the base score, values above lift it. With no articles the
// factor is neutral 1.0. The result is clamped to [0.3, 1.5].
//
// Articles with a pre-computed NewsSafetyImpact use it directly
// (weight = WeightFactor x DecayFactor, factor = ImpactFactor); otherwise
// the factor is derived inline from threat level and sentiment, weighted by
// confidence and recency.
func NewsFactor(articles []datastore.NewsArticle, now time.Time) float64 {
	if len(articles) == 0 {
		return 1.0
	}

	var weightedFactor, totalWeight float64

	for i := range articles {
		article := &articles[i]

		if impact := firstActiveImpact(article, now); impact != nil {
			weight := impact.WeightFactor * impact.DecayFactor
			weightedFactor += impact.ImpactFactor * weight
			totalWeight += weight
			continue
		}

		factor := inlineArticleFactor(article)

		daysOld := now.Sub(article.ProcessedAt).Hours() / 24
		decay := 1 - daysOld/newsDecayDays
		if decay < newsWeightFloor {
			decay = newsWeightFloor
		}
		weight := article.Confidence * decay

		weightedFactor += factor * weight
		totalWeight += weight
	}

	if totalWeight <= 0 {
		return 1.0
	}

	return clamp(weightedFactor/totalWeight, newsFactorMin, newsFactorMax)
}

// inlineArticleFactor derives a safety factor from the article's threat
// level and sentiment when no pre-computed impact record exists.
// Threat 1-3 lifts the factor up to 1.2, threat 4-6 is neutral, threat 7-10
// dampens it down to 0.6. Sentiment nudges the result by up to +-0.05.
func inlineArticleFactor(article *datastore.NewsArticle) float64 {
	var factor float64
	switch {
	case article.ThreatLevel <= 3:
		// 1.0 at threat 3 up to 1.2 at threat 1
		factor = 1.0 + float64(3-article.ThreatLevel)/2.0*0.2
	case article.ThreatLevel <= 6:
		factor = 1.0
	default:
		// 0.9 at threat 7 down to 0.6 at threat 10
		factor = 1.0 - float64(article.ThreatLevel-6)/4.0*0.4
	}

	return factor + article.SentimentPolarity*0.05
}

// firstActiveImpact returns the first unexpired active impact record, or nil.
func firstActiveImpact(article *datastore.NewsArticle, now time.Time) *datastore.NewsSafetyImpact {
	for i := range article.Impacts {
		impact := &article.Impacts[i]
		if impact.IsActive && impact.ExpiresAt.After(now) {
			return impact
		}
	}
	return nil
}

// newsArticlesNear returns the subset of articles whose coverage circle
// contains the target point. Articles without an explicit radius use
// defaultRadiusKm.
func newsArticlesNear(articles []datastore.NewsArticle, lat, lon, defaultRadiusKm float64) []datastore.NewsArticle {
	var matched []datastore.NewsArticle
	for i := range articles {
		article := &articles[i]
		if article.Latitude == nil || article.Longitude == nil {
			continue
		}
		radius := defaultRadiusKm
		if article.LocationRadiusKm != nil && *article.LocationRadiusKm > 0 {
			radius = *article.LocationRadiusKm
		}
		if geo.WithinRadiusKm(*article.Latitude, *article.Longitude, lat, lon, radius) {
			matched = append(matched, *article)
		}
	}
	return matched
}

// cityNewsArticles gathers articles tied to the city directly plus
// geo-tagged articles whose coverage overlaps the city center, de-duplicated.
func (c *Calculator) cityNewsArticles(city *datastore.City, since time.Time) ([]datastore.NewsArticle, error) {
	cityArticles, err := c.ds.GetCityNewsArticles(city.ID, since)
	if err != nil {
		return nil, errors.New(err).
			Component("safety").
			Category(errors.CategoryNewsSignal).
			Context("city_id", city.ID).
			Build()
	}

	geoArticles, err := c.ds.GetGeoNewsArticles(since)
	if err != nil {
		return nil, errors.New(err).
			Component("safety").
			Category(errors.CategoryNewsSignal).
			Build()
	}

	seen := make(map[uint]bool, len(cityArticles))
	for i := range cityArticles {
		seen[cityArticles[i].ID] = true
	}

	articles := cityArticles
	for _, article := range newsArticlesNear(geoArticles, city.Latitude, city.Longitude, c.settings.NewsRadiusKm) {
		if !seen[article.ID] {
			articles = append(articles, article)
		}
	}
	return articles, nil
}

// areaNewsArticles gathers geo-tagged articles whose coverage overlaps the
// target point.
func (c *Calculator) areaNewsArticles(lat, lon float64, since time.Time) ([]datastore.NewsArticle, error) {
	geoArticles, err := c.ds.GetGeoNewsArticles(since)
	if err != nil {
		return nil, errors.New(err).
			Component("safety").
			Category(errors.CategoryNewsSignal).
			Build()
	}
	return newsArticlesNear(geoArticles, lat, lon, c.settings.NewsRadiusKm), nil
}
