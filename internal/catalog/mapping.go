package catalog

import (
	"math/rand"
	"strings"

	"github.com/shopspring/decimal"
)

// indoorHints mark venues assumed to be covered; everything else is treated
// as outdoor for wager eligibility purposes.
var indoorHints = []string{"arena", "center", "centre", "theatre", "theater", "hall", "auditorium"}

// InferOutdoor guesses whether a venue is outdoors from its name. An empty
// name defaults to outdoor.
func InferOutdoor(venueName string) bool {
	if venueName == "" {
		return true
	}
	n := strings.ToLower(venueName)
	for _, hint := range indoorHints {
		if strings.Contains(n, hint) {
			return false
		}
	}
	return true
}

// NormalizeCategory folds an upstream segment name into one of the four
// categories the pricing estimates know about.
func NormalizeCategory(segment string) string {
	s := strings.ToLower(segment)
	switch {
	case strings.Contains(s, "sports"):
		return "sports"
	case strings.Contains(s, "festival"):
		return "festival"
	case strings.Contains(s, "theatre"), strings.Contains(s, "theater"):
		return "theatre"
	default:
		return "concert"
	}
}

// EstimatePrice returns a per-ticket price estimate by category, used when
// the catalog omits price ranges. Flagged to the user as an estimate.
func EstimatePrice(category string) decimal.Decimal {
	switch NormalizeCategory(category) {
	case "sports":
		return decimal.NewFromInt(120)
	case "festival":
		return decimal.NewFromInt(150)
	case "theatre":
		return decimal.NewFromInt(80)
	default:
		return decimal.NewFromInt(95)
	}
}

// pickBestImage scores the upstream image set: prefer 16:9, wider and
// reasonably large, with any URL at all beating none.
func pickBestImage(ev eventPayload) string {
	best := ""
	bestScore := -1
	for _, im := range ev.Images {
		score := 10
		switch im.Ratio {
		case "16_9":
			score = 40
		case "4_3":
			score = 20
		}
		w := im.Width / 40
		if w > 60 {
			w = 60
		}
		score += w
		if im.URL != "" {
			score += 10
		}
		if score > bestScore {
			bestScore = score
			best = im.URL
		}
	}
	return best
}

// KeywordSeeder supplies a search keyword when the user provides none.
// Isolated behind an interface so randomized seeding stays testable.
type KeywordSeeder interface {
	Seed() string
}

// StaticSeeder always returns the same keyword.
type StaticSeeder string

func (s StaticSeeder) Seed() string { return string(s) }

// RandomSeeder picks a keyword from a fixed pool using an injected source.
type RandomSeeder struct {
	rng      *rand.Rand
	keywords []string
}

// NewRandomSeeder creates a seeder over the given keyword pool.
func NewRandomSeeder(rng *rand.Rand, keywords ...string) *RandomSeeder {
	if len(keywords) == 0 {
		keywords = []string{"music"}
	}
	return &RandomSeeder{rng: rng, keywords: keywords}
}

func (s *RandomSeeder) Seed() string {
	return s.keywords[s.rng.Intn(len(s.keywords))]
}
