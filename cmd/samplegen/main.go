package main

import (
	"flag"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"propcast/internal/storage"
)

func main() {
	var (
		dataPath = flag.String("data", "data", "Data directory path")
		subjects = flag.Int("subjects", 30, "Number of players to simulate")
		days     = flag.Int("days", 60, "Number of game days to generate")
		seed     = flag.Int64("seed", 1, "Random seed")
	)
	flag.Parse()

	fmt.Printf("Generating sample prop data...\n")
	fmt.Printf("  Players: %d\n", *subjects)
	fmt.Printf("  Days: %d\n", *days)
	fmt.Printf("  Data Path: %s\n", *dataPath)

	store, err := storage.New(*dataPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create storage")
	}
	defer store.Close()

	n, err := generateSamples(store, *subjects, *days, rand.New(rand.NewSource(*seed)))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to generate data")
	}

	fmt.Printf("✓ Generated %d labelled samples\n", n)
}

type player struct {
	name    string
	average float64 // season points average
	line    float64 // the prop line the label is measured against
}

// generateSamples simulates one game per player every other day. Scoring
// drifts with rest and minutes, and the label is whether the player beat
// their line.
func generateSamples(store *storage.Store, subjects, days int, rng *rand.Rand) (int, error) {
	players := make([]player, subjects)
	for i := range players {
		avg := 10 + rng.Float64()*20
		players[i] = player{
			name:    fmt.Sprintf("player-%03d", i+1),
			average: avg,
			line:    math.Round(avg*2) / 2,
		}
	}

	start := time.Now().UTC().Truncate(24*time.Hour).AddDate(0, 0, -days)
	count := 0
	for d := 0; d < days; d += 2 {
		gameTime := start.AddDate(0, 0, d).Add(19 * time.Hour)
		for _, p := range players {
			rest := float64(1 + rng.Intn(3))
			minutes := 24 + rng.Float64()*14
			defRating := 105 + rng.NormFloat64()*4

			expected := p.average*(minutes/32) + 0.8*(rest-2) - 0.25*(defRating-105)
			scored := expected + rng.NormFloat64()*4
			label := 0
			if scored > p.line {
				label = 1
			}

			rec := storage.SampleRecord{
				Subject:   p.name,
				Timestamp: gameTime,
				Features: map[string]float64{
					"player_points":    p.average + rng.NormFloat64(),
					"days_rest":        rest,
					"minutes":          minutes,
					"opponent_def_rtg": defRating,
					"line":             p.line,
				},
				Label: &label,
			}
			if err := store.StoreSample(rec); err != nil {
				return count, fmt.Errorf("failed to store sample: %w", err)
			}
			count++
		}
	}
	return count, nil
}
