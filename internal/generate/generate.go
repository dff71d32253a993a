// Package generate writes one day of synthetic source files.
//
// Output is fully determined by (seed, n_apps, run date, dimensions): every
// random draw, identifiers included, comes from one seeded source.
package generate

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/JonMunkholm/dailydrop/internal/core"
	"github.com/google/uuid"
)

// DefaultDimensions are used for any dimension list the config leaves empty.
var DefaultDimensions = core.Dimensions{
	Products:          []string{"classic", "gold", "platinum"},
	Channels:          []string{"online", "branch"},
	Segments:          []string{"mass", "affluent"},
	ScorecardVersions: []string{"v1", "v2"},
}

// Draw weights by list length; other lengths draw uniformly.
var (
	productWeights   = []float64{0.5, 0.35, 0.15}
	channelWeights   = []float64{0.7, 0.3}
	segmentWeights   = []float64{0.85, 0.15}
	scorecardWeights = []float64{0.5, 0.5}
	dpdValues        = []int{0, 30, 60, 90}
	dpdWeights       = []float64{0.85, 0.10, 0.04, 0.01}
)

// Generator produces the five daily source files.
type Generator struct {
	dims core.Dimensions
}

// New creates a generator; empty dimension lists fall back to DefaultDimensions.
func New(dims core.Dimensions) *Generator {
	if len(dims.Products) == 0 {
		dims.Products = DefaultDimensions.Products
	}
	if len(dims.Channels) == 0 {
		dims.Channels = DefaultDimensions.Channels
	}
	if len(dims.Segments) == 0 {
		dims.Segments = DefaultDimensions.Segments
	}
	if len(dims.ScorecardVersions) == 0 {
		dims.ScorecardVersions = DefaultDimensions.ScorecardVersions
	}
	return &Generator{dims: dims}
}

type account struct {
	id, applicationID string
}

// Generate writes <dataDir>/<runDate>/{applications,accounts,transactions,payments,delinquency}.csv
// and returns the row count per file's table.
func (g *Generator) Generate(ctx context.Context, dataDir string, runDate time.Time, nApps int, seed int64) (map[string]int, error) {
	if nApps <= 0 {
		return nil, fmt.Errorf("n_apps must be positive, got %d", nApps)
	}
	day := runDate.UTC().Truncate(24 * time.Hour)
	dir := core.RunDir(dataDir, day.Format(core.RunDateLayout))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}

	rng := rand.New(rand.NewSource(seed))
	newID := func() string {
		return uuid.Must(uuid.NewRandomFromReader(rng)).String()
	}

	apps := [][]string{{"application_id", "scorecard_version", "decision", "bureau_score", "product", "channel", "segment"}}
	var approved []string
	for i := 0; i < nApps; i++ {
		id := newID()
		decision := "declined"
		if rng.Float64() < 0.7 {
			decision = "approved"
			approved = append(approved, id)
		}
		apps = append(apps, []string{
			id,
			pick(rng, g.dims.ScorecardVersions, scorecardWeights),
			decision,
			strconv.Itoa(300 + rng.Intn(550)),
			pick(rng, g.dims.Products, productWeights),
			pick(rng, g.dims.Channels, channelWeights),
			pick(rng, g.dims.Segments, segmentWeights),
		})
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	accts := [][]string{{"account_id", "application_id", "activation_date"}}
	var accounts []account
	for _, appID := range approved {
		if rng.Float64() >= 0.8 {
			continue
		}
		a := account{id: newID(), applicationID: appID}
		accounts = append(accounts, a)
		accts = append(accts, []string{a.id, a.applicationID, dayWithin(rng, day, 3)})
	}

	txns := [][]string{{"transaction_id", "account_id", "transaction_date", "amount"}}
	pmts := [][]string{{"payment_id", "account_id", "payment_date", "amount"}}
	delq := [][]string{{"account_id", "days_past_due", "default_flag"}}
	for _, a := range accounts {
		for n := 1 + rng.Intn(4); n > 0; n-- {
			txns = append(txns, []string{newID(), a.id, dayWithin(rng, day, 30), amount(rng, 100, 50)})
		}
		for n := 1 + rng.Intn(3); n > 0; n-- {
			pmts = append(pmts, []string{newID(), a.id, dayWithin(rng, day, 30), amount(rng, 80, 40)})
		}
		defaultFlag := "0"
		dpd := dpdValues[weightedIndex(rng, dpdWeights)]
		if rng.Float64() < 0.1 {
			defaultFlag = "1"
		}
		delq = append(delq, []string{a.id, strconv.Itoa(dpd), defaultFlag})
	}

	files := []struct {
		table string
		rows  [][]string
	}{
		{"applications", apps},
		{"accounts", accts},
		{"transactions", txns},
		{"payments", pmts},
		{"delinquency", delq},
	}

	counts := make(map[string]int, len(files))
	for _, f := range files {
		if err := writeCSV(filepath.Join(dir, f.table+".csv"), f.rows); err != nil {
			return nil, err
		}
		counts[f.table] = len(f.rows) - 1
	}

	slog.Info("generated synthetic data",
		"run_date", day.Format(core.RunDateLayout),
		"dir", dir,
		"applications", counts["applications"],
		"approved", len(approved),
		"accounts", counts["accounts"],
		"transactions", counts["transactions"],
		"payments", counts["payments"],
	)
	return counts, nil
}

func pick(rng *rand.Rand, values []string, weights []float64) string {
	if len(weights) != len(values) {
		return values[rng.Intn(len(values))]
	}
	return values[weightedIndex(rng, weights)]
}

func weightedIndex(rng *rand.Rand, weights []float64) int {
	r := rng.Float64()
	acc := 0.0
	for i, w := range weights {
		acc += w
		if r < acc {
			return i
		}
	}
	return len(weights) - 1
}

// dayWithin returns a date in [day-back, day].
func dayWithin(rng *rand.Rand, day time.Time, back int) string {
	return day.AddDate(0, 0, -rng.Intn(back+1)).Format(core.RunDateLayout)
}

// amount draws |N(mean, sd)| rounded to cents.
func amount(rng *rand.Rand, mean, sd float64) string {
	v := math.Abs(rng.NormFloat64()*sd + mean)
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', 2, 64)
}

func writeCSV(path string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
