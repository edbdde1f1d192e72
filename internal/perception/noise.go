package perception

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/boshu2/intent/internal/vault"
)

const (
	// NoiseRetentionDays bounds per-source daily history.
	NoiseRetentionDays = 30
	// NoiseAlertRate is the filter rate a day must reach to count toward
	// an alert streak.
	NoiseAlertRate = 0.9
	// NoiseAlertStreak is how many consecutive days at or above the rate
	// trigger an alert.
	NoiseAlertStreak = 7

	noiseDateLayout = "2006-01-02"
)

// DayRate is one day of admission statistics for a source.
type DayRate struct {
	Date     string  `json:"date"`
	Admitted int     `json:"admitted"`
	Total    int     `json:"total"`
	Rate     float64 `json:"rate"`
}

// SourceNoise is the bounded daily history for one source.
type SourceNoise struct {
	DailyRates []DayRate `json:"dailyRates"`
}

// NoiseFile is ops/runtime/perception-noise.json.
type NoiseFile struct {
	Sources     map[string]SourceNoise `json:"sources"`
	LastUpdated time.Time              `json:"lastUpdated"`
}

// Record upserts today's entry for the source and prunes history to the 30
// newest days. Same-day calls merge counts so repeated cycles within a day
// accumulate instead of overwriting.
func (f *NoiseFile) Record(sourceID string, admitted, total int, now time.Time) {
	if f.Sources == nil {
		f.Sources = make(map[string]SourceNoise)
	}
	today := now.UTC().Format(noiseDateLayout)

	sn := f.Sources[sourceID]
	merged := false
	for i := range sn.DailyRates {
		if sn.DailyRates[i].Date == today {
			sn.DailyRates[i].Admitted += admitted
			sn.DailyRates[i].Total += total
			sn.DailyRates[i].Rate = filterRate(sn.DailyRates[i].Admitted, sn.DailyRates[i].Total)
			merged = true
			break
		}
	}
	if !merged {
		sn.DailyRates = append(sn.DailyRates, DayRate{
			Date:     today,
			Admitted: admitted,
			Total:    total,
			Rate:     filterRate(admitted, total),
		})
	}

	sort.Slice(sn.DailyRates, func(i, j int) bool {
		return sn.DailyRates[i].Date < sn.DailyRates[j].Date
	})
	if len(sn.DailyRates) > NoiseRetentionDays {
		sn.DailyRates = sn.DailyRates[len(sn.DailyRates)-NoiseRetentionDays:]
	}
	f.Sources[sourceID] = sn
}

// Alerts returns at most one alert per source: the newest run of
// calendar-consecutive days whose filter rate stayed at or above the alert
// threshold, once the run reaches the streak length.
func (f *NoiseFile) Alerts() []NoiseAlert {
	var alerts []NoiseAlert
	var sourceIDs []string
	for id := range f.Sources {
		sourceIDs = append(sourceIDs, id)
	}
	sort.Strings(sourceIDs)

	for _, id := range sourceIDs {
		rates := f.Sources[id].DailyRates
		streak, rateSum := 0, 0.0
		var prev time.Time
		for i := len(rates) - 1; i >= 0; i-- {
			day, err := time.Parse(noiseDateLayout, rates[i].Date)
			if err != nil || rates[i].Rate < NoiseAlertRate {
				break
			}
			if streak > 0 && !day.AddDate(0, 0, 1).Equal(prev) {
				break
			}
			streak++
			rateSum += rates[i].Rate
			prev = day
		}
		if streak < NoiseAlertStreak {
			continue
		}
		mean := rateSum / float64(streak)
		alerts = append(alerts, NoiseAlert{
			SourceID:        id,
			FilterRate:      mean,
			ConsecutiveDays: streak,
			Recommendation: fmt.Sprintf("source %q filtered %.0f%% of captures for %d consecutive days; retire it or loosen its query",
				id, mean*100, streak),
		})
	}
	return alerts
}

func filterRate(admitted, total int) float64 {
	if total == 0 {
		return 0
	}
	return 1 - float64(admitted)/float64(total)
}

// LoadNoise reads the noise file. Absent or malformed files yield an empty
// document.
func (s *Store) LoadNoise() (*NoiseFile, error) {
	data, ok, err := s.store.Read(vault.NoiseFile)
	if err != nil {
		return nil, err
	}
	f := &NoiseFile{Sources: map[string]SourceNoise{}}
	if !ok {
		return f, nil
	}
	if err := json.Unmarshal(data, f); err != nil {
		s.logger.Warn("noise file malformed, starting empty", zap.Error(err))
		return &NoiseFile{Sources: map[string]SourceNoise{}}, nil
	}
	if f.Sources == nil {
		f.Sources = map[string]SourceNoise{}
	}
	return f, nil
}

// WriteNoise persists the noise file atomically.
func (s *Store) WriteNoise(f *NoiseFile) error {
	f.LastUpdated = s.now()
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal noise tracker: %w", err)
	}
	return s.store.WriteAtomic(vault.NoiseFile, data)
}
