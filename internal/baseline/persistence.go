package baseline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// persistedState is the on-disk document. Hour and weekday keys are
// stringified integers so the file stays a plain JSON object. There is no
// schema versioning; the loader tolerates missing subkeys.
type persistedState struct {
	Hourly      map[string]Stats `json:"hourly_baselines"`
	Weekday     map[string]Stats `json:"daily_baselines"`
	Overall     Stats            `json:"overall_baseline"`
	LastUpdated string           `json:"last_updated"`
}

// save persists the baselines via a write-to-temp plus rename so a crash
// mid-write never truncates the previous state. Callers hold b.mu.
func (b *AdaptiveBaseline) save() {
	state := persistedState{
		Hourly:      make(map[string]Stats, 24),
		Weekday:     make(map[string]Stats, 7),
		Overall:     b.overall,
		LastUpdated: time.Now().UTC().Format(time.RFC3339),
	}
	for hour, stats := range b.hourly {
		state.Hourly[fmt.Sprintf("%d", hour)] = stats
	}
	for day, stats := range b.weekday {
		state.Weekday[fmt.Sprintf("%d", day)] = stats
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		b.logger.Error("Failed to encode baselines", zap.Error(err))
		return
	}

	dir := filepath.Dir(b.persistencePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		b.logger.Error("Failed to create baseline directory", zap.Error(err))
		return
	}

	tmp, err := os.CreateTemp(dir, ".baselines-*.json")
	if err != nil {
		b.logger.Error("Failed to create temp baseline file", zap.Error(err))
		return
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		b.logger.Error("Failed to write baselines", zap.Error(err))
		return
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		b.logger.Error("Failed to close temp baseline file", zap.Error(err))
		return
	}
	if err := os.Rename(tmpName, b.persistencePath); err != nil {
		_ = os.Remove(tmpName)
		b.logger.Error("Failed to replace baseline file", zap.Error(err))
		return
	}

	b.logger.Info("Baselines saved", zap.String("path", b.persistencePath))
}

// load restores persisted baselines. A missing or corrupt file is logged
// and ignored; the baseline starts fresh.
func (b *AdaptiveBaseline) load() {
	data, err := os.ReadFile(b.persistencePath)
	if err != nil {
		if os.IsNotExist(err) {
			b.logger.Info("No existing baselines found, starting fresh")
		} else {
			b.logger.Error("Failed to read baselines", zap.Error(err))
		}
		return
	}

	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		b.logger.Error("Failed to decode baselines, starting fresh", zap.Error(err))
		return
	}

	for key, stats := range state.Hourly {
		var hour int
		if _, err := fmt.Sscanf(key, "%d", &hour); err == nil && hour >= 0 && hour < 24 {
			b.hourly[hour] = stats
		}
	}
	for key, stats := range state.Weekday {
		var day int
		if _, err := fmt.Sscanf(key, "%d", &day); err == nil && day >= 0 && day < 7 {
			b.weekday[day] = stats
		}
	}
	if state.Overall.ErrorRate.Samples > 0 {
		b.overall = state.Overall
	}

	b.logger.Info("Baselines loaded",
		zap.Int("samples", b.overall.ErrorRate.Samples),
		zap.String("last_updated", state.LastUpdated),
	)
}
