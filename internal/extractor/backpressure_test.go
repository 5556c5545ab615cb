package extractor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackpressureEvaluate(t *testing.T) {
	bp := Backpressure{
		Warning:       50_000,
		Critical:      100_000,
		ShortPause:    500 * time.Millisecond,
		CriticalPause: 5 * time.Second,
		MaxPause:      12 * time.Second,
	}

	tests := []struct {
		backlog int64
		level   Level
		pause   time.Duration
	}{
		{0, LevelNone, 0},
		{49_999, LevelNone, 0},
		{50_000, LevelWarning, 500 * time.Millisecond},
		{99_999, LevelWarning, 500 * time.Millisecond},
		{100_000, LevelCritical, 5 * time.Second},
		{200_000, LevelCritical, 10 * time.Second},
		{1_000_000, LevelCritical, 12 * time.Second},
	}

	for _, tt := range tests {
		level, pause := bp.Evaluate(tt.backlog)
		assert.Equal(t, tt.level, level, tt.backlog)
		assert.Equal(t, tt.pause, pause, tt.backlog)
	}
}

func TestBackpressureDisabled(t *testing.T) {
	level, pause := Backpressure{}.Evaluate(1 << 40)
	assert.Equal(t, LevelNone, level)
	assert.Zero(t, pause)
}
