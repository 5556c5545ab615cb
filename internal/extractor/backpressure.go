package extractor

import "time"

// Level is the backpressure level derived from the queue backlog
type Level string

const (
	LevelNone     Level = "none"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Backpressure maps a backlog length to a pause
type Backpressure struct {
	Warning       int64
	Critical      int64
	ShortPause    time.Duration
	CriticalPause time.Duration
	MaxPause      time.Duration
}

// Evaluate returns the level for backlog and the pause that goes with it.
// Below Warning there is no pause. Between Warning and Critical the pause is
// ShortPause. At or above Critical the pause is CriticalPause scaled by
// backlog/Critical and capped at MaxPause.
func (b Backpressure) Evaluate(backlog int64) (Level, time.Duration) {
	switch {
	case b.Critical > 0 && backlog >= b.Critical:
		pause := time.Duration(float64(b.CriticalPause) * float64(backlog) / float64(b.Critical))
		if b.MaxPause > 0 && pause > b.MaxPause {
			pause = b.MaxPause
		}
		return LevelCritical, pause
	case b.Warning > 0 && backlog >= b.Warning:
		return LevelWarning, b.ShortPause
	default:
		return LevelNone, 0
	}
}
