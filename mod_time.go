package cloth

import (
	"time"
)

type Time struct {
	Time time.Time
	Dt   time.Duration
	// Fixed replaces the measured frame time when positive.
	Fixed time.Duration
}

// Seconds returns Dt in seconds.
func (t *Time) Seconds() float32 {
	return float32(t.Dt.Seconds())
}

// TimeModule advances Time in the Prelude stage. Headless runs set FixedDt so
// every frame simulates the same interval regardless of wall-clock time.
type TimeModule struct {
	FixedDt time.Duration
}

func (mod TimeModule) Install(app *App, cmd *Commands) {
	cmd.AddResources(&Time{
		Time:  time.Now(),
		Dt:    0,
		Fixed: mod.FixedDt,
	})
	cmd.UseSystem(System(timeSystem).InStage(Prelude))
}

func timeSystem(timeResource *Time) {
	now := time.Now()

	timeResource.Dt = now.Sub(timeResource.Time)
	if timeResource.Fixed > 0 {
		timeResource.Dt = timeResource.Fixed
	}
	timeResource.Time = now
}
