package gtp

import (
	"fmt"
	"math"

	"github.com/poonpunokok/gtp2ogs/internal/domain"
)

// ClockInput is everything the clock translation needs. NowMs is the
// client wall clock in milliseconds; ClockDriftMs the signed offset
// between server and client clocks.
type ClockInput struct {
	TimeControl     domain.TimeControl
	Clock           domain.GameClock
	Caps            Capabilities
	FirstMove       bool
	ClockDriftMs    float64
	StartupBufferMs int
	NowMs           int64
}

// TranslateClock converts a server clock snapshot into the ordered GTP
// time-setup command sequence for the engine's dialect. It never fails;
// an unconfigured clock yields no commands.
func TranslateClock(in ClockInput) []string {
	tc := in.TimeControl
	if tc.System == domain.SystemNone || tc.System == "" {
		return nil
	}

	// Time elapsed since the server observed the last move, charged to
	// whichever color is on the clock.
	offsetMs := float64(in.NowMs) - in.ClockDriftMs - float64(in.Clock.LastMove)
	if in.FirstMove {
		offsetMs += float64(in.StartupBufferMs)
	}
	offset := offsetMs / 1000
	if offset < 0 {
		offset = 0
	}

	blackOffset, whiteOffset := 0.0, offset
	if in.Clock.BlackToMove() {
		blackOffset, whiteOffset = offset, 0
	}
	black, white := in.Clock.BlackTime, in.Clock.WhiteTime

	switch tc.System {
	case domain.SystemByoyomi:
		if in.Caps.KgsTimeSettings {
			return []string{
				fmt.Sprintf("kgs-time_settings byoyomi %d %d %d", secs(tc.MainTime), secs(tc.PeriodTime), tc.Periods),
				byoyomiTimeLeft("black", black, blackOffset, tc.PeriodTime),
				byoyomiTimeLeft("white", white, whiteOffset, tc.PeriodTime),
			}
		}
		// Plain GTP cannot express japanese byoyomi. Mapping the last
		// period to a one-stone canadian overtime keeps the full-period-
		// per-move semantics instead of letting the engine budget the
		// sum over the rest of the game.
		main := tc.MainTime + float64(tc.Periods-1)*tc.PeriodTime
		return []string{
			fmt.Sprintf("time_settings %d %d 1", secs(main), secs(tc.PeriodTime)),
			emulatedByoyomiTimeLeft("black", black, blackOffset, tc.PeriodTime),
			emulatedByoyomiTimeLeft("white", white, whiteOffset, tc.PeriodTime),
		}

	case domain.SystemCanadian:
		setup := fmt.Sprintf("time_settings %d %d %d", secs(tc.MainTime), secs(tc.PeriodTime), tc.StonesPerPeriod)
		if in.Caps.KgsTimeSettings {
			setup = fmt.Sprintf("kgs-time_settings canadian %d %d %d", secs(tc.MainTime), secs(tc.PeriodTime), tc.StonesPerPeriod)
		}
		return []string{
			setup,
			canadianTimeLeft("black", black, blackOffset),
			canadianTimeLeft("white", white, whiteOffset),
		}

	case domain.SystemFischer:
		if in.Caps.KataTimeSettings && in.Caps.FischerCapped {
			return []string{
				fmt.Sprintf("kata-time_settings fischer-capped %d %d %d -1",
					secs(tc.InitialTime), secs(tc.TimeIncrement), secs(tc.MaxTime)),
				fmt.Sprintf("time_left black %d 0", secs(black.ThinkingTime-blackOffset)),
				fmt.Sprintf("time_left white %d 0", secs(white.ThinkingTime-whiteOffset)),
			}
		}
		// Model the increment as a perpetual one-stone canadian period.
		main := tc.InitialTime - tc.TimeIncrement
		setup := fmt.Sprintf("time_settings %d %d 1", secs(main), secs(tc.TimeIncrement))
		if in.Caps.KgsTimeSettings {
			setup = fmt.Sprintf("kgs-time_settings canadian %d %d 1", secs(main), secs(tc.TimeIncrement))
		}
		return []string{
			setup,
			fischerTimeLeft("black", black, blackOffset, tc.TimeIncrement),
			fischerTimeLeft("white", white, whiteOffset, tc.TimeIncrement),
		}

	case domain.SystemSimple:
		// The server's per-color thinking field is unreliable for
		// simple clocks; the per-move budget is authoritative.
		return []string{
			fmt.Sprintf("time_settings 0 %d 1", secs(tc.PerMove)),
			fmt.Sprintf("time_left black %d 1", secs(tc.PerMove)),
			fmt.Sprintf("time_left white %d 1", secs(tc.PerMove)),
		}

	case domain.SystemAbsolute:
		return []string{
			fmt.Sprintf("time_settings %d 0 0", secs(tc.TotalTime)),
			fmt.Sprintf("time_left black %d 0", secs(black.ThinkingTime-blackOffset)),
			fmt.Sprintf("time_left white %d 0", secs(white.ThinkingTime-whiteOffset)),
		}
	}

	return nil
}

// byoyomiTimeLeft rolls the offset down through remaining periods once
// main time is exhausted.
func byoyomiTimeLeft(color string, c domain.PlayerClock, offset, periodTime float64) string {
	t := c.ThinkingTime - offset
	periods := c.Periods
	if t < 0 {
		over := -t
		used := int(over / periodTime)
		periods -= used
		t = periodTime - (over - float64(used)*periodTime)
		if periods < 1 {
			periods = 1
			t = 0
		}
	}
	return fmt.Sprintf("time_left %s %d %d", color, secs(t), periods)
}

// emulatedByoyomiTimeLeft reports against the canadian 1-stone mapping:
// everything but the final period counts as main time.
func emulatedByoyomiTimeLeft(color string, c domain.PlayerClock, offset, periodTime float64) string {
	total := c.ThinkingTime + float64(c.Periods)*periodTime - offset
	if total <= periodTime {
		return fmt.Sprintf("time_left %s %d 1", color, secs(total))
	}
	return fmt.Sprintf("time_left %s %d 0", color, secs(total-periodTime))
}

func canadianTimeLeft(color string, c domain.PlayerClock, offset float64) string {
	t := c.ThinkingTime - offset
	if t > 0 {
		return fmt.Sprintf("time_left %s %d 0", color, secs(t))
	}
	stones := c.MovesLeft
	if stones < 1 {
		stones = 1
	}
	return fmt.Sprintf("time_left %s %d %d", color, secs(c.BlockTime+t), stones)
}

func fischerTimeLeft(color string, c domain.PlayerClock, offset, increment float64) string {
	t := c.ThinkingTime - increment - offset
	if t > 0 {
		return fmt.Sprintf("time_left %s %d 0", color, secs(t))
	}
	return fmt.Sprintf("time_left %s %d 1", color, secs(c.ThinkingTime-offset))
}

// secs floors to whole seconds and clamps at zero.
func secs(v float64) int {
	if v < 0 {
		return 0
	}
	return int(math.Floor(v))
}
