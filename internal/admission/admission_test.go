package admission

import (
	"reflect"
	"testing"

	"github.com/poonpunokok/gtp2ogs/internal/bootstrap"
	"github.com/poonpunokok/gtp2ogs/internal/domain"
)

func liveConfig() *bootstrap.Config {
	return &bootstrap.Config{
		AllowHandicap:             false,
		AllowUnranked:             true,
		AllowedBoardSizes:         []string{"all"},
		AllowedTimeControlSystems: []string{"fischer", "byoyomi", "simple"},
		AllowedLiveSettings: &bootstrap.SpeedSettings{
			ConcurrentGames:  1,
			PerMoveTimeRange: []float64{10, 60},
			MainTimeRange:    []float64{0, 7200},
			PeriodsRange:     []int{1, 10},
		},
	}
}

func fischerChallenge() domain.Challenge {
	return domain.Challenge{
		ChallengeID: 7,
		GameID:      42,
		UserID:      1000,
		Username:    "opponent",
		Width:       19,
		Height:      19,
		Handicap:    0,
		Ranked:      true,
		TimeControl: domain.TimeControl{
			System:        domain.SystemFischer,
			Speed:         domain.SpeedLive,
			TimeIncrement: 30,
			InitialTime:   600,
			MaxTime:       600,
		},
	}
}

func TestAcceptSquareFischer(t *testing.T) {
	d := Evaluate(fischerChallenge(), domain.SpeedCounts{}, liveConfig())
	if !d.Accept {
		t.Fatalf("expected accept, got %s: %s", d.Code, d.Message)
	}
}

func TestRejectNonSquareWhenSquareOnly(t *testing.T) {
	cfg := liveConfig()
	cfg.AllowedBoardSizes = []string{"square"}
	ch := fischerChallenge()
	ch.Height = 13

	d := Evaluate(ch, domain.SpeedCounts{}, cfg)
	if d.Accept || d.Code != CodeBoardSizeNotSquare {
		t.Fatalf("code = %q, want %q", d.Code, CodeBoardSizeNotSquare)
	}
	want := map[string]any{"width": 19, "height": 13}
	if !reflect.DeepEqual(d.Details, want) {
		t.Errorf("details = %v, want %v", d.Details, want)
	}
}

func TestRejectTooFastFischer(t *testing.T) {
	ch := fischerChallenge()
	ch.TimeControl.TimeIncrement = 5

	d := Evaluate(ch, domain.SpeedCounts{}, liveConfig())
	if d.Accept || d.Code != CodeTimeIncrementRange {
		t.Fatalf("code = %q, want %q", d.Code, CodeTimeIncrementRange)
	}
	if d.Details["time_increment"] != 5.0 {
		t.Errorf("details = %v", d.Details)
	}
}

func TestWhitelistOverridesBlacklist(t *testing.T) {
	cfg := liveConfig()
	cfg.Blacklist = []string{"1000"}
	cfg.Whitelist = []string{"1000"}

	d := Evaluate(fischerChallenge(), domain.SpeedCounts{}, cfg)
	if !d.Accept {
		t.Fatalf("whitelist should override blacklist, got %s", d.Code)
	}
}

func TestBlacklistByName(t *testing.T) {
	cfg := liveConfig()
	cfg.Blacklist = []string{"Opponent"}

	d := Evaluate(fischerChallenge(), domain.SpeedCounts{}, cfg)
	if d.Accept || d.Code != CodeBlacklisted {
		t.Fatalf("code = %q, want %q", d.Code, CodeBlacklisted)
	}
}

func TestPerMoveBoundaryInclusive(t *testing.T) {
	ch := fischerChallenge()
	ch.TimeControl.TimeIncrement = 10 // exactly the minimum
	if d := Evaluate(ch, domain.SpeedCounts{}, liveConfig()); !d.Accept {
		t.Fatalf("boundary value rejected: %s", d.Code)
	}
	ch.TimeControl.TimeIncrement = 9.999
	if d := Evaluate(ch, domain.SpeedCounts{}, liveConfig()); d.Accept {
		t.Fatal("value below the minimum accepted")
	}
}

func TestByoyomiRangeChecks(t *testing.T) {
	ch := fischerChallenge()
	ch.TimeControl = domain.TimeControl{
		System:     domain.SystemByoyomi,
		Speed:      domain.SpeedLive,
		MainTime:   600,
		PeriodTime: 30,
		Periods:    5,
	}
	if d := Evaluate(ch, domain.SpeedCounts{}, liveConfig()); !d.Accept {
		t.Fatalf("valid byoyomi rejected: %s", d.Code)
	}

	ch.TimeControl.Periods = 50
	if d := Evaluate(ch, domain.SpeedCounts{}, liveConfig()); d.Code != CodePeriodsRange {
		t.Errorf("code = %q, want %q", d.Code, CodePeriodsRange)
	}

	ch.TimeControl.Periods = 5
	ch.TimeControl.PeriodTime = 5
	if d := Evaluate(ch, domain.SpeedCounts{}, liveConfig()); d.Code != CodePeriodTimeRange {
		t.Errorf("code = %q, want %q", d.Code, CodePeriodTimeRange)
	}

	ch.TimeControl.PeriodTime = 30
	ch.TimeControl.MainTime = 10000
	if d := Evaluate(ch, domain.SpeedCounts{}, liveConfig()); d.Code != CodeMainTimeRange {
		t.Errorf("code = %q, want %q", d.Code, CodeMainTimeRange)
	}
}

func TestSpeedNotAllowed(t *testing.T) {
	ch := fischerChallenge()
	ch.TimeControl.Speed = domain.SpeedBlitz
	ch.TimeControl.TimeIncrement = 15

	d := Evaluate(ch, domain.SpeedCounts{}, liveConfig())
	if d.Code != "blitz_not_allowed" {
		t.Fatalf("code = %q, want blitz_not_allowed", d.Code)
	}
}

func TestConcurrentGameCap(t *testing.T) {
	d := Evaluate(fischerChallenge(), domain.SpeedCounts{Live: 1}, liveConfig())
	if d.Code != "too_many_live_games" {
		t.Fatalf("code = %q, want too_many_live_games", d.Code)
	}
}

func TestSystemNotAllowed(t *testing.T) {
	ch := fischerChallenge()
	ch.TimeControl.System = domain.SystemAbsolute

	d := Evaluate(ch, domain.SpeedCounts{}, liveConfig())
	if d.Code != CodeSystemNotAllowed {
		t.Fatalf("code = %q, want %q", d.Code, CodeSystemNotAllowed)
	}
}

func TestHandicapNotAllowed(t *testing.T) {
	ch := fischerChallenge()
	ch.Handicap = 2

	d := Evaluate(ch, domain.SpeedCounts{}, liveConfig())
	if d.Code != CodeHandicapNotAllowed {
		t.Fatalf("code = %q, want %q", d.Code, CodeHandicapNotAllowed)
	}
}

func TestUnrankedNotAllowed(t *testing.T) {
	cfg := liveConfig()
	cfg.AllowUnranked = false
	ch := fischerChallenge()
	ch.Ranked = false

	d := Evaluate(ch, domain.SpeedCounts{}, cfg)
	if d.Code != CodeUnrankedNotAllowed {
		t.Fatalf("code = %q, want %q", d.Code, CodeUnrankedNotAllowed)
	}
}

func TestExplicitBoardSizeList(t *testing.T) {
	cfg := liveConfig()
	cfg.AllowedBoardSizes = []string{"9", "13", "19"}

	if d := Evaluate(fischerChallenge(), domain.SpeedCounts{}, cfg); !d.Accept {
		t.Fatalf("19x19 rejected with explicit list: %s", d.Code)
	}

	ch := fischerChallenge()
	ch.Width, ch.Height = 17, 17
	if d := Evaluate(ch, domain.SpeedCounts{}, cfg); d.Code != CodeBoardSizeNotAllowed {
		t.Errorf("code = %q, want %q", d.Code, CodeBoardSizeNotAllowed)
	}
}

func TestDeterministic(t *testing.T) {
	ch := fischerChallenge()
	ch.TimeControl.TimeIncrement = 5
	first := Evaluate(ch, domain.SpeedCounts{}, liveConfig())
	for i := 0; i < 10; i++ {
		if got := Evaluate(ch, domain.SpeedCounts{}, liveConfig()); got.Code != first.Code {
			t.Fatalf("non-deterministic decision: %q vs %q", got.Code, first.Code)
		}
	}
}
