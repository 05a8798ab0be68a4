package admission

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/poonpunokok/gtp2ogs/internal/bootstrap"
	"github.com/poonpunokok/gtp2ogs/internal/domain"
)

// Stable, wire-visible rejection codes.
const (
	CodeBlacklisted          = "blacklisted"
	CodeBoardSizeNotSquare   = "board_size_not_square"
	CodeBoardSizeNotAllowed  = "board_size_not_allowed"
	CodeHandicapNotAllowed   = "handicap_not_allowed"
	CodeUnrankedNotAllowed   = "unranked_not_allowed"
	CodeSystemNotAllowed     = "time_control_system_not_allowed"
	CodeTimeIncrementRange   = "time_increment_out_of_range"
	CodePeriodTimeRange      = "period_time_out_of_range"
	CodePeriodsRange         = "periods_out_of_range"
	CodeMainTimeRange        = "main_time_out_of_range"
	CodePerMoveTimeRange     = "per_move_time_out_of_range"
)

// Decision is the outcome of evaluating one challenge. A rejection
// carries a human-readable message, a stable code and enough detail to
// reconstruct the violation.
type Decision struct {
	Accept  bool
	Code    string
	Message string
	Details map[string]any
}

func accept() Decision {
	return Decision{Accept: true}
}

func reject(code, message string, details map[string]any) Decision {
	return Decision{Code: code, Message: message, Details: details}
}

// Evaluate applies the admission ladder: first rejection wins, except a
// whitelisted user clears any rejection. Pure function of its inputs.
func Evaluate(ch domain.Challenge, counts domain.SpeedCounts, cfg *bootstrap.Config) Decision {
	d := evaluate(ch, counts, cfg)
	if !d.Accept && userListed(cfg.Whitelist, ch.UserID, ch.Username) {
		return accept()
	}
	return d
}

func evaluate(ch domain.Challenge, counts domain.SpeedCounts, cfg *bootstrap.Config) Decision {
	if userListed(cfg.Blacklist, ch.UserID, ch.Username) {
		return reject(CodeBlacklisted, "You are not allowed to play against this bot.",
			map[string]any{"user_id": ch.UserID, "username": ch.Username})
	}

	tc := ch.TimeControl
	if !stringListed(cfg.AllowedTimeControlSystems, tc.System) {
		return reject(CodeSystemNotAllowed,
			fmt.Sprintf("Time control system %q is not accepted, allowed: %s.", tc.System, strings.Join(cfg.AllowedTimeControlSystems, ", ")),
			map[string]any{"system": tc.System, "allowed": cfg.AllowedTimeControlSystems})
	}

	speed := string(tc.Speed)
	settings := cfg.SpeedSettingsFor(speed)
	if settings == nil {
		return reject(speed+"_not_allowed",
			fmt.Sprintf("This bot does not play %s games.", speed),
			map[string]any{"speed": speed})
	}

	if d := checkRanges(tc, settings); !d.Accept {
		return d
	}

	if settings.ConcurrentGames > 0 && counts.Get(tc.Speed) >= settings.ConcurrentGames {
		return reject("too_many_"+speed+"_games",
			fmt.Sprintf("Already playing the maximum number of %s games (%d).", speed, settings.ConcurrentGames),
			map[string]any{"count": counts.Get(tc.Speed), "limit": settings.ConcurrentGames})
	}

	if d := checkBoardSize(ch, cfg); !d.Accept {
		return d
	}

	if !cfg.AllowHandicap && ch.Handicap != 0 {
		return reject(CodeHandicapNotAllowed, "This bot does not play handicap games.",
			map[string]any{"handicap": ch.Handicap})
	}

	if !cfg.AllowUnranked && !ch.Ranked {
		return reject(CodeUnrankedNotAllowed, "This bot only plays ranked games.",
			map[string]any{"ranked": ch.Ranked})
	}

	return accept()
}

func checkRanges(tc domain.TimeControl, s *bootstrap.SpeedSettings) Decision {
	switch tc.System {
	case domain.SystemFischer:
		if out, r := outOfRangeF(tc.TimeIncrement, s.PerMoveTimeRange); out {
			return reject(CodeTimeIncrementRange,
				fmt.Sprintf("Time increment %gs is out of the accepted range [%g, %g].", tc.TimeIncrement, r[0], r[1]),
				map[string]any{"time_increment": tc.TimeIncrement, "range": r})
		}
	case domain.SystemByoyomi:
		if out, r := outOfRangeF(tc.PeriodTime, s.PerMoveTimeRange); out {
			return reject(CodePeriodTimeRange,
				fmt.Sprintf("Period time %gs is out of the accepted range [%g, %g].", tc.PeriodTime, r[0], r[1]),
				map[string]any{"period_time": tc.PeriodTime, "range": r})
		}
		if s.PeriodsRange != nil && (tc.Periods < s.PeriodsRange[0] || tc.Periods > s.PeriodsRange[1]) {
			return reject(CodePeriodsRange,
				fmt.Sprintf("Periods %d out of the accepted range [%d, %d].", tc.Periods, s.PeriodsRange[0], s.PeriodsRange[1]),
				map[string]any{"periods": tc.Periods, "range": s.PeriodsRange})
		}
		if out, r := outOfRangeF(tc.MainTime, s.MainTimeRange); out {
			return reject(CodeMainTimeRange,
				fmt.Sprintf("Main time %gs is out of the accepted range [%g, %g].", tc.MainTime, r[0], r[1]),
				map[string]any{"main_time": tc.MainTime, "range": r})
		}
	case domain.SystemSimple:
		if out, r := outOfRangeF(tc.PerMove, s.PerMoveTimeRange); out {
			return reject(CodePerMoveTimeRange,
				fmt.Sprintf("Time per move %gs is out of the accepted range [%g, %g].", tc.PerMove, r[0], r[1]),
				map[string]any{"per_move": tc.PerMove, "range": r})
		}
	}
	return accept()
}

func checkBoardSize(ch domain.Challenge, cfg *bootstrap.Config) Decision {
	sizes := cfg.AllowedBoardSizes
	if stringListed(sizes, "all") {
		return accept()
	}
	if ch.Width != ch.Height {
		return reject(CodeBoardSizeNotSquare,
			fmt.Sprintf("Board must be square, not %dx%d.", ch.Width, ch.Height),
			map[string]any{"width": ch.Width, "height": ch.Height})
	}
	if stringListed(sizes, "square") || stringListed(sizes, strconv.Itoa(ch.Width)) {
		return accept()
	}
	return reject(CodeBoardSizeNotAllowed,
		fmt.Sprintf("Board size %dx%d is not accepted, allowed sizes: %s.", ch.Width, ch.Height, strings.Join(sizes, ", ")),
		map[string]any{"width": ch.Width, "height": ch.Height, "allowed": sizes})
}

// outOfRangeF reports whether v falls outside the inclusive [min, max]
// pair; a nil range never rejects.
func outOfRangeF(v float64, r []float64) (bool, []float64) {
	if len(r) != 2 {
		return false, r
	}
	return v < r[0] || v > r[1], r
}

func userListed(list []string, id int64, username string) bool {
	idStr := strconv.FormatInt(id, 10)
	for _, entry := range list {
		if entry == idStr || strings.EqualFold(entry, username) {
			return true
		}
	}
	return false
}

func stringListed(list []string, v string) bool {
	for _, entry := range list {
		if entry == v {
			return true
		}
	}
	return false
}
