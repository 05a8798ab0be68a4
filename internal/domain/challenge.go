package domain

// TimeControl mirrors the server's time_control object. Only the fields
// of the configured system are meaningful; durations are seconds.
type TimeControl struct {
	System          string  `json:"system"`
	Speed           Speed   `json:"speed"`
	MainTime        float64 `json:"main_time"`
	PeriodTime      float64 `json:"period_time"`
	Periods         int     `json:"periods"`
	StonesPerPeriod int     `json:"stones_per_period"`
	InitialTime     float64 `json:"initial_time"`
	TimeIncrement   float64 `json:"time_increment"`
	MaxTime         float64 `json:"max_time"`
	PerMove         float64 `json:"per_move"`
	TotalTime       float64 `json:"total_time"`
	PauseOnWeekends bool    `json:"pause_on_weekends"`
}

const (
	SystemFischer  = "fischer"
	SystemByoyomi  = "byoyomi"
	SystemCanadian = "canadian"
	SystemSimple   = "simple"
	SystemAbsolute = "absolute"
	SystemNone     = "none"
)

// Challenge is the admission-relevant reduction of a challenge
// notification.
type Challenge struct {
	ChallengeID int64       `json:"challenge_id"`
	GameID      int64       `json:"game_id"`
	UserID      int64       `json:"user_id"`
	Username    string      `json:"username"`
	Width       int         `json:"width"`
	Height      int         `json:"height"`
	Handicap    int         `json:"handicap"`
	Ranked      bool        `json:"ranked"`
	TimeControl TimeControl `json:"time_control"`
}

// ChallengeNotification is the wire shape of a challenge push.
type ChallengeNotification struct {
	ID          string      `json:"id"`
	ChallengeID int64       `json:"challenge_id"`
	GameID      int64       `json:"game_id"`
	User        GamePlayer  `json:"user"`
	Width       int         `json:"width"`
	Height      int         `json:"height"`
	Handicap    int         `json:"handicap"`
	Ranked      bool        `json:"ranked"`
	TimeControl TimeControl `json:"time_control"`
}

func (n ChallengeNotification) Challenge() Challenge {
	return Challenge{
		ChallengeID: n.ChallengeID,
		GameID:      n.GameID,
		UserID:      n.User.ID,
		Username:    n.User.Username,
		Width:       n.Width,
		Height:      n.Height,
		Handicap:    n.Handicap,
		Ranked:      n.Ranked,
		TimeControl: n.TimeControl,
	}
}
