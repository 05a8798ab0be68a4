package bootstrap

import (
	"fmt"
	"strconv"

	"github.com/spf13/viper"

	pkgerrors "github.com/poonpunokok/gtp2ogs/internal/errors"
)

// SpeedSettings gates one speed class. Ranges are inclusive pairs
// [min, max]; a nil range means the field is not checked.
type SpeedSettings struct {
	ConcurrentGames  int       `mapstructure:"CONCURRENT_GAMES"`
	PerMoveTimeRange []float64 `mapstructure:"PER_MOVE_TIME_RANGE"`
	MainTimeRange    []float64 `mapstructure:"MAIN_TIME_RANGE"`
	PeriodsRange     []int     `mapstructure:"PERIODS_RANGE"`
}

type Config struct {
	Username string `mapstructure:"USERNAME"`
	Apikey   string `mapstructure:"APIKEY"`
	Hidden   bool   `mapstructure:"HIDDEN"`

	ServerURL  string `mapstructure:"SERVER_URL"`
	RestURL    string `mapstructure:"REST_URL"`
	StatusPort string `mapstructure:"STATUS_PORT"`
	RedisUrl   string `mapstructure:"REDIS_URL"`

	BotCommand    []string `mapstructure:"BOT_COMMAND"`
	OpeningBot    []string `mapstructure:"OPENING_BOT"`
	EndingBot     []string `mapstructure:"ENDING_BOT"`
	ResignBot     []string `mapstructure:"RESIGN_BOT"`
	InstanceCount int      `mapstructure:"INSTANCE_COUNT"`

	OgsPV         string `mapstructure:"OGSPV"`
	AiChat        bool   `mapstructure:"AICHAT"`
	JSON          bool   `mapstructure:"JSON"`
	NoClock       bool   `mapstructure:"NOCLOCK"`
	StartupBuffer int    `mapstructure:"STARTUPBUFFER"`
	ShowBoard     bool   `mapstructure:"SHOWBOARD"`
	Greeting      string `mapstructure:"GREETING"`
	Farewell      string `mapstructure:"FAREWELL"`

	Debug     bool `mapstructure:"DEBUG"`
	Verbosity int  `mapstructure:"VERBOSITY"`

	AllowHandicap             bool     `mapstructure:"ALLOW_HANDICAP"`
	AllowUnranked             bool     `mapstructure:"ALLOW_UNRANKED"`
	AllowedBoardSizes         []string `mapstructure:"ALLOWED_BOARD_SIZES"`
	AllowedTimeControlSystems []string `mapstructure:"ALLOWED_TIME_CONTROL_SYSTEMS"`

	AllowedBlitzSettings          *SpeedSettings `mapstructure:"ALLOWED_BLITZ_SETTINGS"`
	AllowedLiveSettings           *SpeedSettings `mapstructure:"ALLOWED_LIVE_SETTINGS"`
	AllowedCorrespondenceSettings *SpeedSettings `mapstructure:"ALLOWED_CORRESPONDENCE_SETTINGS"`

	Blacklist []string `mapstructure:"BLACKLIST"`
	Whitelist []string `mapstructure:"WHITELIST"`
}

func Setup(cfgPath string) (*Config, error) {
	viper.SetConfigFile(cfgPath)

	err := viper.ReadInConfig()
	if err != nil {
		return nil, err
	}

	var cfg Config

	err = viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ServerURL == "" {
		c.ServerURL = "wss://online-go.com"
	}
	if c.RestURL == "" {
		c.RestURL = "https://online-go.com/api/v1"
	}
	if c.InstanceCount == 0 {
		c.InstanceCount = 1
	}
	if len(c.AllowedBoardSizes) == 0 {
		c.AllowedBoardSizes = []string{"all"}
	}
	if len(c.AllowedTimeControlSystems) == 0 {
		c.AllowedTimeControlSystems = []string{"fischer", "byoyomi", "canadian", "simple", "absolute"}
	}
}

func (c *Config) Validate() error {
	if c.Username == "" {
		return fmt.Errorf("%w: USERNAME is required", pkgerrors.ErrConfigInvalid)
	}
	if c.Apikey == "" {
		return fmt.Errorf("%w: APIKEY is required", pkgerrors.ErrConfigInvalid)
	}
	if len(c.BotCommand) == 0 {
		return fmt.Errorf("%w: BOT_COMMAND is required", pkgerrors.ErrConfigInvalid)
	}
	if c.InstanceCount < 1 {
		return fmt.Errorf("%w: INSTANCE_COUNT must be at least 1", pkgerrors.ErrConfigInvalid)
	}
	for _, sz := range c.AllowedBoardSizes {
		if sz == "all" || sz == "square" {
			continue
		}
		if _, err := strconv.Atoi(sz); err != nil {
			return fmt.Errorf("%w: ALLOWED_BOARD_SIZES entry %q is neither a number, \"all\" nor \"square\"", pkgerrors.ErrConfigInvalid, sz)
		}
	}
	for _, s := range []*SpeedSettings{c.AllowedBlitzSettings, c.AllowedLiveSettings, c.AllowedCorrespondenceSettings} {
		if s == nil {
			continue
		}
		if err := validateRangeF(s.PerMoveTimeRange, "PER_MOVE_TIME_RANGE"); err != nil {
			return err
		}
		if err := validateRangeF(s.MainTimeRange, "MAIN_TIME_RANGE"); err != nil {
			return err
		}
		if s.PeriodsRange != nil && (len(s.PeriodsRange) != 2 || s.PeriodsRange[0] > s.PeriodsRange[1]) {
			return fmt.Errorf("%w: PERIODS_RANGE must be [min, max]", pkgerrors.ErrConfigInvalid)
		}
	}
	return nil
}

func validateRangeF(r []float64, name string) error {
	if r == nil {
		return nil
	}
	if len(r) != 2 || r[0] > r[1] {
		return fmt.Errorf("%w: %s must be [min, max]", pkgerrors.ErrConfigInvalid, name)
	}
	return nil
}

// SpeedSettingsFor returns the settings of one speed class, nil when the
// class is not allowed at all.
func (c *Config) SpeedSettingsFor(speed string) *SpeedSettings {
	switch speed {
	case "blitz":
		return c.AllowedBlitzSettings
	case "live":
		return c.AllowedLiveSettings
	case "correspondence":
		return c.AllowedCorrespondenceSettings
	}
	return nil
}
