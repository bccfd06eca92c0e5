package config

import (
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

var once sync.Once

var keys = []string{
	"db_path", "metrics_port", "telegram_bot_token", "api_pro_key", "debug", "log_level", "lang",
	"openai_api_key", "openai_base_url", "model_basic", "model_hq",
	"cooldown", "price_change_trigger_pct", "rsi_overbought", "rsi_oversold", "rsi_delta_trigger",
	"volume_spike_multiplier", "major_event_pct",
	"news_ttl", "news_top_n", "fundamentals_ttl", "filing_check_interval", "cache_retention", "sec_user_agent",
	"analyzer_attempts", "analyzer_backoff_min", "analyzer_backoff_max", "analyzer_timeout", "fetch_timeout",
	"workers", "message_chunk_limit", "message_delay", "max_tickers_per_subscriber", "max_key_points",
	"run_times", "digest_time", "prune_time", "timezone", "charts_enabled", "chart_font", "redis_addr", "redis_password",
	"lock_ttl",
}

func InitConfig() {
	once.Do(func() {
		viper.AutomaticEnv()

		for _, key := range keys {
			viper.BindEnv(key, strings.ToUpper(key))
		}

		viper.SetDefault("db_path", "/app/data/oracle.db")
		viper.SetDefault("metrics_port", 9090)
		viper.SetDefault("debug", false)
		viper.SetDefault("log_level", "")
		viper.SetDefault("lang", "en")

		viper.SetDefault("model_basic", "gpt-4o-mini")
		viper.SetDefault("model_hq", "gpt-4o")

		viper.SetDefault("cooldown", 4*time.Hour)
		viper.SetDefault("price_change_trigger_pct", 1.2)
		viper.SetDefault("rsi_overbought", 70.0)
		viper.SetDefault("rsi_oversold", 30.0)
		viper.SetDefault("rsi_delta_trigger", 10.0)
		viper.SetDefault("volume_spike_multiplier", 2.0)
		viper.SetDefault("major_event_pct", 3.0)

		viper.SetDefault("news_ttl", 60*time.Minute)
		viper.SetDefault("news_top_n", 3)
		viper.SetDefault("fundamentals_ttl", 7*24*time.Hour)
		viper.SetDefault("filing_check_interval", 6*time.Hour)
		viper.SetDefault("cache_retention", 30*24*time.Hour)
		viper.SetDefault("sec_user_agent", "market-oracle-bot admin@example.com")

		viper.SetDefault("analyzer_attempts", 3)
		viper.SetDefault("analyzer_backoff_min", 2*time.Second)
		viper.SetDefault("analyzer_backoff_max", 10*time.Second)
		viper.SetDefault("analyzer_timeout", 60*time.Second)
		viper.SetDefault("fetch_timeout", 15*time.Second)

		viper.SetDefault("workers", 4)
		viper.SetDefault("message_chunk_limit", 4000)
		viper.SetDefault("message_delay", time.Second)
		viper.SetDefault("max_tickers_per_subscriber", 6)
		viper.SetDefault("max_key_points", 5)

		viper.SetDefault("run_times", "09:30,13:00,16:30,21:00")
		viper.SetDefault("digest_time", "21:00")
		viper.SetDefault("prune_time", "03:00")
		viper.SetDefault("timezone", "UTC")
		viper.SetDefault("charts_enabled", false)
		viper.SetDefault("lock_ttl", 30*time.Minute)
	})
}

func GetString(key string) string {
	InitConfig()
	return viper.GetString(key)
}

func GetInt(key string) int {
	InitConfig()
	return viper.GetInt(key)
}

func GetBool(key string) bool {
	InitConfig()
	return viper.GetBool(key)
}

// GateSettings are the trigger thresholds of the signal gate
type GateSettings struct {
	Cooldown              time.Duration
	PriceChangeTriggerPct float64
	RSIOverbought         float64
	RSIOversold           float64
	RSIDeltaTrigger       float64
	VolumeSpikeMultiplier float64
}

type CacheSettings struct {
	NewsTTL             time.Duration
	NewsTopN            int
	FundamentalsTTL     time.Duration
	FilingCheckInterval time.Duration
	Retention           time.Duration
}

type AnalyzerSettings struct {
	APIKey       string
	BaseURL      string
	ModelBasic   string
	ModelHQ      string
	MajorEvent   float64
	Attempts     int
	BackoffMin   time.Duration
	BackoffMax   time.Duration
	Timeout      time.Duration
	MaxKeyPoints int
}

type DeliverySettings struct {
	BotToken      string
	ChunkLimit    int
	MessageDelay  time.Duration
	ChartsEnabled bool
	ChartFont     string
	Lang          string
}

type ScheduleSettings struct {
	RunTimes   []string
	DigestTime string
	PruneTime  string
	Location   *time.Location
}

// Settings is the immutable configuration snapshot taken at process start
type Settings struct {
	DBPath        string
	MetricsPort   int
	Debug         bool
	LogLevel      string
	APIProKey     string
	SECUserAgent  string
	FetchTimeout  time.Duration
	Workers       int
	MaxTickers    int
	RedisAddr     string
	RedisPassword string
	LockTTL       time.Duration

	Gate     GateSettings
	Cache    CacheSettings
	Analyzer AnalyzerSettings
	Delivery DeliverySettings
	Schedule ScheduleSettings
}

// Load reads every key once and validates the result
func Load() (Settings, error) {
	InitConfig()

	loc, err := time.LoadLocation(viper.GetString("timezone"))
	if err != nil {
		return Settings{}, errors.Wrapf(err, "invalid timezone %q", viper.GetString("timezone"))
	}

	s := Settings{
		DBPath:        viper.GetString("db_path"),
		MetricsPort:   viper.GetInt("metrics_port"),
		Debug:         viper.GetBool("debug"),
		LogLevel:      viper.GetString("log_level"),
		APIProKey:     viper.GetString("api_pro_key"),
		SECUserAgent:  viper.GetString("sec_user_agent"),
		FetchTimeout:  viper.GetDuration("fetch_timeout"),
		Workers:       viper.GetInt("workers"),
		MaxTickers:    viper.GetInt("max_tickers_per_subscriber"),
		RedisAddr:     viper.GetString("redis_addr"),
		RedisPassword: viper.GetString("redis_password"),
		LockTTL:       viper.GetDuration("lock_ttl"),
		Gate: GateSettings{
			Cooldown:              viper.GetDuration("cooldown"),
			PriceChangeTriggerPct: viper.GetFloat64("price_change_trigger_pct"),
			RSIOverbought:         viper.GetFloat64("rsi_overbought"),
			RSIOversold:           viper.GetFloat64("rsi_oversold"),
			RSIDeltaTrigger:       viper.GetFloat64("rsi_delta_trigger"),
			VolumeSpikeMultiplier: viper.GetFloat64("volume_spike_multiplier"),
		},
		Cache: CacheSettings{
			NewsTTL:             viper.GetDuration("news_ttl"),
			NewsTopN:            viper.GetInt("news_top_n"),
			FundamentalsTTL:     viper.GetDuration("fundamentals_ttl"),
			FilingCheckInterval: viper.GetDuration("filing_check_interval"),
			Retention:           viper.GetDuration("cache_retention"),
		},
		Analyzer: AnalyzerSettings{
			APIKey:       viper.GetString("openai_api_key"),
			BaseURL:      viper.GetString("openai_base_url"),
			ModelBasic:   viper.GetString("model_basic"),
			ModelHQ:      viper.GetString("model_hq"),
			MajorEvent:   viper.GetFloat64("major_event_pct"),
			Attempts:     viper.GetInt("analyzer_attempts"),
			BackoffMin:   viper.GetDuration("analyzer_backoff_min"),
			BackoffMax:   viper.GetDuration("analyzer_backoff_max"),
			Timeout:      viper.GetDuration("analyzer_timeout"),
			MaxKeyPoints: viper.GetInt("max_key_points"),
		},
		Delivery: DeliverySettings{
			BotToken:      viper.GetString("telegram_bot_token"),
			ChunkLimit:    viper.GetInt("message_chunk_limit"),
			MessageDelay:  viper.GetDuration("message_delay"),
			ChartsEnabled: viper.GetBool("charts_enabled"),
			ChartFont:     viper.GetString("chart_font"),
			Lang:          viper.GetString("lang"),
		},
		Schedule: ScheduleSettings{
			RunTimes:   splitList(viper.GetString("run_times")),
			DigestTime: strings.TrimSpace(viper.GetString("digest_time")),
			PruneTime:  strings.TrimSpace(viper.GetString("prune_time")),
			Location:   loc,
		},
	}

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate rejects settings the pipeline cannot run with
func (s Settings) Validate() error {
	if s.DBPath == "" {
		return errors.New("db_path is required")
	}
	if s.Workers < 1 {
		return errors.Errorf("workers must be >= 1, got %d", s.Workers)
	}
	if s.Gate.RSIOversold >= s.Gate.RSIOverbought {
		return errors.Errorf("rsi_oversold (%.1f) must be below rsi_overbought (%.1f)", s.Gate.RSIOversold, s.Gate.RSIOverbought)
	}
	if s.Gate.Cooldown < 0 {
		return errors.New("cooldown must not be negative")
	}
	if s.Analyzer.Attempts < 1 {
		return errors.Errorf("analyzer_attempts must be >= 1, got %d", s.Analyzer.Attempts)
	}
	if s.Delivery.ChunkLimit < 100 {
		return errors.Errorf("message_chunk_limit too small: %d", s.Delivery.ChunkLimit)
	}
	for _, t := range s.Schedule.RunTimes {
		if _, err := time.Parse("15:04", t); err != nil {
			return errors.Wrapf(err, "invalid run time %q", t)
		}
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
