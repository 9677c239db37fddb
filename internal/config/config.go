package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/marlonbarreto-git/nimbus-psp-router/internal/model"
)

// Config is the full configuration surface of the router. Every knob has an
// explicit default registered in SetDefaults; nothing is hidden in code.
type Config struct {
	Server     ServerConfig      `mapstructure:"server"`
	Routing    RoutingConfig     `mapstructure:"routing"`
	Candidates CandidateConfig   `mapstructure:"candidates"`
	Predictor  PredictorConfig   `mapstructure:"predictor"`
	Retrain    RetrainConfig     `mapstructure:"retrain"`
	History    HistoryConfig     `mapstructure:"history"`
	Weights    WeightsFileConfig `mapstructure:"weights"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// RoutingConfig configures the router's deadlines and decision constraints.
type RoutingConfig struct {
	Deadline                 time.Duration `mapstructure:"deadline"`
	RetryWindowMs            int           `mapstructure:"retry_window_ms"`
	MaxRetries               int           `mapstructure:"max_retries"`
	CardPaymentMethodIDs     []int         `mapstructure:"card_payment_method_ids"`
	MaxConcurrentPredictions int           `mapstructure:"max_concurrent_predictions"`
}

// IsCardMethod reports whether the payment method id belongs to the
// configured card family, which is what makes SCA bind to 3DS.
func (r RoutingConfig) IsCardMethod(paymentMethodID int) bool {
	for _, id := range r.CardPaymentMethodIDs {
		if id == paymentMethodID {
			return true
		}
	}
	return false
}

// CandidateConfig configures the candidate store: health projection,
// eligibility, rolling windows, caching and the feedback path.
type CandidateConfig struct {
	GreenCutoff           float64       `mapstructure:"green_cutoff"`
	YellowCutoff          float64       `mapstructure:"yellow_cutoff"`
	MinVolume             int64         `mapstructure:"min_volume"`
	WindowDays            int           `mapstructure:"window_days"`
	RecentWindowDays      int           `mapstructure:"recent_window_days"`
	DedupRingCapacity     int           `mapstructure:"dedup_ring_capacity"`
	SegmentTTL            time.Duration `mapstructure:"segment_ttl"`
	SegmentCacheSize      int           `mapstructure:"segment_cache_size"`
	SegmentRefreshTimeout time.Duration `mapstructure:"segment_refresh_timeout"`
	ProcessingTimeAlpha   float64       `mapstructure:"processing_time_alpha"`
	RoutableHealth        []string      `mapstructure:"routable_health"`
	FeedbackQueueDepth    int           `mapstructure:"feedback_queue_depth"`
	SuccessStatusCodes    []int         `mapstructure:"success_status_codes"`
}

// PredictorConfig configures the predictive layer.
type PredictorConfig struct {
	Kind          string        `mapstructure:"kind"`
	Timeout       time.Duration `mapstructure:"timeout"`
	ModelPath     string        `mapstructure:"model_path"`
	BanditEpsilon float64       `mapstructure:"bandit_epsilon"`
}

// RetrainConfig configures the retraining triggers and scheduler.
type RetrainConfig struct {
	Interval          time.Duration `mapstructure:"interval"`
	FeedbackThreshold int64         `mapstructure:"feedback_threshold"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	MaxTries          uint          `mapstructure:"max_tries"`
}

// HistoryConfig configures the historical outcome archive.
type HistoryConfig struct {
	Path          string `mapstructure:"path"`
	InMemory      bool   `mapstructure:"in_memory"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// WeightsFileConfig points at the hot-reloadable weights file.
type WeightsFileConfig struct {
	Path string `mapstructure:"path"`
}

// SetDefaults registers the documented default for every knob.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("routing.deadline", 250*time.Millisecond)
	v.SetDefault("routing.retry_window_ms", 8000)
	v.SetDefault("routing.max_retries", 1)
	v.SetDefault("routing.card_payment_method_ids", []int{1, 2})
	v.SetDefault("routing.max_concurrent_predictions", 8)

	v.SetDefault("candidates.green_cutoff", 0.80)
	v.SetDefault("candidates.yellow_cutoff", 0.60)
	v.SetDefault("candidates.min_volume", 10)
	v.SetDefault("candidates.window_days", 30)
	v.SetDefault("candidates.recent_window_days", 7)
	v.SetDefault("candidates.dedup_ring_capacity", 1000)
	v.SetDefault("candidates.segment_ttl", time.Minute)
	v.SetDefault("candidates.segment_cache_size", 1024)
	v.SetDefault("candidates.segment_refresh_timeout", time.Second)
	v.SetDefault("candidates.processing_time_alpha", 0.1)
	v.SetDefault("candidates.routable_health", []string{"green", "yellow"})
	v.SetDefault("candidates.feedback_queue_depth", 1024)
	v.SetDefault("candidates.success_status_codes", []int{5, 7, 9})

	v.SetDefault("predictor.kind", "ensemble")
	v.SetDefault("predictor.timeout", 100*time.Millisecond)
	v.SetDefault("predictor.model_path", "")
	v.SetDefault("predictor.bandit_epsilon", 0.05)

	v.SetDefault("retrain.interval", 24*time.Hour)
	v.SetDefault("retrain.feedback_threshold", 500)
	v.SetDefault("retrain.poll_interval", time.Minute)
	v.SetDefault("retrain.max_tries", 5)

	v.SetDefault("history.path", "data/outcomes")
	v.SetDefault("history.in_memory", false)
	v.SetDefault("history.retention_days", 35)

	v.SetDefault("weights.path", "")
}

// Load reads configuration from the given viper instance into a Config.
func Load(v *viper.Viper) (Config, error) {
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the configuration with every knob at its default value.
func Default() Config {
	cfg, err := Load(viper.New())
	if err != nil {
		panic(err) // defaults are always valid
	}
	return cfg
}

func (c Config) validate() error {
	if c.Candidates.GreenCutoff < c.Candidates.YellowCutoff {
		return fmt.Errorf("candidates: green_cutoff %.2f below yellow_cutoff %.2f",
			c.Candidates.GreenCutoff, c.Candidates.YellowCutoff)
	}
	if c.Candidates.ProcessingTimeAlpha <= 0 || c.Candidates.ProcessingTimeAlpha > 1 {
		return fmt.Errorf("candidates: processing_time_alpha must be in (0,1], got %.2f",
			c.Candidates.ProcessingTimeAlpha)
	}
	if c.Candidates.MinVolume < 0 {
		return fmt.Errorf("candidates: min_volume must not be negative")
	}
	if c.Routing.Deadline <= 0 || c.Predictor.Timeout <= 0 {
		return fmt.Errorf("routing deadline and predictor timeout must be positive")
	}
	if c.Predictor.BanditEpsilon < 0 || c.Predictor.BanditEpsilon > 1 {
		return fmt.Errorf("predictor: bandit_epsilon must be in [0,1]")
	}
	if len(c.Candidates.RoutableHealth) == 0 {
		return fmt.Errorf("candidates: routable_health must not be empty")
	}
	for _, h := range c.Candidates.RoutableHealth {
		switch model.HealthStatus(h) {
		case model.HealthGreen, model.HealthYellow, model.HealthRed:
		default:
			return fmt.Errorf("candidates: unknown routable_health %q", h)
		}
	}
	return nil
}
