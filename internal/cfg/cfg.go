package cfg

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"propcast/internal/common"
	"propcast/internal/features"
	"propcast/internal/ml"
	"propcast/internal/signals"
)

// Settings is the resolved runtime configuration.
type Settings struct {
	DataPath    string
	ListenAddr  string
	MetricsPort int
	LogLevel    string

	Training    ml.TrainingConfig
	Calibration ml.CalibrationConfig
	Policy      features.Policy
	Signals     SignalSettings
	Redis       RedisSettings
}

// SignalSettings configures where sentiment and momentum come from.
type SignalSettings struct {
	BaseURL      string
	StreamURL    string
	Subjects     []string
	Timeout      time.Duration
	CacheTTL     time.Duration
	PingInterval time.Duration
	Breaker      signals.BreakerConfig
}

// RedisSettings enables the shared signal cache when Addr is set.
type RedisSettings struct {
	Addr     string
	Password string
	DB       int
}

// ConfigFile mirrors the YAML layout. Zero values are filled from the
// default tags before the file is read.
type ConfigFile struct {
	Server struct {
		ListenAddr  string `yaml:"listenAddr" default:":8090" validate:"required"`
		MetricsPort int    `yaml:"metricsPort" default:"8080" validate:"gte=1024,lte=65535"`
		LogLevel    string `yaml:"logLevel" default:"info" validate:"oneof=trace debug info warn error fatal panic disabled"`
		DataPath    string `yaml:"dataPath" default:"data" validate:"required"`
	} `yaml:"server"`

	Training struct {
		Folds           int                `yaml:"folds" default:"5" validate:"gte=2,lte=20"`
		Seed            int64              `yaml:"seed" default:"42"`
		HoldoutFraction float64            `yaml:"holdoutFraction" default:"0.2" validate:"gte=0,lte=0.5"`
		Threshold       float64            `yaml:"threshold" default:"0.5" validate:"gt=0,lt=1"`
		ReferenceModel  string             `yaml:"referenceModel"`
		Models          []ml.EstimatorSpec `yaml:"models"`
		Meta            *ml.EstimatorSpec  `yaml:"meta"`
	} `yaml:"training"`

	Calibration ml.CalibrationConfig `yaml:"calibration"`
	Explain     ml.ExplainConfig     `yaml:"explain"`

	Features struct {
		DefaultValue  float64 `yaml:"defaultValue"`
		RejectUnknown bool    `yaml:"rejectUnknown"`
	} `yaml:"features"`

	Signals struct {
		BaseURL      string                `yaml:"baseURL" validate:"omitempty,url"`
		StreamURL    string                `yaml:"streamURL" validate:"omitempty,url"`
		Subjects     []string              `yaml:"subjects"`
		Timeout      time.Duration         `yaml:"timeout" default:"2s" validate:"gt=0"`
		CacheTTL     time.Duration         `yaml:"cacheTTL" default:"10m" validate:"gte=0"`
		PingInterval time.Duration         `yaml:"pingInterval" default:"15s" validate:"gte=1s"`
		Breaker      signals.BreakerConfig `yaml:"breaker"`
	} `yaml:"signals"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db" validate:"gte=0"`
	} `yaml:"redis"`
}

var validate = validator.New()

// Load resolves configuration from, in increasing precedence: defaults, the
// YAML file named by CONFIG_FILE, a .env file, and the process environment.
func Load() (Settings, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to read .env file")
	}

	config, err := newConfigFile()
	if err != nil {
		return Settings{}, err
	}

	if path := os.Getenv(common.EnvConfigFile); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(config)
	return config.resolve()
}

func newConfigFile() (*ConfigFile, error) {
	config := &ConfigFile{
		Calibration: ml.DefaultCalibrationConfig(),
		Explain:     ml.DefaultExplainConfig(),
	}
	if err := defaults.Set(config); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return config, nil
}

func applyEnv(c *ConfigFile) {
	c.Server.DataPath = getEnvOrDefault(common.EnvDataPath, c.Server.DataPath)
	c.Server.ListenAddr = getEnvOrDefault(common.EnvListenAddr, c.Server.ListenAddr)
	c.Server.MetricsPort = getIntOrDefault(common.EnvMetricsPort, c.Server.MetricsPort)
	c.Server.LogLevel = strings.ToLower(getEnvOrDefault(common.EnvLogLevel, c.Server.LogLevel))

	c.Training.Folds = getIntOrDefault(common.EnvStackingFolds, c.Training.Folds)
	c.Training.Seed = int64(getIntOrDefault(common.EnvTrainingSeed, int(c.Training.Seed)))
	c.Training.HoldoutFraction = getFloatOrDefault(common.EnvHoldoutFraction, c.Training.HoldoutFraction)
	c.Training.ReferenceModel = getEnvOrDefault(common.EnvReferenceModel, c.Training.ReferenceModel)

	c.Calibration.HighThreshold = getFloatOrDefault(common.EnvSentimentHigh, c.Calibration.HighThreshold)
	c.Calibration.LowThreshold = getFloatOrDefault(common.EnvSentimentLow, c.Calibration.LowThreshold)
	c.Calibration.SentimentUplift = getFloatOrDefault(common.EnvSentimentUplift, c.Calibration.SentimentUplift)
	c.Calibration.SentimentDiscount = getFloatOrDefault(common.EnvSentimentDiscount, c.Calibration.SentimentDiscount)
	c.Calibration.MomentumWindow = getIntOrDefault(common.EnvMomentumWindow, c.Calibration.MomentumWindow)
	c.Calibration.MomentumThreshold = getFloatOrDefault(common.EnvMomentumThreshold, c.Calibration.MomentumThreshold)
	c.Calibration.MomentumUplift = getFloatOrDefault(common.EnvMomentumUplift, c.Calibration.MomentumUplift)

	c.Features.DefaultValue = getFloatOrDefault(common.EnvFeatureDefault, c.Features.DefaultValue)
	c.Features.RejectUnknown = getBoolOrDefault(common.EnvRejectUnknown, c.Features.RejectUnknown)

	c.Signals.BaseURL = getEnvOrDefault(common.EnvSignalBaseURL, c.Signals.BaseURL)
	c.Signals.StreamURL = getEnvOrDefault(common.EnvSignalStreamURL, c.Signals.StreamURL)
	c.Signals.Timeout = getDurationOrDefault(common.EnvSignalTimeout, c.Signals.Timeout)
	c.Signals.CacheTTL = getDurationOrDefault(common.EnvSignalCacheTTL, c.Signals.CacheTTL)

	c.Redis.Addr = getEnvOrDefault(common.EnvRedisAddr, c.Redis.Addr)
	c.Redis.Password = getEnvOrDefault(common.EnvRedisPassword, c.Redis.Password)
	c.Redis.DB = getIntOrDefault(common.EnvRedisDB, c.Redis.DB)
}

func (c *ConfigFile) resolve() (Settings, error) {
	if err := validate.Struct(c); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	training := ml.DefaultTrainingConfig()
	training.Folds = c.Training.Folds
	training.Seed = c.Training.Seed
	training.HoldoutFraction = c.Training.HoldoutFraction
	training.Threshold = c.Training.Threshold
	training.ReferenceModel = c.Training.ReferenceModel
	training.Explain = c.Explain
	if len(c.Training.Models) > 0 {
		training.Models = c.Training.Models
	}
	if c.Training.Meta != nil {
		training.Meta = *c.Training.Meta
	}

	settings := Settings{
		DataPath:    c.Server.DataPath,
		ListenAddr:  c.Server.ListenAddr,
		MetricsPort: c.Server.MetricsPort,
		LogLevel:    c.Server.LogLevel,
		Training:    training,
		Calibration: c.Calibration,
		Policy: features.Policy{
			DefaultValue:  c.Features.DefaultValue,
			RejectUnknown: c.Features.RejectUnknown,
		},
		Signals: SignalSettings{
			BaseURL:      c.Signals.BaseURL,
			StreamURL:    c.Signals.StreamURL,
			Subjects:     c.Signals.Subjects,
			Timeout:      c.Signals.Timeout,
			CacheTTL:     c.Signals.CacheTTL,
			PingInterval: c.Signals.PingInterval,
			Breaker:      c.Signals.Breaker,
		},
		Redis: RedisSettings{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
		},
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, nil
}

// validateSettings checks the cross-field rules struct tags cannot express.
func validateSettings(settings *Settings) error {
	if settings.MetricsPort < common.MinMetricsPort || settings.MetricsPort > common.MaxMetricsPort {
		return fmt.Errorf("metrics port must be between %d and %d, got %d", common.MinMetricsPort, common.MaxMetricsPort, settings.MetricsPort)
	}
	if strings.HasSuffix(settings.ListenAddr, ":"+strconv.Itoa(settings.MetricsPort)) {
		return fmt.Errorf("listen address %s collides with metrics port %d", settings.ListenAddr, settings.MetricsPort)
	}
	if settings.Training.Folds < common.MinStackingFolds || settings.Training.Folds > common.MaxStackingFolds {
		return fmt.Errorf("stacking folds must be between %d and %d, got %d", common.MinStackingFolds, common.MaxStackingFolds, settings.Training.Folds)
	}
	if err := settings.Training.Validate(); err != nil {
		return fmt.Errorf("training: %w", err)
	}
	if err := settings.Calibration.Validate(); err != nil {
		return fmt.Errorf("calibration: %w", err)
	}
	if e := settings.Training.Explain; e.MaxExactFeatures < 1 || e.MaxExactFeatures > common.MaxExactFeatures || e.Samples < 1 {
		return fmt.Errorf("explain: max exact features must be in [1,%d] and samples positive, got %d/%d", common.MaxExactFeatures, e.MaxExactFeatures, e.Samples)
	}
	if settings.Signals.StreamURL != "" && !strings.HasPrefix(settings.Signals.StreamURL, "ws") {
		return fmt.Errorf("signal stream URL must use ws:// or wss://, got %s", settings.Signals.StreamURL)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Warn().Str("key", key).Str("value", v).Msg("ignoring malformed duration")
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
		log.Warn().Str("key", key).Str("value", v).Msg("ignoring malformed integer")
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		log.Warn().Str("key", key).Str("value", v).Msg("ignoring malformed number")
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}
