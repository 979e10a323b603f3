package common

// Environment variable keys
const (
	EnvConfigFile        = "CONFIG_FILE"
	EnvDataPath          = "DATA_PATH"
	EnvListenAddr        = "LISTEN_ADDR"
	EnvMetricsPort       = "METRICS_PORT"
	EnvLogLevel          = "LOG_LEVEL"
	EnvStackingFolds     = "STACKING_FOLDS"
	EnvTrainingSeed      = "TRAINING_SEED"
	EnvHoldoutFraction   = "HOLDOUT_FRACTION"
	EnvReferenceModel    = "REFERENCE_MODEL"
	EnvSignalBaseURL     = "SIGNAL_BASE_URL"
	EnvSignalStreamURL   = "SIGNAL_STREAM_URL"
	EnvSignalTimeout     = "SIGNAL_TIMEOUT"
	EnvSignalCacheTTL    = "SIGNAL_CACHE_TTL"
	EnvRedisAddr         = "REDIS_ADDR"
	EnvRedisPassword     = "REDIS_PASSWORD"
	EnvRedisDB           = "REDIS_DB"
	EnvSentimentHigh     = "SENTIMENT_HIGH_THRESHOLD"
	EnvSentimentLow      = "SENTIMENT_LOW_THRESHOLD"
	EnvSentimentUplift   = "SENTIMENT_UPLIFT"
	EnvSentimentDiscount = "SENTIMENT_DISCOUNT"
	EnvMomentumWindow    = "MOMENTUM_WINDOW"
	EnvMomentumThreshold = "MOMENTUM_THRESHOLD"
	EnvMomentumUplift    = "MOMENTUM_UPLIFT"
	EnvFeatureDefault    = "FEATURE_DEFAULT_VALUE"
	EnvRejectUnknown     = "FEATURE_REJECT_UNKNOWN"
)

// Configuration defaults
const (
	DefaultDataPath          = "data"
	DefaultListenAddr        = ":8090"
	DefaultMetricsPort       = 8080
	DefaultStackingFolds     = 5
	DefaultTrainingSeed      = 42
	DefaultHoldoutFraction   = 0.2
	DefaultSentimentHigh     = 0.7
	DefaultSentimentLow      = 0.3
	DefaultSentimentUplift   = 1.1
	DefaultSentimentDiscount = 0.9
	DefaultMomentumWindow    = 5
	DefaultMomentumThreshold = 0.8
	DefaultMomentumUplift    = 1.05
	DefaultMaxExactFeatures  = 10
	DefaultShapleySamples    = 256
)

// Circuit breaker defaults for signal providers
const DefaultBreakerConsecutiveFailures = 5

// Validation constants
const (
	MinStackingFolds = 2
	MaxStackingFolds = 20
	MinMetricsPort   = 1024
	MaxMetricsPort   = 65535
	MaxHoldout       = 0.5
	MaxExactFeatures = 20 // 2^20 coalitions per explanation
)
