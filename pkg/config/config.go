package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	RateLimit    RateLimitConfig
	FeatureFlags FeatureFlagsConfig
	Chain        ChainConfig
	MasterWallet MasterWalletConfig
	Scanner      ScannerConfig
	Escrow       EscrowConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.MasterWallet.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Escrow.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"LOADERESCROW_APP_ENV" required:"true"`
	Port         string   `envconfig:"LOADERESCROW_APP_PORT" required:"true"`
	LogLevel     string   `envconfig:"LOADERESCROW_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"LOADERESCROW_LOG_WARN_STACK" default:"false"`
	CORSOrigins  []string `envconfig:"LOADERESCROW_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"LOADERESCROW_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"LOADERESCROW_DB_DSN"`
	Driver string `envconfig:"LOADERESCROW_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"LOADERESCROW_DB_HOST"`
	LegacyPort     int    `envconfig:"LOADERESCROW_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"LOADERESCROW_DB_USER"`
	LegacyPassword string `envconfig:"LOADERESCROW_DB_PASSWORD"`
	LegacyName     string `envconfig:"LOADERESCROW_DB_NAME"`
	LegacySSLMode  string `envconfig:"LOADERESCROW_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"LOADERESCROW_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"LOADERESCROW_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"LOADERESCROW_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"LOADERESCROW_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// IsSQLite reports whether the sqlite driver was selected.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DBDriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"LOADERESCROW_REDIS_URL" required:"true"`
	Address      string        `envconfig:"LOADERESCROW_REDIS_ADDR"`
	Password     string        `envconfig:"LOADERESCROW_REDIS_PASSWORD"`
	DB           int           `envconfig:"LOADERESCROW_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"LOADERESCROW_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"LOADERESCROW_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"LOADERESCROW_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"LOADERESCROW_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"LOADERESCROW_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"LOADERESCROW_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"LOADERESCROW_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"LOADERESCROW_JWT_EXPIRATION_MINUTES" required:"true"`
}

type RateLimitConfig struct {
	Window time.Duration `envconfig:"LOADERESCROW_RATE_LIMIT_WINDOW" default:"1m"`
	Limit  int           `envconfig:"LOADERESCROW_RATE_LIMIT_REQUESTS" default:"120"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"LOADERESCROW_AUTO_MIGRATE" default:"false"`
}

type ChainConfig struct {
	RPCURL              string        `envconfig:"LOADERESCROW_CHAIN_RPC_URL" required:"true"`
	ChainID             int64         `envconfig:"LOADERESCROW_CHAIN_ID" default:"56"`
	Network             string        `envconfig:"LOADERESCROW_CHAIN_NETWORK" default:"BSC"`
	TokenContract       string        `envconfig:"LOADERESCROW_TOKEN_CONTRACT" default:"0x55d398326f99059fF775485246999027B3197955"`
	TokenDecimals       int32         `envconfig:"LOADERESCROW_TOKEN_DECIMALS" default:"18"`
	ReceiptPollInterval time.Duration `envconfig:"LOADERESCROW_RECEIPT_POLL_INTERVAL" default:"3s"`
}

type MasterWalletConfig struct {
	Address             string          `envconfig:"LOADERESCROW_MASTER_WALLET_ADDRESS"`
	EncryptedPrivateKey string          `envconfig:"LOADERESCROW_ENCRYPTED_MASTER_WALLET_KEY"`
	PrivateKey          string          `envconfig:"LOADERESCROW_MASTER_WALLET_PRIVATE_KEY"`
	SweepAddress        string          `envconfig:"LOADERESCROW_SWEEP_WALLET_ADDRESS"`
	EncryptionKey       string          `envconfig:"LOADERESCROW_ENCRYPTION_KEY"`
	MinGasReserve       decimal.Decimal `envconfig:"LOADERESCROW_MIN_GAS_RESERVE" default:"0.005"`
	TransferTimeout     time.Duration   `envconfig:"LOADERESCROW_TRANSFER_TIMEOUT" default:"2m"`
}

// SweepDestination returns the configured sweep wallet, falling back to the treasury.
func (m MasterWalletConfig) SweepDestination() string {
	if addr := strings.TrimSpace(m.SweepAddress); addr != "" {
		return addr
	}
	return strings.TrimSpace(m.Address)
}

// UsesRawKey reports whether the unencrypted private key is configured.
func (m MasterWalletConfig) UsesRawKey() bool {
	return strings.TrimSpace(m.EncryptedPrivateKey) == "" && strings.TrimSpace(m.PrivateKey) != ""
}

func (m MasterWalletConfig) validate() error {
	if m.EncryptionKey != "" && len(m.EncryptionKey) != EncryptionKeyLength {
		return fmt.Errorf("%s must be exactly %d characters", EnvEncryptionKey, EncryptionKeyLength)
	}
	if m.EncryptedPrivateKey != "" && m.EncryptionKey == "" {
		return fmt.Errorf("%s is required when %s is set", EnvEncryptionKey, EnvEncryptedMasterKey)
	}
	if m.MinGasReserve.IsNegative() {
		return fmt.Errorf("%s cannot be negative", EnvMinGasReserve)
	}
	return nil
}

type ScannerConfig struct {
	Interval                     time.Duration `envconfig:"LOADERESCROW_SCANNER_INTERVAL" default:"60s"`
	LookbackBlocks               uint64        `envconfig:"LOADERESCROW_SCANNER_LOOKBACK_BLOCKS" default:"50"`
	RollbackBlocks               uint64        `envconfig:"LOADERESCROW_SCANNER_ROLLBACK_BLOCKS" default:"5"`
	DefaultRequiredConfirmations int           `envconfig:"LOADERESCROW_REQUIRED_CONFIRMATIONS_DEFAULT" default:"15"`
	SweepMaxAttempts             int           `envconfig:"LOADERESCROW_SWEEP_MAX_ATTEMPTS" default:"5"`
	SweepStaleAfter              time.Duration `envconfig:"LOADERESCROW_SWEEP_STALE_AFTER" default:"10m"`
}

type EscrowConfig struct {
	PlatformFeeBps int    `envconfig:"LOADERESCROW_PLATFORM_FEE_BPS" default:"0"`
	Currency       string `envconfig:"LOADERESCROW_CURRENCY" default:"USDT"`

	// Owner of the wallet credited with platform fees. Required when
	// PlatformFeeBps is positive.
	PlatformFeeOwnerID string `envconfig:"LOADERESCROW_PLATFORM_FEE_OWNER_ID"`
}

// FeeOwner returns the fee wallet owner, or uuid.Nil when none is set.
func (e EscrowConfig) FeeOwner() uuid.UUID {
	id, err := uuid.Parse(strings.TrimSpace(e.PlatformFeeOwnerID))
	if err != nil {
		return uuid.Nil
	}
	return id
}

func (e EscrowConfig) validate() error {
	if e.PlatformFeeBps < 0 || e.PlatformFeeBps > 10000 {
		return fmt.Errorf("%s must be between 0 and 10000", EnvPlatformFeeBps)
	}
	if strings.TrimSpace(e.PlatformFeeOwnerID) != "" && e.FeeOwner() == uuid.Nil {
		return fmt.Errorf("%s must be a non-nil UUID", EnvPlatformFeeOwnerID)
	}
	if e.PlatformFeeBps > 0 && e.FeeOwner() == uuid.Nil {
		return fmt.Errorf("%s is required when %s is positive", EnvPlatformFeeOwnerID, EnvPlatformFeeBps)
	}
	return nil
}

type GCPConfig struct {
	ProjectID string `envconfig:"LOADERESCROW_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	DomainTopic string `envconfig:"LOADERESCROW_PUBSUB_DOMAIN_TOPIC" default:"le-domain-events"`
}

type OutboxConfig struct {
	BatchSize          int `envconfig:"LOADERESCROW_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS     int `envconfig:"LOADERESCROW_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts        int `envconfig:"LOADERESCROW_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays      int `envconfig:"LOADERESCROW_OUTBOX_RETENTION_DAYS" default:"30"`
	AlertRetentionDays int `envconfig:"LOADERESCROW_OUTBOX_ALERT_RETENTION_DAYS" default:"180"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
