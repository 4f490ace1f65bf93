package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "SOLCOUPONS"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	StoreBackendFile = "file"
	StoreBackendSQL  = "sql"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"

	TransferModeGateway   = "gateway"
	TransferModeSimulated = "simulated"
)

const (
	EnvAppEnv            = "SOLCOUPONS_APP_ENV"
	EnvPort              = "SOLCOUPONS_APP_PORT"
	EnvStoreBackend      = "SOLCOUPONS_STORE_BACKEND"
	EnvStoreDataDir      = "SOLCOUPONS_STORE_DATA_DIR"
	EnvDBDriver          = "SOLCOUPONS_DB_DRIVER"
	EnvDBDSN             = "SOLCOUPONS_DB_DSN"
	EnvDBHost            = "SOLCOUPONS_DB_HOST"
	EnvDBUser            = "SOLCOUPONS_DB_USER"
	EnvDBName            = "SOLCOUPONS_DB_NAME"
	EnvRedisURL          = "SOLCOUPONS_REDIS_URL"
	EnvPoolAddress       = "SOLCOUPONS_POOL_ADDRESS"
	EnvTransferMode      = "SOLCOUPONS_TRANSFER_MODE"
	EnvTransferURL       = "SOLCOUPONS_TRANSFER_GATEWAY_URL"
	EnvTransferAPIKey    = "SOLCOUPONS_TRANSFER_API_KEY"
	EnvTransferAuthority = "SOLCOUPONS_TRANSFER_AUTHORITY"
	EnvReconcileMinAge   = "SOLCOUPONS_RECONCILE_MIN_AGE"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	Store        StoreConfig
	DB           DBConfig
	Redis        RedisConfig
	Pool         PoolConfig
	Transfer     TransferConfig
	Reconcile    ReconcileConfig
	RateLimit    RateLimitConfig
	FeatureFlags FeatureFlagsConfig
	CORS         CORSConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Store.UsesSQL() {
		if err := cfg.DB.ensureDSN(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch strings.ToLower(c.Store.Backend) {
	case StoreBackendFile, StoreBackendSQL:
	default:
		return fmt.Errorf("%s must be %q or %q", EnvStoreBackend, StoreBackendFile, StoreBackendSQL)
	}
	switch strings.ToLower(c.Transfer.Mode) {
	case TransferModeSimulated:
		if c.App.IsProd() {
			return fmt.Errorf("%s=%s is not allowed in prod", EnvTransferMode, TransferModeSimulated)
		}
	case TransferModeGateway:
		if strings.TrimSpace(c.Transfer.GatewayURL) == "" {
			return fmt.Errorf("%s is required when %s=%s", EnvTransferURL, EnvTransferMode, TransferModeGateway)
		}
		if strings.TrimSpace(c.Transfer.Authority) == "" {
			return fmt.Errorf("%s is required when %s=%s", EnvTransferAuthority, EnvTransferMode, TransferModeGateway)
		}
	default:
		return fmt.Errorf("%s must be %q or %q", EnvTransferMode, TransferModeGateway, TransferModeSimulated)
	}
	// A pending intent younger than this may still have a submit in flight.
	if inFlight := c.Transfer.RequestTimeout + c.Transfer.ConfirmTimeout; c.Reconcile.MinAge <= inFlight {
		return fmt.Errorf("%s (%s) must exceed the transfer request plus confirm timeout (%s)", EnvReconcileMinAge, c.Reconcile.MinAge, inFlight)
	}
	return nil
}

type AppConfig struct {
	Env          string `envconfig:"SOLCOUPONS_APP_ENV" required:"true"`
	Port         string `envconfig:"SOLCOUPONS_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"SOLCOUPONS_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SOLCOUPONS_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// StoreConfig selects where coupons and events live.
type StoreConfig struct {
	Backend string `envconfig:"SOLCOUPONS_STORE_BACKEND" default:"file"`
	DataDir string `envconfig:"SOLCOUPONS_STORE_DATA_DIR" default:"./data"`
}

func (s StoreConfig) UsesSQL() bool {
	return strings.EqualFold(s.Backend, StoreBackendSQL)
}

type DBConfig struct {
	DSN    string `envconfig:"SOLCOUPONS_DB_DSN"`
	Driver string `envconfig:"SOLCOUPONS_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"SOLCOUPONS_DB_HOST"`
	LegacyPort     int    `envconfig:"SOLCOUPONS_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SOLCOUPONS_DB_USER"`
	LegacyPassword string `envconfig:"SOLCOUPONS_DB_PASSWORD"`
	LegacyName     string `envconfig:"SOLCOUPONS_DB_NAME"`
	LegacySSLMode  string `envconfig:"SOLCOUPONS_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SOLCOUPONS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SOLCOUPONS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SOLCOUPONS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SOLCOUPONS_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(db.Driver, DBDriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"SOLCOUPONS_REDIS_URL"`
	Address      string        `envconfig:"SOLCOUPONS_REDIS_ADDR"`
	Password     string        `envconfig:"SOLCOUPONS_REDIS_PASSWORD"`
	DB           int           `envconfig:"SOLCOUPONS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SOLCOUPONS_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SOLCOUPONS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SOLCOUPONS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SOLCOUPONS_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SOLCOUPONS_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether a redis endpoint was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

// PoolConfig carries the informational engine pool address stamped on coupons.
type PoolConfig struct {
	Address string `envconfig:"SOLCOUPONS_POOL_ADDRESS" required:"true"`
	Network string `envconfig:"SOLCOUPONS_POOL_NETWORK" default:"devnet"`
}

type TransferConfig struct {
	Mode           string        `envconfig:"SOLCOUPONS_TRANSFER_MODE" default:"simulated"`
	GatewayURL     string        `envconfig:"SOLCOUPONS_TRANSFER_GATEWAY_URL"`
	APIKey         string        `envconfig:"SOLCOUPONS_TRANSFER_API_KEY"`
	Authority      string        `envconfig:"SOLCOUPONS_TRANSFER_AUTHORITY"`
	RequestTimeout time.Duration `envconfig:"SOLCOUPONS_TRANSFER_REQUEST_TIMEOUT" default:"15s"`
	ConfirmTimeout time.Duration `envconfig:"SOLCOUPONS_TRANSFER_CONFIRM_TIMEOUT" default:"45s"`
	PollInterval   time.Duration `envconfig:"SOLCOUPONS_TRANSFER_POLL_INTERVAL" default:"1s"`
	RequestsPerSec float64       `envconfig:"SOLCOUPONS_TRANSFER_RPS" default:"5"`
}

func (t TransferConfig) IsSimulated() bool {
	return strings.EqualFold(t.Mode, TransferModeSimulated)
}

// ReconcileConfig drives the withdrawal reconcile loop. InAPI runs the loop
// inside the api process, which is the only option with the simulated
// transfer mode since simulator state is per process.
type ReconcileConfig struct {
	InAPI    bool          `envconfig:"SOLCOUPONS_RECONCILE_IN_API" default:"true"`
	Interval time.Duration `envconfig:"SOLCOUPONS_RECONCILE_INTERVAL" default:"1m"`
	Limit    int           `envconfig:"SOLCOUPONS_RECONCILE_LIMIT" default:"100"`
	MinAge   time.Duration `envconfig:"SOLCOUPONS_RECONCILE_MIN_AGE" default:"2m"`
	LockTTL  time.Duration `envconfig:"SOLCOUPONS_RECONCILE_LOCK_TTL" default:"5m"`
}

// RateLimitConfig throttles mutating coupon requests per client IP and per owner wallet.
type RateLimitConfig struct {
	Window      time.Duration `envconfig:"SOLCOUPONS_RATE_LIMIT_WINDOW" default:"1m"`
	IPLimit     int           `envconfig:"SOLCOUPONS_RATE_LIMIT_IP" default:"120"`
	WalletLimit int           `envconfig:"SOLCOUPONS_RATE_LIMIT_WALLET" default:"30"`
	// TrustProxy reads client IPs from X-Forwarded-For; set only behind a proxy that writes it.
	TrustProxy bool `envconfig:"SOLCOUPONS_RATE_LIMIT_TRUST_PROXY" default:"false"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"SOLCOUPONS_AUTO_MIGRATE" default:"false"`
}

type CORSConfig struct {
	AllowedOrigins []string `envconfig:"SOLCOUPONS_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		return fmt.Errorf("%s is required for the sqlite driver", EnvDBDSN)
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
