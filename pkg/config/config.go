package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App           AppConfig
	Service       ServiceConfig
	DB            DBConfig
	Redis         RedisConfig
	GCP           GCPConfig
	PubSub        PubSubConfig
	ChangeFeed    ChangeFeedConfig
	Notifications NotificationsConfig
	Fanout        FanoutConfig
	HTTP          HTTPConfig
	Outbox        OutboxConfig
	Cron          CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.ChangeFeed.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"LIVEOPS_APP_ENV" required:"true"`
	Port         string `envconfig:"LIVEOPS_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"LIVEOPS_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"LIVEOPS_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"LIVEOPS_LOG_WARN_STACK" default:"false"`
	AutoMigrate  bool   `envconfig:"LIVEOPS_AUTO_MIGRATE" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"LIVEOPS_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN string `envconfig:"LIVEOPS_DB_DSN"`

	LegacyHost     string `envconfig:"LIVEOPS_DB_HOST"`
	LegacyPort     int    `envconfig:"LIVEOPS_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"LIVEOPS_DB_USER"`
	LegacyPassword string `envconfig:"LIVEOPS_DB_PASSWORD"`
	LegacyName     string `envconfig:"LIVEOPS_DB_NAME"`
	LegacySSLMode  string `envconfig:"LIVEOPS_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"LIVEOPS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"LIVEOPS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"LIVEOPS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"LIVEOPS_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"LIVEOPS_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"LIVEOPS_REDIS_URL" required:"true"`
	Address      string        `envconfig:"LIVEOPS_REDIS_ADDR"`
	Password     string        `envconfig:"LIVEOPS_REDIS_PASSWORD"`
	DB           int           `envconfig:"LIVEOPS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"LIVEOPS_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"LIVEOPS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"LIVEOPS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"LIVEOPS_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"LIVEOPS_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"LIVEOPS_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"LIVEOPS_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"LIVEOPS_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrdersTopic              string `envconfig:"LIVEOPS_PUBSUB_ORDERS_TOPIC" default:"liveops-orders-changes"`
	OrdersSubscription       string `envconfig:"LIVEOPS_PUBSUB_ORDERS_SUBSCRIPTION" default:"liveops-orders-changes-api"`
	ReservationsTopic        string `envconfig:"LIVEOPS_PUBSUB_RESERVATIONS_TOPIC" default:"liveops-reservations-changes"`
	ReservationsSubscription string `envconfig:"LIVEOPS_PUBSUB_RESERVATIONS_SUBSCRIPTION" default:"liveops-reservations-changes-api"`
	UsersTopic               string `envconfig:"LIVEOPS_PUBSUB_USERS_TOPIC" default:"liveops-users-changes"`
	UsersSubscription        string `envconfig:"LIVEOPS_PUBSUB_USERS_SUBSCRIPTION" default:"liveops-users-changes-api"`
}

// ChangeFeedConfig selects where raw change records come from.
type ChangeFeedConfig struct {
	Driver            string        `envconfig:"LIVEOPS_CHANGEFEED_DRIVER" default:"pubsub"`
	ReconnectMinDelay time.Duration `envconfig:"LIVEOPS_CHANGEFEED_RECONNECT_MIN_DELAY" default:"500ms"`
	ReconnectMaxDelay time.Duration `envconfig:"LIVEOPS_CHANGEFEED_RECONNECT_MAX_DELAY" default:"30s"`
	StableAfter       time.Duration `envconfig:"LIVEOPS_CHANGEFEED_STABLE_AFTER" default:"5s"`
	BufferSize        int           `envconfig:"LIVEOPS_CHANGEFEED_BUFFER_SIZE" default:"256"`
	PollInterval      time.Duration `envconfig:"LIVEOPS_CHANGEFEED_POLL_INTERVAL" default:"1s"`
	PollBatchSize     int           `envconfig:"LIVEOPS_CHANGEFEED_POLL_BATCH_SIZE" default:"100"`
	PollLookback      time.Duration `envconfig:"LIVEOPS_CHANGEFEED_POLL_LOOKBACK" default:"30s"`
}

func (c ChangeFeedConfig) UsesPubSub() bool {
	return strings.EqualFold(c.Driver, ChangeFeedDriverPubSub)
}

func (c ChangeFeedConfig) validate() error {
	switch strings.ToLower(c.Driver) {
	case ChangeFeedDriverPubSub, ChangeFeedDriverPostgres:
	default:
		return fmt.Errorf("%s must be one of %q or %q", EnvChangeFeedDriver, ChangeFeedDriverPubSub, ChangeFeedDriverPostgres)
	}
	if c.ReconnectMinDelay <= 0 || c.ReconnectMaxDelay < c.ReconnectMinDelay {
		return fmt.Errorf("%s must be positive and not exceed %s", EnvChangeFeedReconnectMin, EnvChangeFeedReconnectMax)
	}
	return nil
}

type NotificationsConfig struct {
	Capacity           int           `envconfig:"LIVEOPS_NOTIFICATIONS_CAPACITY" default:"200"`
	SeenIDs            int           `envconfig:"LIVEOPS_NOTIFICATIONS_SEEN_IDS" default:"800"`
	SoundDefault       bool          `envconfig:"LIVEOPS_NOTIFICATIONS_SOUND_DEFAULT" default:"true"`
	SoundMinInterval   time.Duration `envconfig:"LIVEOPS_NOTIFICATIONS_SOUND_MIN_INTERVAL" default:"2s"`
	SoundPreferenceTTL time.Duration `envconfig:"LIVEOPS_NOTIFICATIONS_SOUND_PREFERENCE_TTL" default:"720h"`
}

type FanoutConfig struct {
	QueueSize       int           `envconfig:"LIVEOPS_FANOUT_QUEUE_SIZE" default:"64"`
	DeliveryTimeout time.Duration `envconfig:"LIVEOPS_FANOUT_DELIVERY_TIMEOUT" default:"250ms"`
}

type HTTPConfig struct {
	AllowedOrigins    []string      `envconfig:"LIVEOPS_HTTP_ALLOWED_ORIGINS" default:"*"`
	SessionHeader     string        `envconfig:"LIVEOPS_HTTP_SESSION_HEADER" default:"X-Session-Id"`
	StreamHeartbeat   time.Duration `envconfig:"LIVEOPS_HTTP_STREAM_HEARTBEAT" default:"15s"`
	ReadHeaderTimeout time.Duration `envconfig:"LIVEOPS_HTTP_READ_HEADER_TIMEOUT" default:"5s"`
}

// OutboxConfig tunes the relay that moves captured change_events rows onto
// the per-stream topics.
type OutboxConfig struct {
	BatchSize      int           `envconfig:"LIVEOPS_OUTBOX_BATCH_SIZE" default:"50"`
	PollInterval   time.Duration `envconfig:"LIVEOPS_OUTBOX_POLL_INTERVAL" default:"500ms"`
	MaxBackoff     time.Duration `envconfig:"LIVEOPS_OUTBOX_MAX_BACKOFF" default:"10s"`
	PublishTimeout time.Duration `envconfig:"LIVEOPS_OUTBOX_PUBLISH_TIMEOUT" default:"15s"`
	MaxAttempts    int           `envconfig:"LIVEOPS_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type CronConfig struct {
	Interval            time.Duration `envconfig:"LIVEOPS_CRON_INTERVAL" default:"1h"`
	LockTTL             time.Duration `envconfig:"LIVEOPS_CRON_LOCK_TTL" default:"55m"`
	JobTimeout          time.Duration `envconfig:"LIVEOPS_CRON_JOB_TIMEOUT" default:"50m"`
	ChangeRetentionDays int           `envconfig:"LIVEOPS_CRON_CHANGE_RETENTION_DAYS" default:"7"`
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
