package config

// EnvPrefix namespaces every variable read by Load.
const EnvPrefix = "LIVEOPS"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	ChangeFeedDriverPubSub   = "pubsub"
	ChangeFeedDriverPostgres = "postgres"
)

const (
	EnvAppEnv   = "LIVEOPS_APP_ENV"
	EnvPort     = "LIVEOPS_APP_PORT"
	EnvLogLevel = "LIVEOPS_LOG_LEVEL"

	EnvDBDSN  = "LIVEOPS_DB_DSN"
	EnvDBHost = "LIVEOPS_DB_HOST"
	EnvDBUser = "LIVEOPS_DB_USER"
	EnvDBName = "LIVEOPS_DB_NAME"

	EnvRedisURL = "LIVEOPS_REDIS_URL"

	EnvGCPProjectID = "LIVEOPS_GCP_PROJECT_ID"

	EnvChangeFeedDriver       = "LIVEOPS_CHANGEFEED_DRIVER"
	EnvChangeFeedReconnectMin = "LIVEOPS_CHANGEFEED_RECONNECT_MIN_DELAY"
	EnvChangeFeedReconnectMax = "LIVEOPS_CHANGEFEED_RECONNECT_MAX_DELAY"

	EnvNotificationsCapacity = "LIVEOPS_NOTIFICATIONS_CAPACITY"
	EnvFanoutQueueSize       = "LIVEOPS_FANOUT_QUEUE_SIZE"
	EnvPubSubOrdersTopic     = "LIVEOPS_PUBSUB_ORDERS_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
