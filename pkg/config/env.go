package config

const (
	EnvPrefix = "LOADERESCROW"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"

	EncryptionKeyLength = 32
)

const (
	EnvAppEnv   = "LOADERESCROW_APP_ENV"
	EnvPort     = "LOADERESCROW_APP_PORT"
	EnvLogLevel = "LOADERESCROW_LOG_LEVEL"

	EnvDBDSN  = "LOADERESCROW_DB_DSN"
	EnvDBHost = "LOADERESCROW_DB_HOST"
	EnvDBUser = "LOADERESCROW_DB_USER"
	EnvDBName = "LOADERESCROW_DB_NAME"

	EnvRedisURL   = "LOADERESCROW_REDIS_URL"
	EnvJWTSecret  = "LOADERESCROW_JWT_SECRET"
	EnvJWTIssuer  = "LOADERESCROW_JWT_ISSUER"
	EnvJWTExpMins = "LOADERESCROW_JWT_EXPIRATION_MINUTES"

	EnvChainRPCURL        = "LOADERESCROW_CHAIN_RPC_URL"
	EnvMasterWalletAddr   = "LOADERESCROW_MASTER_WALLET_ADDRESS"
	EnvEncryptedMasterKey = "LOADERESCROW_ENCRYPTED_MASTER_WALLET_KEY"
	EnvMasterPrivateKey   = "LOADERESCROW_MASTER_WALLET_PRIVATE_KEY"
	EnvSweepWalletAddr    = "LOADERESCROW_SWEEP_WALLET_ADDRESS"
	EnvEncryptionKey      = "LOADERESCROW_ENCRYPTION_KEY"
	EnvMinGasReserve      = "LOADERESCROW_MIN_GAS_RESERVE"

	EnvPlatformFeeBps     = "LOADERESCROW_PLATFORM_FEE_BPS"
	EnvPlatformFeeOwnerID = "LOADERESCROW_PLATFORM_FEE_OWNER_ID"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
