package config

import (
	"github.com/blockvault/walletd/internal/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// LoadConfigs loads walletd.toml (if present), layers in environment
// variables, and sets every package-level var in this package. Missing
// config file is not fatal — every value has a built-in default.
func LoadConfigs(pathToConfig string) {
	viper.SetConfigFile(pathToConfig)

	if err := viper.ReadInConfig(); err != nil {
		logging.L.Warn().Err(err).Msg("no config file detected, using defaults")
	}

	viper.SetDefault("http_host", HTTPHost)
	viper.SetDefault("grpc_host", GRPCHost)
	viper.SetDefault("chain", "main")
	viper.SetDefault("db_type", string(DBTypeBare))
	viper.SetDefault("prune_type", string(PruneTypeNone))
	viper.SetDefault("block_files_dir", "")
	viper.SetDefault("max_cpu_cores", MaxCPUCores)
	viper.SetDefault("update_bytes_thresh", UpdateBytesThresh)
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_path", "")
	viper.SetDefault("log_to_console", true)

	viper.AutomaticEnv()
	viper.BindEnv("http_host", "HTTP_HOST")
	viper.BindEnv("grpc_host", "GRPC_HOST")
	viper.BindEnv("chain", "CHAIN")
	viper.BindEnv("db_type", "DB_TYPE")
	viper.BindEnv("prune_type", "PRUNE_TYPE")
	viper.BindEnv("block_files_dir", "BLOCK_FILES_DIR")
	viper.BindEnv("max_cpu_cores", "MAX_CPU_CORES")
	viper.BindEnv("update_bytes_thresh", "UPDATE_BYTES_THRESH")
	viper.BindEnv("log_level", "LOG_LEVEL")

	HTTPHost = viper.GetString("http_host")
	GRPCHost = viper.GetString("grpc_host")
	LogLevel = viper.GetString("log_level")
	LogsPath = viper.GetString("log_path")
	LogToConsole = viper.GetBool("log_to_console")
	BlockFilesDir = viper.GetString("block_files_dir")
	MaxCPUCores = viper.GetInt("max_cpu_cores")
	UpdateBytesThresh = viper.GetInt("update_bytes_thresh")

	switch viper.GetString("chain") {
	case "main":
		Chain = Mainnet
	case "test":
		Chain = Testnet
	default:
		logging.L.Fatal().Msg("chain undefined")
		return
	}

	switch DBType(viper.GetString("db_type")) {
	case DBTypeBare, DBTypeSuper:
		DB = DBType(viper.GetString("db_type"))
	default:
		logging.L.Fatal().Msg("db_type must be BARE or SUPER")
		return
	}

	switch PruneType(viper.GetString("prune_type")) {
	case PruneTypeNone:
		Prune = PruneTypeNone
	default:
		logging.L.Fatal().Msg("prune_type must be NONE")
		return
	}

	switch LogLevel {
	case "trace":
		logging.SetLogLevel(zerolog.TraceLevel)
	case "debug":
		logging.SetLogLevel(zerolog.DebugLevel)
	case "info":
		logging.SetLogLevel(zerolog.InfoLevel)
	case "warn":
		logging.SetLogLevel(zerolog.WarnLevel)
	case "error":
		logging.SetLogLevel(zerolog.ErrorLevel)
	}

	logging.L.Info().
		Str("chain", ChainToString()).
		Str("db_type", string(DB)).
		Str("prune_type", string(Prune)).
		Msg("configuration loaded")
}
