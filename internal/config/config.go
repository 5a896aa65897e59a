package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURL          string
	Factory         string
	Quoter          string
	SwapRouter      string
	LegacyRouter    string
	PositionManager string
	WrappedNative   string
	NativeSymbol    string
	TokenList       string
	PrivateKey      string

	CacheTTL         time.Duration
	SlippagePct      float64
	DefaultFee       uint32
	ExistBatchSize   int
	ExistBatchPause  time.Duration
	DetailBatchSize  int
	DetailBatchPause time.Duration
	MaxInflight      int64
	WaitTimeout      time.Duration

	Out      string
	PGDSN    string
	LogLevel string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DEXCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("native-symbol", "ETH")
	v.SetDefault("cache-ttl", 30*time.Second)
	v.SetDefault("slippage", 0.5)
	v.SetDefault("default-fee", uint32(3000))
	v.SetDefault("exist-batch-size", 50)
	v.SetDefault("exist-batch-pause", 200*time.Millisecond)
	v.SetDefault("detail-batch-size", 5)
	v.SetDefault("detail-batch-pause", time.Second)
	v.SetDefault("max-inflight", int64(16))
	v.SetDefault("wait-timeout", 120*time.Second)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		RPCURL:          v.GetString("rpc"),
		Factory:         v.GetString("factory"),
		Quoter:          v.GetString("quoter"),
		SwapRouter:      v.GetString("swap-router"),
		LegacyRouter:    v.GetString("legacy-router"),
		PositionManager: v.GetString("position-manager"),
		WrappedNative:   v.GetString("wrapped-native"),
		NativeSymbol:    v.GetString("native-symbol"),
		TokenList:       v.GetString("token-list"),
		PrivateKey:      v.GetString("private-key"),

		CacheTTL:         v.GetDuration("cache-ttl"),
		SlippagePct:      v.GetFloat64("slippage"),
		DefaultFee:       uint32(v.GetUint64("default-fee")),
		ExistBatchSize:   v.GetInt("exist-batch-size"),
		ExistBatchPause:  v.GetDuration("exist-batch-pause"),
		DetailBatchSize:  v.GetInt("detail-batch-size"),
		DetailBatchPause: v.GetDuration("detail-batch-pause"),
		MaxInflight:      v.GetInt64("max-inflight"),
		WaitTimeout:      v.GetDuration("wait-timeout"),

		Out:      v.GetString("out"),
		PGDSN:    v.GetString("pg-dsn"),
		LogLevel: v.GetString("log-level"),
	}

	return cfg, nil
}
