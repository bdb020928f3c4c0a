package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "ALERTD"

// Flags declares the command-line overrides understood by Load.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("alertd", pflag.ContinueOnError)
	fs.String("config", "", "path to a config file (default ./config.yaml)")
	fs.String("addr", "", "listen address, overrides server.address")
	fs.String("log-level", "", "log level: debug, info, warn or error")
	fs.String("database-url", "", "postgres connection URL, overrides database.url")
	return fs
}

// Load reads configuration from .env, a file, environment variables and
// flags (in increasing precedence), then compiles the recipient policy.
func Load(logger *slog.Logger, flags *pflag.FlagSet, provider SelectorProvider) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	// config file details
	configFile := ""
	if flags != nil {
		configFile, _ = flags.GetString("config")
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// environment variables: ALERTD_SERVER_ADDRESS etc.
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for key, flag := range map[string]string{
			"server.address": "addr",
			"log.level":      "log-level",
			"database.url":   "database-url",
		} {
			if f := flags.Lookup(flag); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, err
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configFile != "" {
			// Config file was found but another error was produced
			return nil, err
		}
		logger.Warn("Config file not found. ignoring error and relying on defaults/env vars")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := finalize(&cfg, provider); err != nil {
		return nil, err
	}
	logger.Info("Configuration loaded",
		slog.String("address", cfg.Server.Address),
		slog.Int("recipientSteps", len(cfg.Alerts.Policy)),
		slog.Bool("database", cfg.Database.URL != ""),
	)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.shutdownTimeout", "10s")
	v.SetDefault("server.handshakeLimit.rate", 5)
	v.SetDefault("server.handshakeLimit.burst", 10)
	v.SetDefault("auth.lookupTimeout", "5s")
	v.SetDefault("transport.readTimeout", "0s")
	v.SetDefault("transport.writeTimeout", "5s")
	v.SetDefault("transport.pingInterval", "30s")
	v.SetDefault("transport.sendBuffer", 256)
	v.SetDefault("transport.readLimit", 64*1024)
	v.SetDefault("database.maxConns", 4)
	v.SetDefault("alerts.areaField", "fokontany_id")
	v.SetDefault("alerts.sendTimeout", "3s")
	v.SetDefault("alerts.directoryTimeout", "3s")
	v.SetDefault("alerts.concurrency", 16)
	v.SetDefault("relay.sendTimeout", "3s")
	v.SetDefault("relay.rateLimit", 20)
	v.SetDefault("relay.burst", 40)
	v.SetDefault("notify.smtp.port", 587)
	v.SetDefault("notify.timeout", "30s")
	v.SetDefault("notify.alertRoles", []string{"LOCAL_AUTHORITY", "URBAN_SECURITY"})
}

// finalize validates the decoded config and compiles derived parts.
func finalize(cfg *Config, provider SelectorProvider) error {
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwtSecret must be set")
	}
	if err := RegisterRoles(cfg.Roles); err != nil {
		return err
	}
	if _, err := CompileRoles(cfg.Notify.AlertRoles); err != nil {
		return fmt.Errorf("notify.alertRoles: %w", err)
	}
	for i, u := range cfg.Directory.Users {
		if u.ID == "" || u.Email == "" {
			return fmt.Errorf("directory.users[%d]: id and email are required", i)
		}
	}
	return CompileRecipientPolicy(cfg, provider)
}
