package config

import (
	"fmt"
	"path/filepath"
	"strings"

	internal "github.com/vfskit/sandboxfs/sbfs"

	"github.com/spf13/viper"
)

// Config stores all configuration of the library.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Sandbox SandboxConfig `mapstructure:"sandbox"`
}

// RegistryConfig stores registry database connection details.
type RegistryConfig struct {
	DSN string `mapstructure:"dsn"`
}

// SandboxConfig stores sandbox provisioning and enumeration settings.
type SandboxConfig struct {
	BaseDir         string         `mapstructure:"baseDir"`
	Registry        RegistryConfig `mapstructure:"registry"`
	TemporaryQuota  int64          `mapstructure:"temporaryQuota"`
	PersistentQuota int64          `mapstructure:"persistentQuota"`
	ReaderBatchSize int            `mapstructure:"readerBatchSize"`
	WorkerCount     int            `mapstructure:"workerCount"`
	IgnorePatterns  []string       `mapstructure:"ignorePatterns"`
}

var AppConfig Config

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("..")
		viper.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		viper.AddConfigPath(internal.DefaultConfigPath)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	// Set default values
	viper.SetDefault("sandbox.baseDir", internal.DefaultSandboxBaseDir)
	viper.SetDefault("sandbox.registry.dsn", internal.DefaultRegistryDSN)
	viper.SetDefault("sandbox.temporaryQuota", internal.DefaultTemporaryQuota)
	viper.SetDefault("sandbox.persistentQuota", internal.DefaultPersistentQuota)
	viper.SetDefault("sandbox.readerBatchSize", internal.DefaultReaderBatchSize)
	viper.SetDefault("sandbox.workerCount", internal.DefaultWorkerCount)

	viper.AutomaticEnv()                                   // Read in environment variables that match
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // e.g. sandbox.registry.dsn becomes SANDBOX_REGISTRY_DSN

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; defaults will be used.
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	return &AppConfig, nil
}
