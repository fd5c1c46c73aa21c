package internal

import (
	"log"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

var (
	// DefaultConfigPath is the default path to the config file
	DefaultAppName        = "sandboxfs"
	DefaultConfigPath     = filepath.Join(getHomeDir(), ".config", DefaultAppName)
	DefaultSandboxBaseDir = filepath.Join(DefaultConfigPath, "sandboxes")
	DefaultStagingDirName = ".staging"
	DefaultRegistryDBPath = filepath.Join(DefaultConfigPath, "registry.db")

	// Default registry database settings
	DefaultRegistryDSN    = "file::memory:?cache=shared" // Default to in-memory SQLite
	DefaultRegistryDriver = "libsql"

	// Default sandbox settings
	DefaultTemporaryQuota  = int64(50 * 1024 * 1024)
	DefaultPersistentQuota = int64(0) // 0 means unlimited
	DefaultReaderBatchSize = 100
	DefaultWorkerCount     = 4
)

func getHomeDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current working directory if home directory is unavailable
		cwd, cwdErr := os.Getwd()
		if cwdErr != nil {
			// Last resort - use tmp directory
			log.Printf("Unable to get home or working directory, using /tmp: %v", err)
			return "/tmp"
		}
		log.Printf("Unable to get home directory, using current working directory: %v", err)
		return cwd
	}
	return homeDir
}

// GetLogger returns a properly configured zerolog logger instance
func GetLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
