package config

import (
	"os"
	"testing"

	internal "github.com/vfskit/sandboxfs/sbfs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// ConfigTestSuite tests the config package functionality
type ConfigTestSuite struct {
	suite.Suite
	tempDir string
	origDir string
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func (suite *ConfigTestSuite) SetupTest() {
	// Save original directory
	var err error
	suite.origDir, err = os.Getwd()
	require.NoError(suite.T(), err)

	// Create temporary directory for testing
	tempDir, err := os.MkdirTemp("", "sandboxfs-config-test-*")
	require.NoError(suite.T(), err)
	suite.tempDir = tempDir

	// Change to temp directory
	err = os.Chdir(tempDir)
	require.NoError(suite.T(), err)
}

func (suite *ConfigTestSuite) TearDownTest() {
	// Change back to original directory
	if suite.origDir != "" {
		os.Chdir(suite.origDir)
	}

	// Clean up temporary directory
	if suite.tempDir != "" {
		os.RemoveAll(suite.tempDir)
	}
}

func (suite *ConfigTestSuite) TestLoadConfigWithDefaults() {
	// Load config without config file (should use defaults)
	cfg, err := LoadConfig("")

	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), cfg)

	// Test default values
	assert.Equal(suite.T(), internal.DefaultSandboxBaseDir, cfg.Sandbox.BaseDir)
	assert.Equal(suite.T(), internal.DefaultRegistryDSN, cfg.Sandbox.Registry.DSN)
	assert.Equal(suite.T(), internal.DefaultTemporaryQuota, cfg.Sandbox.TemporaryQuota)
	assert.Equal(suite.T(), internal.DefaultPersistentQuota, cfg.Sandbox.PersistentQuota)
	assert.Equal(suite.T(), internal.DefaultReaderBatchSize, cfg.Sandbox.ReaderBatchSize)
	assert.Equal(suite.T(), internal.DefaultWorkerCount, cfg.Sandbox.WorkerCount)
}

func (suite *ConfigTestSuite) TestLoadConfigWithFile() {
	// Create a test config file
	configContent := `
sandbox:
  baseDir: "./test-sandboxes"
  registry:
    dsn: "file:test-registry.db"
  temporaryQuota: 1048576
  readerBatchSize: 25
  workerCount: 2
  ignorePatterns:
    - "*.tmp"
    - ".DS_Store"
`

	configFile := "config.yaml"
	err := os.WriteFile(configFile, []byte(configContent), 0o644)
	require.NoError(suite.T(), err)

	cfg, err := LoadConfig(configFile)
	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), cfg)

	assert.Equal(suite.T(), "./test-sandboxes", cfg.Sandbox.BaseDir)
	assert.Equal(suite.T(), "file:test-registry.db", cfg.Sandbox.Registry.DSN)
	assert.Equal(suite.T(), int64(1048576), cfg.Sandbox.TemporaryQuota)
	assert.Equal(suite.T(), 25, cfg.Sandbox.ReaderBatchSize)
	assert.Equal(suite.T(), 2, cfg.Sandbox.WorkerCount)
	assert.Equal(suite.T(), []string{"*.tmp", ".DS_Store"}, cfg.Sandbox.IgnorePatterns)
}
