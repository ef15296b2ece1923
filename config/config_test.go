package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "settlr.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestInitConfigDefaults(t *testing.T) {
	path := writeConfigFile(t, `{
		"data_source": {"dns": "postgres://localhost/settlr"},
		"redis": {"dns": "localhost:6379"},
		"settlement": {"endpoint": "https://rpc.devnet.example.com"}
	}`)

	require.NoError(t, InitConfig(path))

	cnf, err := Fetch()
	require.NoError(t, err)

	assert.Equal(t, "Settlr Server", cnf.ProjectName)
	assert.Equal(t, DEFAULT_PORT, cnf.Server.Port)
	assert.Equal(t, "new:payment", cnf.Queue.PaymentQueue)
	assert.Equal(t, 4, cnf.Queue.NumberOfQueues)
	assert.Equal(t, "devnet", cnf.Settlement.Network)
	assert.Equal(t, 8, cnf.Retry.MaxAttempts)
	assert.Equal(t, 500, cnf.Retry.BaseDelayMS)
	assert.Equal(t, 60000, cnf.Retry.MaxDelayMS)
	assert.Equal(t, "1000", cnf.Insight.SuspiciousThreshold)
}

func TestInitConfigMissingRequiredFields(t *testing.T) {
	path := writeConfigFile(t, `{"redis": {"dns": "localhost:6379"}}`)
	assert.Error(t, InitConfig(path))

	path = writeConfigFile(t, `{
		"data_source": {"dns": "postgres://localhost/settlr"},
		"redis": {"dns": "localhost:6379"}
	}`)
	assert.Error(t, InitConfig(path))
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("SETTLR_SERVER_PORT", "9050")
	t.Setenv("SETTLR_RETRY_MAX_ATTEMPTS", "3")

	path := writeConfigFile(t, `{
		"data_source": {"dns": "postgres://localhost/settlr"},
		"redis": {"dns": "localhost:6379"},
		"settlement": {"endpoint": "https://rpc.devnet.example.com"},
		"server": {"port": "5001"}
	}`)

	require.NoError(t, InitConfig(path))

	cnf, err := Fetch()
	require.NoError(t, err)
	assert.Equal(t, "9050", cnf.Server.Port)
	assert.Equal(t, 3, cnf.Retry.MaxAttempts)
}

func TestMockConfig(t *testing.T) {
	MockConfig(&Configuration{ProjectName: "test"})
	cnf, err := Fetch()
	require.NoError(t, err)
	assert.Equal(t, "test", cnf.ProjectName)
}
