package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCmd(configPath string) *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("config", configPath, "")
	return cmd
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultServerPort, cfg.Server.Port)
	assert.Equal(t, DefaultAgentMaxTurns, cfg.Agent.MaxTurns)
	assert.Equal(t, DefaultAgentDriverIterationLimit, cfg.Agent.DriverIterationLimit)
	assert.False(t, cfg.Memory.Enabled)
	assert.Len(t, cfg.Models.Registry, 3)
	assert.Empty(t, cfg.MCPServers)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9999
agent:
  max_turns: 3
mcp_servers:
  - name: calc
    command: python3
    args: ["calc_server.py"]
  - name: remote
    transport: streamable_http
    url: http://localhost:8000/mcp
    request_timeout: 45s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(newTestCmd(path))
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Agent.MaxTurns)

	require.Len(t, cfg.MCPServers, 2)
	assert.Equal(t, "stdio", cfg.MCPServers[0].Transport)
	assert.Equal(t, DefaultMCPRequestTimeout, cfg.MCPServers[0].RequestTimeout)
	assert.Equal(t, "streamable_http", cfg.MCPServers[1].Transport)
	assert.Equal(t, "45s", cfg.MCPServers[1].RequestTimeout)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("JEEVES_SERVER_PORT", "7070")
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestAPIKeyInjection(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	cfg, err := Load(nil)
	require.NoError(t, err)

	for _, m := range cfg.Models.Registry {
		if m.Provider == "openai" {
			assert.Equal(t, "sk-test", m.APIKey)
		}
	}
}

func TestDurationOrDefault(t *testing.T) {
	d, err := DurationOrDefault("5s", "10s")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, d)

	d, err = DurationOrDefault("", "10s")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, d)

	_, err = DurationOrDefault("not-a-duration", "10s")
	assert.Error(t, err)

	_, err = DurationOrDefault("", "")
	assert.Error(t, err)
}
