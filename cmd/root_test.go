package cmd

import (
	"bytes"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootRegistersSubcommands(t *testing.T) {
	expected := []string{
		"worker", "maintenance", "validate", "stats",
		"enqueue", "queue-config", "watch", "migrate", "version",
	}

	registered := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		registered[cmd.Name()] = true
	}
	for _, name := range expected {
		assert.True(t, registered[name], "command %q not registered", name)
	}
}

func TestSetDefaultsCoverEveryConfigSection(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	assert.Equal(t, 3, v.GetInt("worker.count"))
	assert.Equal(t, "15s", v.GetString("worker.heartbeat_interval"))
	assert.Equal(t, 5432, v.GetInt("database.port"))
	assert.Equal(t, "receiptqueue", v.GetString("database.name"))
	assert.Equal(t, "nats://localhost:4222", v.GetString("nats.url"))
	assert.Equal(t, 3, v.GetInt("queue.max_attempts"))
	assert.Equal(t, "1m", v.GetString("maintenance.sweep_interval"))
	assert.Equal(t, "json", v.GetString("log.format"))
}

func TestVersionCommandShortOutput(t *testing.T) {
	cmd := newVersionCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--short"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "dev\n", out.String())
}
