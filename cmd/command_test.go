package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runRoot(t *testing.T, in string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(in))
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		for name, def := range map[string]string{"env-file": ".env", "log-level": ""} {
			f := rootCmd.PersistentFlags().Lookup(name)
			_ = f.Value.Set(def)
			f.Changed = false
		}
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCommand_ListsTasks(t *testing.T) {
	out, err := runRoot(t, "", "command")
	require.NoError(t, err)
	assert.Contains(t, out, "available commands:")
	for _, name := range []string{"migrate", "migrate-down", "migrate-create"} {
		assert.Contains(t, out, name)
	}
	assert.Less(t, strings.Index(out, "migrate-create"), strings.Index(out, "migrate-down"))
}

func TestCommand_Unknown(t *testing.T) {
	_, err := runRoot(t, "", "command", "seed")
	assert.ErrorContains(t, err, `unknown command "seed"`)
	assert.ErrorContains(t, err, "migrate-create")
}

func TestCommand_MigrateCreateNeedsName(t *testing.T) {
	out, err := runRoot(t, "\n", "command", "migrate-create")
	assert.EqualError(t, err, "migration name required")
	assert.Contains(t, out, "Enter migration name:")
}

func TestRoot_MissingEnvFile(t *testing.T) {
	_, err := runRoot(t, "", "--env-file", "does-not-exist.env", "command")
	assert.ErrorContains(t, err, "does-not-exist.env")
}

func TestRoot_LogLevelFlag(t *testing.T) {
	t.Setenv("LOG_LEVEL", "info")
	_, err := runRoot(t, "", "--log-level", "debug", "command")
	require.NoError(t, err)

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
}
