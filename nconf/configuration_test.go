package nconf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func optionsCmd(t *testing.T, args ...string) *cobra.Command {
	cmd := WithOptionsFlag(&cobra.Command{Use: "test"})
	require.NoError(t, cmd.ParseFlags(args))
	return cmd
}

func TestLoadOptionsFromYAML(t *testing.T) {
	file := filepath.Join(t.TempDir(), "options.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
options:
  read_timeout: 500
  commit_async: false
  connection:
    group.id: billing
    security.protocol: ssl
  topic:
    acks: all
`), 0644))

	t.Setenv("MESSENGER_KAFKA_TEST_OPTIONS__READ_TIMEOUT", "750")

	opts, err := LoadOptions(optionsCmd(t, "--options", file), "messenger_kafka_test")
	require.NoError(t, err)

	assert.Equal(t, "750", opts["read_timeout"])
	assert.Equal(t, false, opts["commit_async"])
	assert.Equal(t, map[string]interface{}{
		"group.id":          "billing",
		"security.protocol": "ssl",
	}, opts["connection"])
	assert.Equal(t, map[string]interface{}{"acks": "all"}, opts["topic"])
}

func TestLoadOptionsWithoutFile(t *testing.T) {
	opts, err := LoadOptions(optionsCmd(t), "messenger_kafka_test")
	require.NoError(t, err)
	assert.Empty(t, opts)
}

func TestLoadOptionsFromEnvOnly(t *testing.T) {
	t.Setenv("MESSENGER_KAFKA_TEST_OPTIONS__READ_TIMEOUT", "250")
	t.Setenv("MESSENGER_KAFKA_TEST_OPTIONS__COMMIT_ASYNC", "false")

	opts, err := LoadOptions(optionsCmd(t), "messenger_kafka_test", "read_timeout", "commit_async", "write_retries")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"read_timeout": "250",
		"commit_async": "false",
	}, opts)
}

func TestLoadOptionsMissingFile(t *testing.T) {
	_, err := LoadOptions(optionsCmd(t, "--options", "does-not-exist.json"), "messenger_kafka_test")
	require.Error(t, err)
}
