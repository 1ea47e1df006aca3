package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	c, err := Parse([]byte("remote:\n  url: http://store/api\n"))
	require.NoError(t, err)

	assert.Equal(t, "http", c.Remote.Backend)
	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, 200, c.Cache.MaxTiles)
	assert.Equal(t, 30*time.Second, c.Cache.FetchTimeout)
	assert.Equal(t, 5000, c.Window.Capacity)
	assert.Equal(t, 500, c.Window.BatchSize)
	assert.Equal(t, 500*time.Millisecond, c.Window.Debounce)
	assert.Equal(t, "chartfeed.file-updates", c.Kafka.Topics.FileUpdates)
	assert.False(t, c.Kafka.Enabled)
}

func TestParse_Overrides(t *testing.T) {
	c, err := Parse([]byte(`
remote:
  url: http://store/api
  backend: clickhouse
window:
  capacity: 1000
  batch_size: 100
  debounce: 250ms
`))
	require.NoError(t, err)
	assert.Equal(t, "clickhouse", c.Remote.Backend)
	assert.Equal(t, 1000, c.Window.Capacity)
	assert.Equal(t, 250*time.Millisecond, c.Window.Debounce)
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"missing url":     "remote:\n  backend: http\n",
		"bad backend":     "remote:\n  url: x\n  backend: grpc\n",
		"batch too large": "remote:\n  url: x\nwindow:\n  capacity: 10\n  batch_size: 20\n",
		"kafka brokers":   "remote:\n  url: x\nkafka:\n  enabled: true\n",
		"warm w/o redis":  "remote:\n  url: x\ncache:\n  warm:\n    enabled: true\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadWithEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("remote:\n  url: http://file/api\n"), 0o600))

	t.Setenv("CHARTFEED_REMOTE_URL", "http://env/api")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("REDIS_ADDR", "cache:6380")

	c, err := LoadWithEnv(path)
	require.NoError(t, err)
	assert.Equal(t, "http://env/api", c.Remote.URL)
	assert.True(t, c.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)

	host, port, err := c.RedisHostPort()
	require.NoError(t, err)
	assert.Equal(t, "cache", host)
	assert.Equal(t, 6380, port)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
