package di

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internalrepo "ChartFeed/internal/repository"
	"ChartFeed/internal/service/remote"
	"ChartFeed/pkg/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte("remote:\n  url: http://store/api\n"))
	require.NoError(t, err)
	return cfg
}

func TestOptionalInfrastructureIsNilWhenDisabled(t *testing.T) {
	cfg := testConfig(t)

	ch, err := ProvideClickHouseClient(cfg)
	require.NoError(t, err)
	assert.Nil(t, ch)

	redis, err := ProvideRedisStore(cfg)
	require.NoError(t, err)
	assert.Nil(t, redis)

	producer, err := ProvideKafkaProducer(cfg)
	require.NoError(t, err)
	assert.Nil(t, producer)
	assert.IsType(t, internalrepo.NopEventPublisher{}, ProvideEventPublisher(cfg, producer))

	consumer, err := ProvideKafkaConsumer(cfg, nil)
	require.NoError(t, err)
	assert.Nil(t, consumer)
}

func TestProvideCandlePager_DefaultsToRemote(t *testing.T) {
	cfg := testConfig(t)
	c := ProvideRemoteClient(cfg)
	assert.IsType(t, &remote.Client{}, ProvideCandlePager(cfg, c, nil, nil))
}

func TestInitializeApp_HTTPBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Logger.Output = "stderr"

	app, err := InitializeApp(cfg)
	require.NoError(t, err)
	assert.NotNil(t, app)
}
