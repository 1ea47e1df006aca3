package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type panicHandler struct{}

func (panicHandler) Topic() string                        { return "t" }
func (panicHandler) Handle(context.Context, []byte) error { panic("bad payload") }

type errHandler struct{ err error }

func (h errHandler) Topic() string                        { return "t" }
func (h errHandler) Handle(context.Context, []byte) error { return h.err }

func TestSafeHandleRecoversPanic(t *testing.T) {
	err := safeHandle(panicHandler{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad payload")

	want := errors.New("nope")
	assert.Same(t, want, safeHandle(errHandler{err: want}, nil))
}

func TestBackoffWithJitterBounds(t *testing.T) {
	for attempt := 1; attempt <= 10; attempt++ {
		d := backoffWithJitter(100*time.Millisecond, time.Second, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Second)
	}
	assert.LessOrEqual(t, backoffWithJitter(100*time.Millisecond, time.Second, 1), 100*time.Millisecond)
}

func TestNewConsumerRequiresBrokers(t *testing.T) {
	_, err := NewConsumer(nil)
	assert.Error(t, err)

	c, err := NewConsumer(nil, WithConsumerBrokers([]string{"localhost:9092"}), WithConsumerWorkers(2))
	require.NoError(t, err)
	assert.Equal(t, 2, c.cfg.WorkerCount)
	assert.Error(t, c.Start())
}

func TestNewProducerRequiresBrokers(t *testing.T) {
	_, err := NewProducer()
	assert.Error(t, err)

	p, err := NewProducer(WithBrokers([]string{"localhost:9092"}), WithCompression("zstd"))
	require.NoError(t, err)
	require.NoError(t, p.Close())
}
