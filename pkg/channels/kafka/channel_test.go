package kafka_test

import (
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/flowline/pkg/channels/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURL(t *testing.T) {
	t.Parallel()

	cfg, err := kafka.ParseURL("kafka://k1:9092,k2:9092", "flowline-jobs")
	require.NoError(t, err)
	assert.Equal(t, kafka.Config{Brokers: []string{"k1:9092", "k2:9092"}, ConsumerGroup: "flowline-jobs", ClientID: "flowline"}, cfg)

	cfg, err = kafka.ParseURL("kafka://k1:9092?group=billing&client_id=worker-7", "flowline-jobs")
	require.NoError(t, err)
	assert.Equal(t, "billing", cfg.ConsumerGroup)
	assert.Equal(t, "worker-7", cfg.ClientID)
}

func TestCreateChannel_RequiresBrokers(t *testing.T) {
	t.Parallel()

	_, _, err := kafka.CreateChannel(watermill.NopLogger{}, kafka.Config{ConsumerGroup: "flowline"})
	require.ErrorIs(t, err, kafka.ErrNoBrokers)

	cfg, err := kafka.ParseURL("kafka://", "flowline")
	require.NoError(t, err)

	_, _, err = kafka.CreateChannel(watermill.NopLogger{}, cfg)
	require.ErrorIs(t, err, kafka.ErrNoBrokers)
}
