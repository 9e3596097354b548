package kafka

import (
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/require"
)

func TestSaramaConfigRequiresBrokers(t *testing.T) {
	_, _, err := saramaConfig(Config{})
	require.Error(t, err)
}

func TestSaramaConfigDefaultsToSHA512(t *testing.T) {
	conf, brokers, err := saramaConfig(Config{
		Brokers:  "localhost:9092,localhost:9093",
		UserName: "alice",
		Password: "secret",
	})
	require.NoError(t, err)
	require.Equal(t, []string{"localhost:9092", "localhost:9093"}, brokers)
	require.True(t, conf.Net.SASL.Enable)
	require.Equal(t, "alice", conf.Net.SASL.User)
	require.EqualValues(t, sarama.SASLTypeSCRAMSHA512, conf.Net.SASL.Mechanism)
}

func TestSaramaConfigRejectsUnknownAlgorithm(t *testing.T) {
	_, _, err := saramaConfig(Config{
		Brokers:   "localhost:9092",
		UserName:  "alice",
		Password:  "secret",
		Algorithm: "md5",
	})
	require.Error(t, err)
}

func TestSaramaConfigWithoutSASL(t *testing.T) {
	conf, _, err := saramaConfig(Config{Brokers: "localhost:9092"})
	require.NoError(t, err)
	require.False(t, conf.Net.SASL.Enable)
}
