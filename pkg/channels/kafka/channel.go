// Package kafka builds the watermill Kafka publisher and subscriber that carry task jobs between processes.
package kafka

import (
	"errors"
	"net/url"
	"strings"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
)

var ErrNoBrokers = errors.New("at least one kafka broker is required")

// Config selects the brokers and the consumer group. Workers sharing a group split the job topic partitions.
type Config struct {
	Brokers       []string
	ConsumerGroup string
	ClientID      string
}

// ParseURL reads kafka://host1:9092,host2:9092?group=name&client_id=id. The group defaults to fallbackGroup.
func ParseURL(raw, fallbackGroup string) (Config, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{ConsumerGroup: fallbackGroup, ClientID: "flowline"}

	for _, broker := range strings.Split(u.Host, ",") {
		if broker != "" {
			cfg.Brokers = append(cfg.Brokers, broker)
		}
	}

	if group := u.Query().Get("group"); group != "" {
		cfg.ConsumerGroup = group
	}

	if id := u.Query().Get("client_id"); id != "" {
		cfg.ClientID = id
	}

	return cfg, nil
}

// CreateChannel connects the publisher and the subscriber. Jobs are read from the oldest offset so a new
// consumer group does not skip jobs enqueued before the first worker started.
func CreateChannel(logger watermill.LoggerAdapter, cfg Config) (*kafka.Publisher, *kafka.Subscriber, error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil, ErrNoBrokers
	}

	subscriberConfig := kafka.DefaultSaramaSubscriberConfig()
	subscriberConfig.ClientID = cfg.ClientID
	subscriberConfig.Consumer.Offsets.Initial = sarama.OffsetOldest

	subscriber, err := kafka.NewSubscriber(
		kafka.SubscriberConfig{
			Brokers:               cfg.Brokers,
			Unmarshaler:           kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: subscriberConfig,
			ConsumerGroup:         cfg.ConsumerGroup,
			OTELEnabled:           true,
		},
		logger,
	)
	if err != nil {
		return nil, nil, err
	}

	publisherConfig := kafka.DefaultSaramaSyncPublisherConfig()
	publisherConfig.ClientID = cfg.ClientID
	publisherConfig.Producer.RequiredAcks = sarama.WaitForAll

	publisher, err := kafka.NewPublisher(
		kafka.PublisherConfig{
			Brokers:               cfg.Brokers,
			Marshaler:             kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: publisherConfig,
			OTELEnabled:           true,
		},
		logger,
	)
	if err != nil {
		_ = subscriber.Close()

		return nil, nil, err
	}

	return publisher, subscriber, nil
}
