package consumer

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/gosight/pagelab/internal/config"
)

// MessageProcessor interface for processing messages
type MessageProcessor interface {
	Process(ctx context.Context, event map[string]interface{}) error
	Flush()
}

// KafkaConsumer consumes page view and conversion messages from Kafka
type KafkaConsumer struct {
	reader    *kafka.Reader
	processor MessageProcessor
}

// NewKafkaConsumer creates a group reader over both event topics
func NewKafkaConsumer(cfg config.KafkaConfig, processor MessageProcessor) (*KafkaConsumer, error) {
	topics := []string{cfg.Topics[config.TopicPageViews], cfg.Topics[config.TopicConversions]}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.ConsumerGroup,
		GroupTopics:    topics,
		MinBytes:       1e3,  // 1KB
		MaxBytes:       10e6, // 10MB
		CommitInterval: 1000,
		StartOffset:    kafka.LastOffset,
	})

	return &KafkaConsumer{
		reader:    reader,
		processor: processor,
	}, nil
}

// Start begins consuming messages
func (c *KafkaConsumer) Start(ctx context.Context) {
	log.Info().
		Strs("topics", c.reader.Config().GroupTopics).
		Str("group", c.reader.Config().GroupID).
		Msg("Starting Kafka consumer")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Kafka consumer stopped")
			return
		default:
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Error().Err(err).Msg("Failed to fetch message")
				continue
			}

			c.handle(ctx, msg.Value)

			// Commit
			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				log.Error().Err(err).Msg("Failed to commit message")
			}
		}
	}
}

// handle decodes and processes one message. Undecodable messages are logged
// and dropped so the partition keeps moving.
func (c *KafkaConsumer) handle(ctx context.Context, value []byte) {
	var event map[string]interface{}
	if err := json.Unmarshal(value, &event); err != nil {
		log.Error().
			Err(err).
			Str("value", string(value)).
			Msg("Failed to parse message")
		return
	}

	if err := c.processor.Process(ctx, event); err != nil {
		log.Error().
			Err(err).
			Interface("event", event).
			Msg("Failed to process event")
	}
}

// Close closes the consumer
func (c *KafkaConsumer) Close() error {
	log.Info().Msg("Closing Kafka consumer")
	// Flush remaining events before closing
	c.processor.Flush()
	return c.reader.Close()
}
