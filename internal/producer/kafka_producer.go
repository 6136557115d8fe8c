package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/gosight/pagelab/internal/config"
	"github.com/gosight/pagelab/internal/enricher"
)

type KafkaProducer struct {
	writers map[string]*kafka.Writer
	topics  map[string]string
}

func NewKafkaProducer(cfg config.KafkaConfig) (*KafkaProducer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}

	writers := make(map[string]*kafka.Writer)

	for name, topic := range cfg.Topics {
		writers[name] = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchSize:    100,
			BatchTimeout: time.Millisecond * 100,
			Async:        true,
		}
	}

	return &KafkaProducer{
		writers: writers,
		topics:  cfg.Topics,
	}, nil
}

// ProducePageView publishes a page view keyed by page id.
func (p *KafkaProducer) ProducePageView(ctx context.Context, event *enricher.EnrichedEvent) error {
	return p.produce(ctx, config.TopicPageViews, event.PageID, event)
}

// ProduceConversion publishes a conversion keyed by test id.
func (p *KafkaProducer) ProduceConversion(ctx context.Context, event *enricher.EnrichedEvent) error {
	return p.produce(ctx, config.TopicConversions, event.TestID, event)
}

func (p *KafkaProducer) produce(ctx context.Context, name, key string, event interface{}) error {
	w, ok := p.writers[name]
	if !ok {
		return fmt.Errorf("kafka: no writer for %s", name)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: data,
	})
}

func (p *KafkaProducer) Close() error {
	for _, w := range p.writers {
		w.Close()
	}
	return nil
}
