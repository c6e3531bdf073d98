package stream

import (
	"context"

	"github.com/segmentio/kafka-go"

	"amlwatch/internal/config"
)

// KafkaSource consumes JSON transaction events from a topic. Broker
// authentication is configured on the cluster, so the session token is not
// forwarded.
type KafkaSource struct {
	cfg config.KafkaConfig
}

func NewKafkaSource(cfg config.KafkaConfig) *KafkaSource {
	return &KafkaSource{cfg: cfg}
}

func (s *KafkaSource) Connect(ctx context.Context, _ string) (FrameReader, error) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  s.cfg.Brokers,
		Topic:    s.cfg.Topic,
		GroupID:  s.cfg.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	return &kafkaFrames{reader: reader}, nil
}

type kafkaFrames struct {
	reader *kafka.Reader
}

func (f *kafkaFrames) Next(ctx context.Context) ([]byte, error) {
	m, err := f.reader.ReadMessage(ctx)
	if err != nil {
		return nil, err
	}
	return m.Value, nil
}

func (f *kafkaFrames) Close() error {
	return f.reader.Close()
}
