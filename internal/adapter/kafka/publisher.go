package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/couchcryptid/incident-heat-etl/internal/config"
	"github.com/couchcryptid/incident-heat-etl/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Publisher produces heat points to a Kafka topic.
// It implements pipeline.HeatPublisher.
type Publisher struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewPublisher creates a Kafka producer for the configured heat topic.
func NewPublisher(cfg *config.Config, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaHeatTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Publisher{writer: w, logger: logger}
}

// PublishHeatPoints serializes and publishes heat points in a single
// WriteMessages call. Points are keyed by incident id so updates to one
// incident land on the same partition.
func (p *Publisher) PublishHeatPoints(ctx context.Context, points []domain.HeatPoint) error {
	if len(points) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(points))
	for i := range points {
		msg, err := serializeToMessage(points[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d heat points: %w", len(points), err)
	}
	p.logger.Debug("heat points published", "count", len(points), "topic", p.writer.Topic)
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// serializeToMessage marshals a HeatPoint into a Kafka message.
func serializeToMessage(point domain.HeatPoint) (kafkago.Message, error) {
	data, err := json.Marshal(point)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize heat point: %w", err)
	}
	headers := []kafkago.Header{
		{Key: "geocode_status", Value: []byte(point.Status)},
		{Key: "geocode_precision", Value: []byte(point.Precision)},
	}
	if point.GeocodedAt != nil {
		headers = append(headers, kafkago.Header{Key: "geocoded_at", Value: []byte(point.GeocodedAt.Format(time.RFC3339))})
	}
	return kafkago.Message{
		Key:     []byte(strconv.FormatInt(point.IncidentID, 10)),
		Value:   data,
		Headers: headers,
	}, nil
}
