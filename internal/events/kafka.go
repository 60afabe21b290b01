package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

var ErrQueueFull = errors.New("event queue is full")

// MessageWriter is the subset of *kafka.Writer the forwarder uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// NewKafkaWriter builds a synchronous writer that partitions by message key.
func NewKafkaWriter(cfg KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		MaxAttempts:            5,
		ReadTimeout:            10 * time.Second,
		WriteTimeout:           10 * time.Second,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

// Forwarder relays bus events to Kafka from a background goroutine
// so publishers never wait on the broker.
type Forwarder struct {
	writer  MessageWriter
	queue   chan Event
	timeout time.Duration
	logger  zerolog.Logger
}

func NewForwarder(writer MessageWriter, buffer int, logger zerolog.Logger) *Forwarder {
	if buffer <= 0 {
		buffer = 256
	}
	return &Forwarder{
		writer:  writer,
		queue:   make(chan Event, buffer),
		timeout: 10 * time.Second,
		logger:  logger.With().Str("component", "kafka_forwarder").Logger(),
	}
}

// Handle enqueues an event. It is meant to be subscribed to AllEvents.
func (f *Forwarder) Handle(ev Event) error {
	select {
	case f.queue <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run writes queued events until ctx is cancelled, then flushes what is left and closes the writer.
func (f *Forwarder) Run(ctx context.Context) {
	defer func() {
		if err := f.writer.Close(); err != nil {
			f.logger.Warn().Err(err).Msg("close kafka writer")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			f.drain()
			return
		case ev := <-f.queue:
			f.write(context.Background(), ev)
		}
	}
}

func (f *Forwarder) drain() {
	for {
		select {
		case ev := <-f.queue:
			f.write(context.Background(), ev)
		default:
			return
		}
	}
}

func (f *Forwarder) write(ctx context.Context, ev Event) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	msg, err := toMessage(ev)
	if err != nil {
		f.logger.Error().Err(err).Str("event_id", ev.ID).Msg("encode event")
		return
	}
	if err := f.writer.WriteMessages(ctx, msg); err != nil {
		f.logger.Error().Err(err).Str("event", ev.Type).Str("event_id", ev.ID).Msg("write event to kafka")
		return
	}
	f.logger.Debug().Str("event", ev.Type).Str("event_id", ev.ID).Msg("event forwarded")
}

func toMessage(ev Event) (kafka.Message, error) {
	value, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal event: %w", err)
	}
	key := ev.Key
	if key == "" {
		key = ev.ID
	}
	return kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  ev.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
		},
	}, nil
}
