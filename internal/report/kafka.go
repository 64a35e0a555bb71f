package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	TypeKafka = "kafka"

	defaultBatchSize    = 100
	defaultBatchTimeout = 100 * time.Millisecond
	defaultCompression  = "snappy"
	defaultMaxAttempts  = 3
)

// KafkaOptions configures the Kafka reporter.
type KafkaOptions struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	Compression  string        `mapstructure:"compression"` // none|gzip|snappy|lz4
	MaxAttempts  int           `mapstructure:"max_attempts"`
	// Encoding of message values: json, or proto for a
	// google.protobuf.Struct.
	Encoding string `mapstructure:"encoding"`
}

func defaultKafkaOptions() KafkaOptions {
	return KafkaOptions{
		BatchSize:    defaultBatchSize,
		BatchTimeout: defaultBatchTimeout,
		Compression:  defaultCompression,
		MaxAttempts:  defaultMaxAttempts,
		Encoding:     "json",
	}
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaReporter publishes messages to a Kafka topic keyed by AID.
type KafkaReporter struct {
	opts   KafkaOptions
	writer messageWriter

	reportedCount atomic.Uint64
	errorCount    atomic.Uint64
}

// NewKafka validates opts and creates the writer.
func NewKafka(opts KafkaOptions) (*KafkaReporter, error) {
	if len(opts.Brokers) == 0 {
		return nil, fmt.Errorf("brokers is required")
	}
	if opts.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	switch opts.Encoding {
	case "json", "proto":
	default:
		return nil, fmt.Errorf("invalid encoding %q, must be json or proto", opts.Encoding)
	}

	wc := kafka.WriterConfig{
		Brokers:      opts.Brokers,
		Topic:        opts.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    opts.BatchSize,
		BatchTimeout: opts.BatchTimeout,
		MaxAttempts:  opts.MaxAttempts,
	}
	switch opts.Compression {
	case "none", "":
	case "gzip":
		wc.CompressionCodec = compress.Gzip.Codec()
	case "snappy":
		wc.CompressionCodec = compress.Snappy.Codec()
	case "lz4":
		wc.CompressionCodec = compress.Lz4.Codec()
	default:
		return nil, fmt.Errorf("invalid compression type: %s", opts.Compression)
	}

	slog.Info("kafka reporter started",
		"brokers", opts.Brokers, "topic", opts.Topic, "encoding", opts.Encoding,
		"batch_size", opts.BatchSize, "batch_timeout", opts.BatchTimeout, "compression", opts.Compression)
	return &KafkaReporter{opts: opts, writer: kafka.NewWriter(wc)}, nil
}

func (r *KafkaReporter) Name() string { return TypeKafka }

func (r *KafkaReporter) Report(ctx context.Context, msg *Message) error {
	if msg == nil {
		return fmt.Errorf("nil message")
	}
	value, err := r.encode(msg)
	if err != nil {
		r.errorCount.Add(1)
		return fmt.Errorf("serialize message failed: %w", err)
	}

	km := kafka.Message{
		Key:   []byte(strconv.FormatUint(uint64(msg.AID), 10)),
		Value: value,
		Time:  msg.Timestamp,
	}
	if len(msg.Labels) > 0 {
		km.Headers = make([]kafka.Header, 0, len(msg.Labels))
		for k, v := range msg.Labels {
			km.Headers = append(km.Headers, kafka.Header{Key: k, Value: []byte(v)})
		}
	}

	if err := r.writer.WriteMessages(ctx, km); err != nil {
		r.errorCount.Add(1)
		return fmt.Errorf("kafka write failed: %w", err)
	}
	r.reportedCount.Add(1)
	return nil
}

func (r *KafkaReporter) encode(msg *Message) ([]byte, error) {
	if r.opts.Encoding == "proto" {
		s, err := structpb.NewStruct(msg.Fields())
		if err != nil {
			return nil, err
		}
		return proto.Marshal(s)
	}
	return json.Marshal(msg.Fields())
}

// Close flushes pending batches.
func (r *KafkaReporter) Close(context.Context) error {
	err := r.writer.Close()
	if err != nil {
		slog.Error("error closing kafka writer", "error", err)
	}
	slog.Info("kafka reporter stopped",
		"total_reported", r.reportedCount.Load(), "total_errors", r.errorCount.Load())
	return err
}
