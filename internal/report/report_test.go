package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"firestige.xyz/v2xtrx/internal/core"
)

func testMessage() *Message {
	return &Message{
		Timestamp:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Interface:  "wave0",
		AID:        32,
		Result:     core.ResultOK,
		Content:    core.ContentSigned,
		PayloadLen: 40,
		Labels:     core.Labels{core.LabelSignerType: "digest", core.LabelAID: "32"},
	}
}

type mockReporter struct {
	mu      sync.Mutex
	msgs    []*Message
	fail    bool
	closed  bool
	blockOn chan struct{}
}

func (m *mockReporter) Name() string { return "mock" }

func (m *mockReporter) Report(_ context.Context, msg *Message) error {
	if m.blockOn != nil {
		<-m.blockOn
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("mock failure")
	}
	m.msgs = append(m.msgs, msg)
	return nil
}

func (m *mockReporter) Close(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func TestQueueDeliversAndDrains(t *testing.T) {
	ok := &mockReporter{}
	failing := &mockReporter{fail: true}
	q := NewQueue(16, ok, failing)

	for i := 0; i < 10; i++ {
		require.True(t, q.Enqueue(testMessage()))
	}
	require.NoError(t, q.Close())

	assert.Len(t, ok.msgs, 10)
	assert.True(t, ok.closed)
	assert.True(t, failing.closed)
	stats := q.Stats()
	assert.Equal(t, uint64(10), stats.Enqueued)
	assert.Equal(t, uint64(10), stats.Reported)
	assert.Equal(t, uint64(10), stats.Errors)

	assert.False(t, q.Enqueue(testMessage()), "closed queue drops")
	assert.NoError(t, q.Close())
}

func TestQueueDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	r := &mockReporter{blockOn: block}
	q := NewQueue(1, r)

	var dropped int
	for i := 0; i < 5; i++ {
		if !q.Enqueue(testMessage()) {
			dropped++
		}
	}
	assert.Positive(t, dropped)
	close(block)
	require.NoError(t, q.Close())
	assert.Equal(t, uint64(dropped), q.Stats().Dropped)
}

func TestQueueWithoutReporters(t *testing.T) {
	q := NewQueue(1)
	assert.True(t, q.Enqueue(testMessage()))
	assert.NoError(t, q.Close())
}

func TestConsoleText(t *testing.T) {
	var buf bytes.Buffer
	r, err := NewConsole(ConsoleOptions{}, &buf)
	require.NoError(t, err)
	require.NoError(t, r.Report(context.Background(), testMessage()))
	assert.Equal(t,
		"[12:00:00.000] wave0 aid=32 signed ok len=40 spdu.signer_type=digest wsmp.aid=32\n",
		buf.String())
}

func TestConsoleJSON(t *testing.T) {
	var buf bytes.Buffer
	r, err := New(Config{Type: TypeConsole, Options: map[string]any{"format": "json"}}, &buf)
	require.NoError(t, err)
	require.NoError(t, r.Report(context.Background(), testMessage()))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "ok", got["result"])
	assert.Equal(t, float64(32), got["aid"])
	assert.Equal(t, "digest", got["labels"].(map[string]any)[core.LabelSignerType])

	_, err = NewConsole(ConsoleOptions{Format: "xml"}, nil)
	assert.Error(t, err)
}

type mockWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (w *mockWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *mockWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaEncoding(t *testing.T) {
	for _, encoding := range []string{"json", "proto"} {
		t.Run(encoding, func(t *testing.T) {
			opts := defaultKafkaOptions()
			opts.Encoding = encoding
			w := &mockWriter{}
			r := &KafkaReporter{opts: opts, writer: w}

			require.NoError(t, r.Report(context.Background(), testMessage()))
			require.NoError(t, r.Close(context.Background()))
			require.Len(t, w.msgs, 1)
			assert.True(t, w.closed)

			km := w.msgs[0]
			assert.Equal(t, []byte("32"), km.Key)
			assert.Len(t, km.Headers, 2)

			var fields map[string]any
			if encoding == "json" {
				require.NoError(t, json.Unmarshal(km.Value, &fields))
			} else {
				var s structpb.Struct
				require.NoError(t, proto.Unmarshal(km.Value, &s))
				fields = s.AsMap()
			}
			assert.Equal(t, "signed", fields["content"])
			assert.Equal(t, float64(40), fields["payload_len"])
		})
	}
}

func TestKafkaValidation(t *testing.T) {
	_, err := New(Config{Type: TypeKafka, Options: map[string]any{"topic": "v2x"}}, nil)
	assert.Error(t, err)

	_, err = New(Config{Type: TypeKafka, Options: map[string]any{
		"brokers": []any{"localhost:9092"}, "topic": "v2x", "encoding": "avro",
	}}, nil)
	assert.Error(t, err)

	_, err = New(Config{Type: TypeKafka, Options: map[string]any{
		"brokers": []any{"localhost:9092"}, "topic": "v2x", "compression": "zstd-ish",
	}}, nil)
	assert.Error(t, err)

	r, err := New(Config{Type: TypeKafka, Options: map[string]any{
		"brokers": []any{"localhost:9092"}, "topic": "v2x", "batch_timeout": "250ms",
	}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, r.(*KafkaReporter).opts.BatchTimeout)
	require.NoError(t, r.Close(context.Background()))

	_, err = New(Config{Type: "smoke-signal"}, nil)
	assert.Error(t, err)
}
