package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

const TypeConsole = "console"

// ConsoleOptions configures the console reporter.
type ConsoleOptions struct {
	Format string `mapstructure:"format"` // json or text
}

// ConsoleReporter prints messages for debugging.
type ConsoleReporter struct {
	format string
	mu     sync.Mutex
	out    io.Writer

	reportedCount atomic.Uint64
}

// NewConsole creates a console reporter writing to out, or stdout when nil.
func NewConsole(opts ConsoleOptions, out io.Writer) (*ConsoleReporter, error) {
	switch opts.Format {
	case "":
		opts.Format = "text"
	case "json", "text":
	default:
		return nil, fmt.Errorf("invalid format %q, must be json or text", opts.Format)
	}
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleReporter{format: opts.Format, out: out}, nil
}

func (r *ConsoleReporter) Name() string { return TypeConsole }

func (r *ConsoleReporter) Report(_ context.Context, msg *Message) error {
	if msg == nil {
		return fmt.Errorf("nil message")
	}
	var line string
	if r.format == "json" {
		data, err := json.Marshal(msg.Fields())
		if err != nil {
			return fmt.Errorf("json marshal failed: %w", err)
		}
		line = string(data)
	} else {
		line = formatText(msg)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := fmt.Fprintln(r.out, line); err != nil {
		return err
	}
	r.reportedCount.Add(1)
	return nil
}

func formatText(msg *Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s aid=%d %s %s len=%d",
		msg.Timestamp.Format("15:04:05.000"), msg.Interface,
		msg.AID, msg.Content, msg.Result, msg.PayloadLen)
	keys := make([]string, 0, len(msg.Labels))
	for k := range msg.Labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%s", k, msg.Labels[k])
	}
	return b.String()
}

func (r *ConsoleReporter) Close(context.Context) error {
	slog.Info("console reporter stopped", "total_reported", r.reportedCount.Load())
	return nil
}
