package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/v2xtrx/internal/core"
)

const TypeReplay = "replay"

func init() {
	Register(TypeReplay, func(cfg Config) (Transport, error) {
		return NewReplay(cfg)
	})
}

// ReplayOptions configures pcap replay.
type ReplayOptions struct {
	File string `mapstructure:"file"`
	// Pace reproduces the capture's inter-frame gaps.
	Pace bool `mapstructure:"pace"`
	// Loop restarts from the beginning at end of file.
	Loop bool `mapstructure:"loop"`
}

// ReplayTransport feeds frames from a pcap file into the receive path.
// Transmitted frames are discarded.
type ReplayTransport struct {
	opts    ReplayOptions
	inbound InboundFunc

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// NewReplay creates a replay transport.
func NewReplay(cfg Config) (*ReplayTransport, error) {
	var opts ReplayOptions
	if err := decodeOptions(cfg.Options, &opts); err != nil {
		return nil, err
	}
	if opts.File == "" {
		return nil, fmt.Errorf("%w: replay requires options.file", core.ErrConfigInvalid)
	}
	return &ReplayTransport{opts: opts, done: make(chan struct{})}, nil
}

func (t *ReplayTransport) Name() string { return TypeReplay }

func (t *ReplayTransport) RegisterInbound(fn InboundFunc) { t.inbound = fn }

// Start opens the file and replays it in the background.
func (t *ReplayTransport) Start(ctx context.Context) error {
	f, err := os.Open(t.opts.File)
	if err != nil {
		return fmt.Errorf("replay transport: %w", err)
	}
	r, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("replay transport: %s: %w", t.opts.File, err)
	}
	if r.LinkType() != layers.LinkTypeEthernet {
		f.Close()
		return fmt.Errorf("%w: %s has link type %s", core.ErrUnexpectedFormat, t.opts.File, r.LinkType())
	}

	ctx, t.cancel = context.WithCancel(ctx)
	go t.run(ctx, f, r)
	slog.Info("replay transport started", "file", t.opts.File, "pace", t.opts.Pace, "loop", t.opts.Loop)
	return nil
}

func (t *ReplayTransport) run(ctx context.Context, f *os.File, r *pcapgo.Reader) {
	defer close(t.done)
	defer f.Close()

	var frames int
	var last time.Time
	for ctx.Err() == nil {
		data, ci, err := r.ReadPacketData()
		if errors.Is(err, io.EOF) && t.opts.Loop && frames > 0 {
			if r, err = t.rewind(f); err != nil {
				slog.Error("replay transport rewind failed", "error", err)
				return
			}
			last = time.Time{}
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Warn("replay transport read failed", "file", t.opts.File, "error", err)
			}
			slog.Info("replay finished", "file", t.opts.File, "frames", frames)
			return
		}
		if t.opts.Pace && !last.IsZero() {
			if !sleepCtx(ctx, ci.Timestamp.Sub(last)) {
				return
			}
		}
		last = ci.Timestamp
		frames++
		if t.inbound != nil {
			t.inbound(data, core.RxMeta{Interface: TypeReplay, ReceivedAt: time.Now(), Source: t.opts.File})
		}
	}
}

func (t *ReplayTransport) rewind(f *os.File) (*pcapgo.Reader, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return pcapgo.NewReader(f)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Transmit discards the frame.
func (t *ReplayTransport) Transmit(_ context.Context, _ string, frame []byte, _ core.TxParams) error {
	slog.Debug("replay transport discards transmitted frame", "len", len(frame))
	return nil
}

// Done is closed when the replay has ended.
func (t *ReplayTransport) Done() <-chan struct{} {
	return t.done
}

func (t *ReplayTransport) Close() error {
	t.closeOnce.Do(func() {
		if t.cancel != nil {
			t.cancel()
			<-t.done
		}
	})
	return nil
}
