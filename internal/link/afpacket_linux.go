//go:build linux

package link

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket/afpacket"

	"firestige.xyz/v2xtrx/internal/core"
)

const (
	TypeAFPacket = "afpacket"

	defaultFrameSize = 4096
	defaultBlockSize = 1 << 20 // 1MB
	defaultNumBlocks = 8

	minReadBackoff = 10 * time.Millisecond
	maxReadBackoff = time.Second
)

func init() {
	Register(TypeAFPacket, func(cfg Config) (Transport, error) {
		return NewAFPacket(cfg)
	})
}

// AFPacketOptions configures the TPACKET_V3 ring.
type AFPacketOptions struct {
	FrameSize   int           `mapstructure:"frame_size"`
	BlockSize   int           `mapstructure:"block_size"`
	NumBlocks   int           `mapstructure:"num_blocks"`
	PollTimeout time.Duration `mapstructure:"poll_timeout"`
}

// AFPacketTransport sends and receives raw frames on a Linux interface.
type AFPacketTransport struct {
	opts    AFPacketOptions
	iface   string
	inbound InboundFunc

	handle  *afpacket.TPacket
	writeMu sync.Mutex
	closed  atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}

	received   atomic.Uint64
	dropped    atomic.Uint64
	readErrors atomic.Uint64
}

// NewAFPacket creates an unopened AF_PACKET transport.
func NewAFPacket(cfg Config) (*AFPacketTransport, error) {
	if cfg.Interface == "" {
		return nil, fmt.Errorf("%w: afpacket requires an interface", core.ErrConfigInvalid)
	}
	opts := AFPacketOptions{
		FrameSize:   defaultFrameSize,
		BlockSize:   defaultBlockSize,
		NumBlocks:   defaultNumBlocks,
		PollTimeout: 100 * time.Millisecond,
	}
	if err := decodeOptions(cfg.Options, &opts); err != nil {
		return nil, err
	}
	return &AFPacketTransport{opts: opts, iface: cfg.Interface}, nil
}

func (t *AFPacketTransport) Name() string { return TypeAFPacket }

func (t *AFPacketTransport) RegisterInbound(fn InboundFunc) { t.inbound = fn }

// Start opens the ring, installs the WSMP socket filter and starts reading.
func (t *AFPacketTransport) Start(ctx context.Context) error {
	handle, err := afpacket.NewTPacket(
		afpacket.OptInterface(t.iface),
		afpacket.OptFrameSize(t.opts.FrameSize),
		afpacket.OptBlockSize(t.opts.BlockSize),
		afpacket.OptNumBlocks(t.opts.NumBlocks),
		afpacket.OptPollTimeout(t.opts.PollTimeout),
		afpacket.OptTPacketVersion(afpacket.TPacketVersion3),
	)
	if err != nil {
		return fmt.Errorf("afpacket transport: open %s: %w", t.iface, err)
	}
	prog, err := WSMPFilter()
	if err != nil {
		handle.Close()
		return fmt.Errorf("afpacket transport: assemble filter: %w", err)
	}
	if err := handle.SetBPF(prog); err != nil {
		handle.Close()
		return fmt.Errorf("afpacket transport: set filter: %w", err)
	}
	t.handle = handle

	ctx, t.cancel = context.WithCancel(ctx)
	t.done = make(chan struct{})
	go t.readLoop(ctx)
	slog.Info("afpacket transport started", "interface", t.iface)
	return nil
}

// readLoop owns the handle: it is closed here once the loop exits, never
// while a zero-copy read may still reference the ring.
func (t *AFPacketTransport) readLoop(ctx context.Context) {
	defer close(t.done)
	defer func() {
		t.writeMu.Lock()
		t.closed.Store(true)
		t.handle.Close()
		t.writeMu.Unlock()
	}()

	failures := 0
	for ctx.Err() == nil {
		data, ci, err := t.handle.ZeroCopyReadPacketData()
		if err != nil {
			// Poll timeouts are the idle case; the context check ends the loop.
			if errors.Is(err, afpacket.ErrTimeout) {
				continue
			}
			t.readErrors.Add(1)
			delay := readBackoff(failures)
			failures++
			slog.Warn("afpacket read failed", "interface", t.iface, "error", err,
				"failures", failures, "backoff", delay)
			if !sleepCtx(ctx, delay) {
				break
			}
			continue
		}
		failures = 0
		t.received.Add(1)
		if t.inbound == nil {
			t.dropped.Add(1)
			continue
		}
		t.inbound(data, core.RxMeta{Interface: t.iface, ReceivedAt: ci.Timestamp})
	}
	slog.Info("afpacket transport stopped", "interface", t.iface,
		"received", t.received.Load(), "dropped", t.dropped.Load(), "read_errors", t.readErrors.Load())
}

// readBackoff doubles from minReadBackoff per consecutive failure, capped at
// maxReadBackoff.
func readBackoff(failures int) time.Duration {
	if failures >= 7 {
		return maxReadBackoff
	}
	d := minReadBackoff << failures
	if d > maxReadBackoff {
		d = maxReadBackoff
	}
	return d
}

// Transmit writes frame on the configured interface. The radio
// parameters travel in the WSMP header; the socket has no per-frame knobs.
func (t *AFPacketTransport) Transmit(_ context.Context, iface string, frame []byte, _ core.TxParams) error {
	if iface != "" && iface != t.iface {
		return fmt.Errorf("afpacket transport: bound to %s, cannot send on %s", t.iface, iface)
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.closed.Load() || t.handle == nil {
		return core.ErrTransportClosed
	}
	if err := t.handle.WritePacketData(frame); err != nil {
		return fmt.Errorf("afpacket transport: write: %w", err)
	}
	return nil
}

func (t *AFPacketTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	if t.cancel != nil {
		t.cancel()
		<-t.done
	}
	return nil
}
