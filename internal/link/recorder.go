package link

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/v2xtrx/internal/core"
)

const recorderSnapLen = 65536

// Recorder writes every frame a transport sends or receives to a pcap file.
type Recorder struct {
	Transport

	mu     sync.Mutex
	file   *os.File
	w      *pcapgo.Writer
	frames int
}

// NewRecorder wraps t and creates (or truncates) path.
func NewRecorder(t Transport, path string) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("recorder: %w", err)
	}
	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(recorderSnapLen, layers.LinkTypeEthernet); err != nil {
		f.Close()
		return nil, fmt.Errorf("recorder: write header: %w", err)
	}
	return &Recorder{Transport: t, file: f, w: w}, nil
}

// RegisterInbound records inbound frames before handing them on.
func (r *Recorder) RegisterInbound(fn InboundFunc) {
	r.Transport.RegisterInbound(func(frame []byte, meta core.RxMeta) {
		r.record(frame, meta.ReceivedAt)
		if fn != nil {
			fn(frame, meta)
		}
	})
}

// Transmit records the frame and sends it.
func (r *Recorder) Transmit(ctx context.Context, iface string, frame []byte, params core.TxParams) error {
	r.record(frame, time.Now())
	return r.Transport.Transmit(ctx, iface, frame, params)
}

func (r *Recorder) record(frame []byte, ts time.Time) {
	if ts.IsZero() {
		ts = time.Now()
	}
	ci := gopacket.CaptureInfo{Timestamp: ts, CaptureLength: len(frame), Length: len(frame)}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return
	}
	if err := r.w.WritePacket(ci, frame); err != nil {
		slog.Warn("recorder write failed", "file", r.file.Name(), "error", err)
		return
	}
	r.frames++
}

// Close closes the wrapped transport, then the capture file.
func (r *Recorder) Close() error {
	err := r.Transport.Close()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return err
	}
	r.w = nil
	if cerr := r.file.Close(); err == nil {
		err = cerr
	}
	slog.Info("capture file closed", "file", r.file.Name(), "frames", r.frames)
	return err
}
