package link

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/ipv4"

	"firestige.xyz/v2xtrx/internal/core"
)

const (
	TypeUDP = "udp"

	defaultGroup      = "239.118.9.1:47001"
	maxOverlayPayload = 65507
)

func init() {
	Register(TypeUDP, func(cfg Config) (Transport, error) {
		return NewUDP(cfg)
	})
}

// UDPOptions configures the multicast overlay.
type UDPOptions struct {
	// Group is the multicast group and port standing in for the radio
	// channel.
	Group string `mapstructure:"group"`
	// TTL keeps frames on the local segment by default.
	TTL int `mapstructure:"ttl"`
	// Loopback delivers frames to listeners on the sending host.
	Loopback bool `mapstructure:"loopback"`
}

// UDPTransport emulates a shared broadcast medium by carrying whole
// link-layer frames as IPv4 multicast datagrams.
type UDPTransport struct {
	opts    UDPOptions
	iface   string
	group   *net.UDPAddr
	inbound InboundFunc

	conn   *net.UDPConn
	pconn  *ipv4.PacketConn
	tosMu  sync.Mutex
	tos    int
	closed atomic.Bool
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewUDP creates an unopened multicast overlay transport.
func NewUDP(cfg Config) (*UDPTransport, error) {
	opts := UDPOptions{Group: defaultGroup, TTL: 1, Loopback: true}
	if err := decodeOptions(cfg.Options, &opts); err != nil {
		return nil, err
	}
	group, err := net.ResolveUDPAddr("udp4", opts.Group)
	if err != nil {
		return nil, fmt.Errorf("%w: group %q: %v", core.ErrConfigInvalid, opts.Group, err)
	}
	if !group.IP.IsMulticast() {
		return nil, fmt.Errorf("%w: %s is not a multicast group", core.ErrConfigInvalid, group.IP)
	}
	return &UDPTransport{opts: opts, iface: cfg.Interface, group: group}, nil
}

func (t *UDPTransport) Name() string { return TypeUDP }

func (t *UDPTransport) RegisterInbound(fn InboundFunc) { t.inbound = fn }

// Start joins the group and starts the read loop.
func (t *UDPTransport) Start(ctx context.Context) error {
	var ifi *net.Interface
	if t.iface != "" {
		var err error
		if ifi, err = net.InterfaceByName(t.iface); err != nil {
			return fmt.Errorf("udp transport: interface %q: %w", t.iface, err)
		}
	}
	conn, err := net.ListenMulticastUDP("udp4", ifi, t.group)
	if err != nil {
		return fmt.Errorf("udp transport: join %s: %w", t.group, err)
	}
	pconn := ipv4.NewPacketConn(conn)
	if err := t.configure(pconn, ifi); err != nil {
		conn.Close()
		return err
	}
	t.conn, t.pconn = conn, pconn

	ctx, t.cancel = context.WithCancel(ctx)
	t.wg.Add(1)
	go t.readLoop(ctx)
	slog.Info("udp transport started", "group", t.group.String(), "interface", t.iface,
		"ttl", t.opts.TTL, "loopback", t.opts.Loopback)
	return nil
}

func (t *UDPTransport) configure(pconn *ipv4.PacketConn, ifi *net.Interface) error {
	if err := pconn.SetMulticastTTL(t.opts.TTL); err != nil {
		return fmt.Errorf("udp transport: set ttl: %w", err)
	}
	if err := pconn.SetMulticastLoopback(t.opts.Loopback); err != nil {
		return fmt.Errorf("udp transport: set loopback: %w", err)
	}
	if ifi != nil {
		if err := pconn.SetMulticastInterface(ifi); err != nil {
			return fmt.Errorf("udp transport: set interface: %w", err)
		}
	}
	// Interface info is best effort; not every platform supports it.
	_ = pconn.SetControlMessage(ipv4.FlagInterface, true)
	return nil
}

func (t *UDPTransport) readLoop(ctx context.Context) {
	defer t.wg.Done()

	stop := context.AfterFunc(ctx, func() {
		_ = t.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, maxOverlayPayload)
	for {
		n, cm, src, err := t.pconn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || t.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Warn("udp transport read failed", "error", err)
			continue
		}
		meta := core.RxMeta{Interface: t.iface, ReceivedAt: time.Now()}
		if src != nil {
			meta.Source = src.String()
		}
		if cm != nil && cm.IfIndex > 0 && meta.Interface == "" {
			if ifi, err := net.InterfaceByIndex(cm.IfIndex); err == nil {
				meta.Interface = ifi.Name
			}
		}
		if t.inbound != nil {
			t.inbound(buf[:n], meta)
		}
	}
}

// Transmit sends frame to the group. The 802.1 user priority is mapped to
// the IP precedence bits.
func (t *UDPTransport) Transmit(ctx context.Context, iface string, frame []byte, params core.TxParams) error {
	if t.closed.Load() || t.pconn == nil {
		return core.ErrTransportClosed
	}
	if len(frame) > maxOverlayPayload {
		return fmt.Errorf("%w: %d byte frame", core.ErrPayloadTooLarge, len(frame))
	}
	if err := t.setPriority(params.Priority); err != nil {
		slog.Debug("udp transport: set tos failed", "error", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := t.conn.SetWriteDeadline(deadline); err != nil {
			return err
		}
	}
	if _, err := t.pconn.WriteTo(frame, nil, t.group); err != nil {
		return fmt.Errorf("udp transport: write: %w", err)
	}
	return nil
}

func (t *UDPTransport) setPriority(priority uint8) error {
	tos := int(priority&0x07) << 5
	t.tosMu.Lock()
	defer t.tosMu.Unlock()
	if tos == t.tos {
		return nil
	}
	if err := t.pconn.SetTOS(tos); err != nil {
		return err
	}
	t.tos = tos
	return nil
}

// Close leaves the group and waits for the read loop.
func (t *UDPTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	if t.cancel != nil {
		t.cancel()
	}
	var err error
	if t.conn != nil {
		err = t.conn.Close()
	}
	t.wg.Wait()
	slog.Info("udp transport stopped", "group", t.group.String())
	return err
}

// LocalAddr returns the bound address, or nil before Start.
func (t *UDPTransport) LocalAddr() net.Addr {
	if t.conn == nil {
		return nil
	}
	return t.conn.LocalAddr()
}
