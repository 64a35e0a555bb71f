package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"firestige.xyz/v2xtrx/internal/codec"
	"firestige.xyz/v2xtrx/internal/core"
	"firestige.xyz/v2xtrx/internal/filter"
	"firestige.xyz/v2xtrx/internal/link"
	"firestige.xyz/v2xtrx/internal/metrics"
	"firestige.xyz/v2xtrx/internal/record"
	"firestige.xyz/v2xtrx/internal/report"
	"firestige.xyz/v2xtrx/internal/secmsg"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// Mock implementations for testing

type mockEngine struct {
	constructErr error
	submitErr    error

	mu          sync.Mutex
	submitted   []secmsg.Request
	closed      bool
	completions chan secmsg.Completion
	closeOnce   sync.Once
}

func newMockEngine() *mockEngine {
	return &mockEngine{completions: make(chan secmsg.Completion, 1024)}
}

func (e *mockEngine) Construct(_ context.Context, _ core.TransmitProfile, payload []byte) ([]byte, error) {
	if e.constructErr != nil {
		return nil, e.constructErr
	}
	return append([]byte(nil), payload...), nil
}

func (e *mockEngine) Submit(_ context.Context, req secmsg.Request) error {
	if e.submitErr != nil {
		return e.submitErr
	}
	e.mu.Lock()
	e.submitted = append(e.submitted, req)
	e.mu.Unlock()
	e.completions <- secmsg.Completion{
		Token:  req.Token,
		Result: core.Result{Code: core.ResultOK, Content: core.ContentUnsecured, Data: req.Data},
	}
	return nil
}

func (e *mockEngine) Completions() <-chan secmsg.Completion { return e.completions }

func (e *mockEngine) Close() error {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
		close(e.completions)
	})
	return nil
}

func (e *mockEngine) submittedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.submitted)
}

type mockTransport struct {
	startErr error

	mu      sync.Mutex
	inbound link.InboundFunc
	frames  [][]byte
	params  []core.TxParams
	closed  bool
}

func (t *mockTransport) Name() string                        { return "mock" }
func (t *mockTransport) RegisterInbound(fn link.InboundFunc) { t.inbound = fn }
func (t *mockTransport) Start(context.Context) error         { return t.startErr }

func (t *mockTransport) Transmit(_ context.Context, _ string, frame []byte, params core.TxParams) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frames = append(t.frames, append([]byte(nil), frame...))
	t.params = append(t.params, params)
	return nil
}

func (t *mockTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *mockTransport) sent() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]byte(nil), t.frames...)
}

type captureReporter struct {
	mu       sync.Mutex
	messages []*report.Message
}

func (r *captureReporter) Name() string { return "capture" }

func (r *captureReporter) Report(_ context.Context, msg *report.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return nil
}

func (r *captureReporter) Close(context.Context) error { return nil }

func (r *captureReporter) all() []*report.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*report.Message(nil), r.messages...)
}

// manualTicker never ticks; firings are driven by TriggerTransmit.
type manualTicker struct {
	c chan time.Time
}

func newManualTicker() *manualTicker           { return &manualTicker{c: make(chan time.Time)} }
func (t *manualTicker) Chan() <-chan time.Time { return t.c }
func (t *manualTicker) Stop()                  {}

var testProfile = core.TransmitProfile{
	AID:        32,
	Channel:    172,
	DataRate:   12,
	TxPower:    20,
	PayloadLen: 40,
	Interval:   time.Hour,
}

func mustEncode(t *testing.T, aid uint32, payload []byte) []byte {
	t.Helper()
	p := testProfile
	p.AID = aid
	frame, err := codec.New().Encode(p, payload)
	require.NoError(t, err)
	return frame
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{Mode: "bogus", Engine: newMockEngine()})
	assert.ErrorIs(t, err, core.ErrConfigInvalid)

	_, err = New(Config{Mode: core.ModeRX})
	assert.ErrorIs(t, err, core.ErrConfigInvalid)

	_, err = New(Config{Mode: core.ModeTRX, Engine: newMockEngine()})
	assert.ErrorIs(t, err, core.ErrConfigInvalid)

	engine := newMockEngine()
	p, err := New(Config{Mode: core.ModeLoopback, Engine: engine})
	require.NoError(t, err)
	require.NoError(t, p.Stop())
}

func TestDispatcherReleasesOnEveryExit(t *testing.T) {
	store := record.NewStore(record.Options{})
	engine := newMockEngine()
	m := &Metrics{}
	d := NewDispatcher(context.Background(), store, codec.New(), filter.NewInterestSet(32, 135), engine, m)

	const n = 100
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			d.HandleFrame(mustEncode(t, 32, []byte{byte(i), 1, 2}), core.RxMeta{Interface: "test"})
		} else {
			d.HandleFrame([]byte{0xde, 0xad, byte(i)}, core.RxMeta{Interface: "test"})
		}
	}

	stats := m.Snapshot()
	assert.Equal(t, uint64(n), stats.Received)
	assert.Equal(t, uint64(n/2), stats.DecodeErrors)
	assert.Equal(t, uint64(n/2), stats.Submitted)
	assert.Equal(t, n/2, engine.submittedCount())
	// Submitted records are owned by the engine until their completion.
	assert.Equal(t, n/2, store.Stats().Live)

	sink := NewSink(store, nil, m, 2)
	sink.Start(engine.Completions())
	require.NoError(t, engine.Close())
	sink.Wait()

	st := store.Stats()
	assert.Equal(t, 0, st.Live)
	assert.Equal(t, uint64(n), st.Allocated)
	assert.Equal(t, st.Allocated, st.Released)
	assert.Zero(t, st.Defects)
	assert.Equal(t, uint64(n/2), m.Snapshot().Completed)
}

func TestDispatcherFilteredAndRejected(t *testing.T) {
	store := record.NewStore(record.Options{})
	engine := newMockEngine()
	engine.submitErr = core.ErrQueueFull
	m := &Metrics{}
	d := NewDispatcher(context.Background(), store, codec.New(), filter.NewInterestSet(32), engine, m)

	d.HandleFrame(mustEncode(t, 999, []byte("x")), core.RxMeta{})
	d.HandleFrame(mustEncode(t, 32, []byte("y")), core.RxMeta{})

	stats := m.Snapshot()
	assert.Equal(t, uint64(1), stats.FilteredOut)
	assert.Equal(t, uint64(1), stats.SubmitRejected)
	assert.Zero(t, stats.Submitted)
	assert.Equal(t, 0, store.Stats().Live)
	assert.Equal(t, uint64(2), store.Stats().Released)
	require.NoError(t, engine.Close())
}

func TestDispatcherStoreExhausted(t *testing.T) {
	store := record.NewStore(record.Options{MaxLive: 1})
	engine := newMockEngine()
	m := &Metrics{}
	d := NewDispatcher(context.Background(), store, codec.New(), filter.NewInterestSet(32), engine, m)

	d.HandleFrame(mustEncode(t, 32, []byte("a")), core.RxMeta{})
	d.HandleFrame(mustEncode(t, 32, []byte("b")), core.RxMeta{})

	assert.Equal(t, uint64(1), m.Snapshot().Submitted)
	assert.Equal(t, uint64(1), m.Snapshot().AllocFailures)
	require.NoError(t, engine.Close())
}

func TestSinkStaleCompletion(t *testing.T) {
	store := record.NewStore(record.Options{})
	m := &Metrics{}
	rec, err := store.Allocate([]byte("stale"))
	require.NoError(t, err)
	token := rec.Token()
	store.Release(rec)

	completions := make(chan secmsg.Completion, 1)
	completions <- secmsg.Completion{Token: token, Result: core.Result{Code: core.ResultOK}}
	close(completions)

	sink := NewSink(store, nil, m, 1)
	sink.Start(completions)
	sink.Wait()

	assert.Equal(t, uint64(1), m.Snapshot().StaleCompletions)
	assert.Zero(t, m.Snapshot().Completed)
	assert.Equal(t, uint64(1), store.Stats().Defects)
}

func TestTransmitConstructFailures(t *testing.T) {
	store := record.NewStore(record.Options{})
	engine := newMockEngine()
	engine.constructErr = core.ErrConstructFailed
	transport := &mockTransport{}
	m := &Metrics{}
	tx := NewTransmitter(testProfile, store, codec.New(), engine, transport, nil, m)

	for i := 0; i < 100; i++ {
		tx.Run(context.Background())
	}

	stats := m.Snapshot()
	assert.Equal(t, uint64(100), stats.Firings)
	assert.Equal(t, uint64(100), stats.ConstructErrors)
	assert.Zero(t, stats.Transmitted)
	assert.Empty(t, transport.sent())
	assert.Equal(t, 0, store.Stats().Live)
	assert.Equal(t, uint64(100), store.Stats().Released)
	require.NoError(t, engine.Close())
}

func TestTransmitEncodeFailure(t *testing.T) {
	store := record.NewStore(record.Options{})
	engine := newMockEngine()
	transport := &mockTransport{}
	m := &Metrics{}
	profile := testProfile
	profile.MTU = 40
	tx := NewTransmitter(profile, store, codec.New(), engine, transport, nil, m)

	tx.Run(context.Background())

	assert.Equal(t, uint64(1), m.Snapshot().EncodeErrors)
	assert.Empty(t, transport.sent())
	assert.Equal(t, 0, store.Stats().Live)
	require.NoError(t, engine.Close())
}

func TestTransmitPayload(t *testing.T) {
	store := record.NewStore(record.Options{})
	engine := newMockEngine()
	transport := &mockTransport{}
	tx := NewTransmitter(testProfile, store, codec.New(), engine, transport, nil, &Metrics{})

	tx.Run(context.Background())
	tx.Run(context.Background())

	frames := transport.sent()
	require.Len(t, frames, 2)
	for i, frame := range frames {
		hdr, payload, err := codec.New().Decode(frame)
		require.NoError(t, err)
		assert.Equal(t, uint32(32), hdr.AID)
		assert.Equal(t, uint8(172), hdr.Channel)
		require.Len(t, payload, 40)
		assert.Equal(t, []byte{0, 0, 0, byte(i + 1)}, payload[:4])
		assert.Equal(t, byte(39), payload[39])
	}
	assert.Equal(t, testProfile.TxParams(), transport.params[0])
	require.NoError(t, engine.Close())
}

func TestTransmitShortPayloadCarriesSequence(t *testing.T) {
	profile := testProfile
	profile.PayloadLen = 2
	tx := NewTransmitter(profile, record.NewStore(record.Options{}), codec.New(), newMockEngine(), &mockTransport{}, nil, &Metrics{})

	var got [][]byte
	for i := 0; i < 258; i++ {
		got = append(got, tx.payload())
	}
	assert.Equal(t, []byte{0, 1}, got[0])
	assert.Equal(t, []byte{0, 255}, got[254])
	assert.Equal(t, []byte{1, 0}, got[255])
	assert.Equal(t, []byte{1, 2}, got[257])
}

func TestLoopbackRoundTrip(t *testing.T) {
	for _, signed := range []bool{false, true} {
		name := "unsecured"
		if signed {
			name = "signed"
		}
		t.Run(name, func(t *testing.T) {
			engine, err := secmsg.NewSoftwareEngine(secmsg.Options{Workers: 1})
			require.NoError(t, err)
			reporter := &captureReporter{}
			profile := testProfile
			profile.Signed = signed

			p, err := NewBuilder(core.ModeLoopback).
				WithProfile(profile).
				WithStore(record.NewStore(record.Options{MaxLive: 4})).
				WithEngine(engine).
				WithReporters(report.NewQueue(16, reporter)).
				WithTicker(newManualTicker()).
				Build()
			require.NoError(t, err)
			require.NoError(t, p.Start())

			p.TriggerTransmit()
			assert.Eventually(t, func() bool { return p.Stats().Completed == 1 }, 2*time.Second, 5*time.Millisecond)
			require.NoError(t, p.Stop())

			stats := p.Stats()
			assert.Equal(t, uint64(1), stats.Looped)
			assert.Equal(t, uint64(1), stats.Received)
			assert.Equal(t, uint64(1), stats.Verified)
			assert.Zero(t, stats.Failed)
			assert.Equal(t, 0, p.StoreStats().Live)
			assert.Zero(t, p.StoreStats().Defects)

			msgs := reporter.all()
			require.Len(t, msgs, 1)
			assert.Equal(t, uint32(32), msgs[0].AID)
			assert.Equal(t, 40, msgs[0].PayloadLen)
			assert.Equal(t, core.ResultOK, msgs[0].Result)
			assert.Equal(t, LoopbackInterface, msgs[0].Interface)
			if signed {
				assert.Equal(t, core.ContentSigned, msgs[0].Content)
			} else {
				assert.Equal(t, core.ContentUnsecured, msgs[0].Content)
			}
		})
	}
}

func TestTRXThroughTransport(t *testing.T) {
	engine := newMockEngine()
	transport := &mockTransport{}
	p, err := New(Config{
		Mode:      core.ModeTRX,
		Profile:   testProfile,
		Engine:    engine,
		Transport: transport,
		Ticker:    newManualTicker(),
	})
	require.NoError(t, err)
	require.NoError(t, p.Start())
	require.NotNil(t, transport.inbound)

	p.TriggerTransmit()
	assert.Eventually(t, func() bool { return len(transport.sent()) == 1 }, 2*time.Second, 5*time.Millisecond)

	// Feed the transmitted frame back in as a peer would.
	transport.inbound(transport.sent()[0], core.RxMeta{Interface: "mock", ReceivedAt: time.Now()})
	assert.Eventually(t, func() bool { return p.Stats().Completed == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, p.Stop())
	assert.True(t, transport.closed)
	assert.True(t, engine.closed)
	assert.Equal(t, 0, p.StoreStats().Live)
}

func TestRXModeDoesNotTransmit(t *testing.T) {
	engine := newMockEngine()
	transport := &mockTransport{}
	p, err := New(Config{Mode: core.ModeRX, Profile: testProfile, Engine: engine, Transport: transport})
	require.NoError(t, err)
	require.NoError(t, p.Start())

	p.TriggerTransmit()
	p.HandleFrame(mustEncode(t, 32, []byte("hello")), core.RxMeta{})
	assert.Eventually(t, func() bool { return p.Stats().Completed == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, p.Stop())

	assert.Empty(t, transport.sent())
	assert.Zero(t, p.Stats().Firings)
}

func TestLiveRecordsGauge(t *testing.T) {
	engine := newMockEngine()
	p, err := New(Config{Mode: core.ModeRX, Profile: testProfile, Engine: engine, Transport: &mockTransport{}})
	require.NoError(t, err)
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.LiveRecords))

	// Completions queue up in the engine until the sink starts.
	for i := 0; i < 5; i++ {
		p.HandleFrame(mustEncode(t, 32, []byte{byte(i)}), core.RxMeta{})
	}
	p.HandleFrame([]byte{0xde, 0xad}, core.RxMeta{})
	assert.Equal(t, 5, p.StoreStats().Live)
	assert.Equal(t, float64(5), testutil.ToFloat64(metrics.LiveRecords))

	require.NoError(t, p.Start())
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.LiveRecords) == 0
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, p.Stop())
	assert.Equal(t, 0, p.StoreStats().Live)
}

func TestStartFailureShutsDown(t *testing.T) {
	engine := newMockEngine()
	transport := &mockTransport{startErr: errors.New("no such device")}
	p, err := New(Config{Mode: core.ModeTRX, Profile: testProfile, Engine: engine, Transport: transport})
	require.NoError(t, err)

	err = p.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such device")
	assert.True(t, engine.closed)
	assert.True(t, transport.closed)
	require.NoError(t, p.Stop())
}
