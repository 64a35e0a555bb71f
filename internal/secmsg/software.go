package secmsg

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"

	"firestige.xyz/v2xtrx/internal/core"
)

const (
	DefaultWorkers             = 2
	DefaultQueueSize           = 256
	DefaultCertificateInterval = time.Second
	DefaultSignerTTL           = 10 * time.Minute
)

// Options configures the software engine.
type Options struct {
	Workers   int
	QueueSize int
	// KeyFile is a PKCS#8 PEM Ed25519 key. An ephemeral key is generated
	// when empty.
	KeyFile string
	Key     ed25519.PrivateKey
	// CertificateInterval is the minimum spacing between messages that
	// carry the full signer key; the rest carry its digest.
	CertificateInterval time.Duration
	// MaxAge rejects signed messages generated longer ago. Zero disables.
	MaxAge time.Duration
	// SignerTTL is how long a learned signer key stays known.
	SignerTTL time.Duration

	Now func() time.Time
}

// SoftwareEngine signs with Ed25519 and verifies on a fixed pool of
// workers fed by a bounded queue.
type SoftwareEngine struct {
	opts   Options
	key    ed25519.PrivateKey
	pub    ed25519.PublicKey
	digest []byte

	signers *cache.Cache

	certMu   sync.Mutex
	lastCert time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan Request

	completions chan Completion
	group       errgroup.Group
	closeOnce   sync.Once
}

// NewSoftwareEngine loads key material and starts the verification workers.
func NewSoftwareEngine(opts Options) (*SoftwareEngine, error) {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.CertificateInterval <= 0 {
		opts.CertificateInterval = DefaultCertificateInterval
	}
	if opts.SignerTTL <= 0 {
		opts.SignerTTL = DefaultSignerTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	key := opts.Key
	switch {
	case key != nil:
	case opts.KeyFile != "":
		var err error
		if key, err = LoadKey(opts.KeyFile); err != nil {
			return nil, err
		}
	default:
		var err error
		if key, _, err = GenerateKey(); err != nil {
			return nil, fmt.Errorf("generate ephemeral key: %w", err)
		}
		slog.Warn("no signing key configured, using an ephemeral key")
	}
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: key size %d", core.ErrInvalidKey, len(key))
	}

	pub := key.Public().(ed25519.PublicKey)
	e := &SoftwareEngine{
		opts:   opts,
		key:    key,
		pub:    pub,
		digest: Digest(pub),
		// Expired signers are purged when a certificate is learned.
		signers:     cache.New(opts.SignerTTL, 0),
		queue:       make(chan Request, opts.QueueSize),
		completions: make(chan Completion, opts.QueueSize),
	}
	// Our own messages verify without waiting for a certificate.
	e.signers.SetDefault(string(e.digest), pub)

	for i := 0; i < opts.Workers; i++ {
		e.group.Go(e.worker)
	}
	slog.Info("secure-message engine started",
		"workers", opts.Workers, "queue_size", opts.QueueSize, "signer", fmt.Sprintf("%x", e.digest))
	return e, nil
}

// Construct implements Engine.
func (e *SoftwareEngine) Construct(ctx context.Context, profile core.TransmitProfile, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		return nil, core.ErrEmptyPayload
	}
	if !profile.Signed {
		out, err := marshalUnsecured(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrConstructFailed, err)
		}
		return out, nil
	}

	env := &envelope{
		Content:        core.ContentSigned,
		Payload:        payload,
		PSID:           profile.AID,
		GenerationTime: e.opts.Now(),
		Location:       profile.Position,
	}
	tbs, err := marshalTBS(env)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrConstructFailed, err)
	}
	env.tbs = tbs
	env.Signature = ed25519.Sign(e.key, tbs)
	env.Signer, env.SignerID = e.signerFor(env.GenerationTime)

	out, err := marshalSigned(env)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrConstructFailed, err)
	}
	return out, nil
}

// signerFor picks the full key at most once per CertificateInterval.
func (e *SoftwareEngine) signerFor(now time.Time) (core.SignerType, []byte) {
	e.certMu.Lock()
	defer e.certMu.Unlock()
	if e.lastCert.IsZero() || now.Sub(e.lastCert) >= e.opts.CertificateInterval {
		e.lastCert = now
		return core.SignerCertificate, e.pub
	}
	return core.SignerDigest, e.digest
}

// Submit implements Engine. It never blocks: a full queue is rejected.
func (e *SoftwareEngine) Submit(ctx context.Context, req Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return core.ErrEngineClosed
	}
	select {
	case e.queue <- req:
		return nil
	default:
		return core.ErrQueueFull
	}
}

// Completions implements Engine.
func (e *SoftwareEngine) Completions() <-chan Completion {
	return e.completions
}

// Close implements Engine. Accepted requests are processed and delivered
// before the completion channel is closed, so a consumer must keep reading.
func (e *SoftwareEngine) Close() error {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		close(e.queue)
		e.mu.Unlock()

		_ = e.group.Wait()
		close(e.completions)
		slog.Info("secure-message engine stopped")
	})
	return nil
}

func (e *SoftwareEngine) worker() error {
	for req := range e.queue {
		e.completions <- Completion{Token: req.Token, Result: e.process(req)}
	}
	return nil
}

func (e *SoftwareEngine) process(req Request) core.Result {
	env, err := parseEnvelope(req.Data)
	if err != nil {
		slog.Debug("secured message rejected", "token", req.Token.String(), "error", err)
		return core.Result{Code: core.ResultMalformed}
	}
	if env.Content == core.ContentUnsecured {
		return core.Result{Code: core.ResultOK, Content: core.ContentUnsecured, Data: env.Payload}
	}

	res := core.Result{
		Content:        core.ContentSigned,
		Signer:         env.Signer,
		AID:            env.PSID,
		HasAID:         true,
		GenerationTime: env.GenerationTime,
		Location:       env.Location,
		Data:           env.Payload,
	}
	pub, code := e.resolveSigner(env)
	if code != core.ResultOK {
		res.Code = code
		return res
	}
	if !ed25519.Verify(pub, env.tbs, env.Signature) {
		res.Code = core.ResultInvalidSignature
		return res
	}
	if env.Signer == core.SignerCertificate {
		e.learnSigner(pub)
	}
	switch {
	case env.PSID != req.Context.AID:
		res.Code = core.ResultAIDMismatch
	case e.opts.MaxAge > 0 && e.opts.Now().Sub(env.GenerationTime) > e.opts.MaxAge:
		res.Code = core.ResultExpired
	default:
		res.Code = core.ResultOK
	}
	return res
}

func (e *SoftwareEngine) resolveSigner(env *envelope) (ed25519.PublicKey, core.ResultCode) {
	switch env.Signer {
	case core.SignerCertificate:
		if len(env.SignerID) != ed25519.PublicKeySize {
			return nil, core.ResultMalformed
		}
		return ed25519.PublicKey(env.SignerID), core.ResultOK
	case core.SignerDigest:
		if len(env.SignerID) != digestLen {
			return nil, core.ResultMalformed
		}
		v, ok := e.signers.Get(string(env.SignerID))
		if !ok {
			return nil, core.ResultUnknownSigner
		}
		return v.(ed25519.PublicKey), core.ResultOK
	default:
		return nil, core.ResultMalformed
	}
}

// learnSigner remembers a verified signer key under its digest. The key is
// copied out of the frame buffer, which is reused after release.
func (e *SoftwareEngine) learnSigner(pub ed25519.PublicKey) {
	e.signers.DeleteExpired()
	e.signers.SetDefault(string(Digest(pub)), append(ed25519.PublicKey(nil), pub...))
}
