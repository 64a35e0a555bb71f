package link

import (
	"fmt"
	"slices"
	"sync"

	"github.com/mitchellh/mapstructure"

	"firestige.xyz/v2xtrx/internal/core"
)

// Config selects and configures a transport.
type Config struct {
	Type      string
	Interface string
	// CaptureFile, when set, records every frame in both directions.
	CaptureFile string
	// Options holds type-specific settings.
	Options map[string]any
}

// Factory builds a transport from its configuration.
type Factory func(cfg Config) (Transport, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a transport type available to New. Registering the same
// type twice panics.
func Register(typ string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := factories[typ]; exists {
		panic(fmt.Sprintf("link: transport %q already registered", typ))
	}
	factories[typ] = f
}

// Types lists registered transport types in sorted order.
func Types() []string {
	mu.RLock()
	defer mu.RUnlock()
	types := make([]string, 0, len(factories))
	for t := range factories {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// New builds the transport named by cfg.Type, wrapped in a Recorder when a
// capture file is configured.
func New(cfg Config) (Transport, error) {
	mu.RLock()
	f, ok := factories[cfg.Type]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", core.ErrUnknownTransport, cfg.Type, Types())
	}
	t, err := f(cfg)
	if err != nil {
		return nil, fmt.Errorf("%s transport: %w", cfg.Type, err)
	}
	if cfg.CaptureFile != "" {
		return NewRecorder(t, cfg.CaptureFile)
	}
	return t, nil
}

// decodeOptions decodes type-specific options into out, which carries
// the defaults. Unknown keys are rejected.
func decodeOptions(opts map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(opts); err != nil {
		return fmt.Errorf("%w: %v", core.ErrConfigInvalid, err)
	}
	return nil
}
