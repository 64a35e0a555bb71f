package report

import (
	"fmt"
	"io"

	"github.com/mitchellh/mapstructure"
)

// Config selects and configures one reporter.
type Config struct {
	Type    string         `mapstructure:"type"`
	Options map[string]any `mapstructure:"options"`
}

// New builds a reporter. Console output goes to out.
func New(cfg Config, out io.Writer) (Reporter, error) {
	switch cfg.Type {
	case TypeConsole:
		var opts ConsoleOptions
		if err := decode(cfg.Options, &opts); err != nil {
			return nil, err
		}
		return NewConsole(opts, out)
	case TypeKafka:
		opts := defaultKafkaOptions()
		if err := decode(cfg.Options, &opts); err != nil {
			return nil, err
		}
		return NewKafka(opts)
	default:
		return nil, fmt.Errorf("unknown reporter type %q", cfg.Type)
	}
}

func decode(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(in); err != nil {
		return fmt.Errorf("reporter options: %w", err)
	}
	return nil
}
