package runtime

import (
	"os"

	"github.com/pelletier/go-toml"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/objrt/errors"
)

// Heap backends.
const (
	BackendLinear = "linear"
	BackendWazero = "wazero"
)

// Config configures a Runtime. The zero value is a one page linear heap
// without a growth limit.
type Config struct {
	// Logger receives the logs of every registry. When nil, LogLevel
	// selects a production logger and an empty LogLevel logs nothing.
	Logger *zap.Logger `toml:"-"`

	// Backend is BackendLinear or BackendWazero.
	Backend string `toml:"backend" default:"linear"`
	// ModuleName names the heap module of the wazero backend.
	ModuleName string `toml:"module-name"`
	// LogLevel is a zap level name.
	LogLevel string `toml:"log-level"`

	InitialPages uint32 `toml:"initial-pages" default:"1"`
	// MaxPages bounds heap growth; 0 is unbounded.
	MaxPages uint32 `toml:"max-pages"`
}

type configFile struct {
	Runtime Config `toml:"runtime"`
}

// LoadConfig reads the [runtime] table of a TOML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.PhaseConfig, errors.KindNotFound).
			Detail("read %s", path).Cause(err).Build()
	}
	return ParseConfig(data)
}

// ParseConfig decodes the [runtime] table of a TOML document.
func ParseConfig(data []byte) (*Config, error) {
	var f configFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidArg, err, "decode runtime config")
	}
	if err := f.Runtime.Validate(); err != nil {
		return nil, err
	}
	return &f.Runtime, nil
}

// Validate checks the backend, page limits and log level.
func (c *Config) Validate() error {
	switch c.Backend {
	case "", BackendLinear, BackendWazero:
	default:
		return errors.InvalidArg(errors.PhaseConfig, "unknown backend %q", c.Backend)
	}
	if c.MaxPages > 0 && c.MaxPages < c.InitialPages {
		return errors.InvalidArg(errors.PhaseConfig, "max pages %d below initial pages %d", c.MaxPages, c.InitialPages)
	}
	if c.MaxPages > 65536 || c.InitialPages > 65536 {
		return errors.InvalidArg(errors.PhaseConfig, "page count beyond the 4GiB address space")
	}
	if c.LogLevel != "" {
		if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
			return errors.Wrap(errors.PhaseConfig, errors.KindInvalidArg, err, "log level")
		}
	}
	return nil
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Backend == "" {
		out.Backend = BackendLinear
	}
	if out.InitialPages == 0 {
		out.InitialPages = 1
	}
	return out
}

func (c *Config) logger() (*zap.Logger, error) {
	if c.Logger != nil {
		return c.Logger, nil
	}
	if c.LogLevel == "" {
		return zap.NewNop(), nil
	}
	lvl, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidArg, err, "log level")
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	l, err := zc.Build()
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidArg, err, "build logger")
	}
	return l, nil
}
