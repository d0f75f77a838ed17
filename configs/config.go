package configs

import (
	"time"

	"github.com/BurntSushi/toml"
)

// LoggerConfig controls the daily-rotating file logger, optionally
// mirrored to stdout.
type LoggerConfig struct {
	Enabled    bool
	Dir        string
	Extension  string
	Prefix     string
	Level      string
	Stdout     bool
	TimeFormat string
}

// Settings holds the tunables a node needs beyond the three positional
// launch arguments (ip, rpc_port, resource_name): identity stays on the
// command line so the one-line launch form in the control surface table
// keeps working even with no settings file at all. The control surface's
// port (rpc_port+1) is fixed by ringaddr.Addr.ControlAddr and is not
// independently configurable.
type Settings struct {
	ArtificialDelayMs int // default outbound delay applied before every RPC
	RPCTimeoutMs      int // bound on a single outbound RPC call
	Logger            LoggerConfig
}

func Defaults() Settings {
	return Settings{
		ArtificialDelayMs: 0,
		RPCTimeoutMs:      2000,
		Logger: LoggerConfig{
			Enabled:   true,
			Dir:       "logs",
			Extension: "log",
			Prefix:    "ringnode",
			Level:     "info",
			Stdout:    true,
		},
	}
}

// ReadSettings loads a TOML settings file, falling back to Defaults() for
// any zero-valued field the file doesn't set. A missing path is not an
// error: the launcher always has Defaults() to run with.
func ReadSettings(path string) (Settings, error) {
	s := Defaults()
	if path == "" {
		return s, nil
	}
	if _, err := toml.DecodeFile(path, &s); err != nil {
		return Settings{}, err
	}
	if s.RPCTimeoutMs <= 0 {
		s.RPCTimeoutMs = Defaults().RPCTimeoutMs
	}
	return s, nil
}

func (s Settings) RPCTimeout() time.Duration {
	return time.Duration(s.RPCTimeoutMs) * time.Millisecond
}

func (s Settings) ArtificialDelay() time.Duration {
	return time.Duration(s.ArtificialDelayMs) * time.Millisecond
}
