package engine

import (
	"fmt"
	"strconv"
	"time"
)

// Options configures one Engine instance. Values are populated from a flat
// map[string]string by Parse, keyed by the `config:"name"` tag on each
// field, so a host application can pass the same kind of flat key/value
// option set it uses for everything else.
type Options struct {
	MaxRetries         int           `config:"max_retries"`
	ReconnectDelay     time.Duration `config:"reconnect_delay"`
	Timeout            time.Duration `config:"timeout"`
	KeepAliveInterval  time.Duration `config:"keepalive_interval"`
	EnableDebugLogging bool          `config:"debug"`
	EnableListingLogs  bool          `config:"log_listings"`
	PreserveTimestamps bool          `config:"preserve_timestamps"`
}

// DefaultOptions returns the engine's built-in defaults, overridden field by
// field by Parse.
func DefaultOptions() Options {
	return Options{
		MaxRetries:        3,
		ReconnectDelay:    5 * time.Second,
		Timeout:           20 * time.Second,
		KeepAliveInterval: 30 * time.Minute,
	}
}

// Parse populates a copy of base from raw, a flat key/value option map (the
// form a host application naturally has on hand: parsed flags, a config
// file section, an RPC payload). Unknown keys are an error, matching
// configstruct's strict behaviour.
func Parse(base Options, raw map[string]string) (Options, error) {
	opts := base
	for key, val := range raw {
		if err := opts.set(key, val); err != nil {
			return opts, err
		}
	}
	return opts, nil
}

func (o *Options) set(key, val string) error {
	switch key {
	case "max_retries":
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("engine: option %q: %w", key, err)
		}
		o.MaxRetries = n
	case "reconnect_delay":
		d, err := parseDuration(key, val)
		if err != nil {
			return err
		}
		o.ReconnectDelay = d
	case "timeout":
		d, err := parseDuration(key, val)
		if err != nil {
			return err
		}
		o.Timeout = d
	case "keepalive_interval":
		d, err := parseDuration(key, val)
		if err != nil {
			return err
		}
		o.KeepAliveInterval = d
	case "debug":
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("engine: option %q: %w", key, err)
		}
		o.EnableDebugLogging = b
	case "log_listings":
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("engine: option %q: %w", key, err)
		}
		o.EnableListingLogs = b
	case "preserve_timestamps":
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("engine: option %q: %w", key, err)
		}
		o.PreserveTimestamps = b
	default:
		return fmt.Errorf("engine: unknown option %q", key)
	}
	return nil
}

func parseDuration(key, val string) (time.Duration, error) {
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("engine: option %q: %w", key, err)
	}
	return d, nil
}
