// Package config parses sercd's CLI surface (§6) and an optional YAML
// overlay for the ambient tuning knobs the CLI itself has no room for
// (ring-buffer capacity, poll jitter) — additive only, never a replacement
// for a CLI flag.
package config

import (
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sercd-go/sercd/internal/logging"
)

// Config is the fully resolved set of knobs the rest of the program needs,
// after CLI parsing and an optional overlay file are both applied.
type Config struct {
	Inetd       bool // true unless -l was given (§6: "-l ... enables standalone mode")
	LogToStderr bool // -e; default is syslog
	Port        int
	BindAddr    string
	LogLevel    logging.Severity
	Device      string
	LockFile    string
	PollMillis  int
	CiscoIOS    bool // -i: flow-control reply quirk, not inetd

	RingBufferCapacity int
	ModemPollJitterMs  int
}

const (
	defaultPort       = 7000
	defaultPollMillis = 100

	defaultRingBufferCapacity = 2048
	defaultModemPollJitterMs  = 0
)

// Overlay is the additive, optional YAML document a deployment may point
// -config at. Every field here has a CLI- or built-in default and the
// overlay may only narrow or widen ambient tuning, never change protocol
// behavior.
type Overlay struct {
	RingBufferCapacity *int `yaml:"ring_buffer_capacity"`
	ModemPollJitterMs  *int `yaml:"modem_poll_jitter_ms"`
}

// Parse parses args (normally os.Args[1:]) per §6's CLI grammar:
//
//	sercd [-i] [-e] [-p port] [-l bind-addr] <loglevel> <device> <lockfile> [poll-ms]
func Parse(args []string) (*Config, error) {
	fs := flag.NewFlagSet("sercd", flag.ContinueOnError)
	cisco := fs.Bool("i", false, "Cisco IOS compatibility (SET_CONTROL inbound-flow reply quirk)")
	stderr := fs.Bool("e", false, "log to stderr instead of syslog")
	port := fs.Int("p", defaultPort, "TCP port to listen on (standalone mode)")
	bindAddr := fs.String("l", "", `bind address ("" = any); presence of this flag enables standalone mode`)
	configPath := fs.String("config", "", "optional YAML overlay for ambient tuning")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	standalone := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "l" {
			standalone = true
		}
	})

	rest := fs.Args()
	if len(rest) < 3 || len(rest) > 4 {
		return nil, fmt.Errorf("usage: sercd [-i] [-e] [-p port] [-l bind-addr] <loglevel> <device> <lockfile> [poll-ms]")
	}

	level, err := logging.ParseSeverity(rest[0])
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Inetd:              !standalone,
		LogToStderr:        *stderr,
		Port:               *port,
		BindAddr:           *bindAddr,
		LogLevel:           level,
		Device:             rest[1],
		LockFile:           rest[2],
		PollMillis:         defaultPollMillis,
		CiscoIOS:           *cisco,
		RingBufferCapacity: defaultRingBufferCapacity,
		ModemPollJitterMs:  defaultModemPollJitterMs,
	}

	if len(rest) == 4 {
		var ms int
		if _, err := fmt.Sscanf(rest[3], "%d", &ms); err != nil {
			return nil, fmt.Errorf("invalid poll-ms %q: %w", rest[3], err)
		}
		cfg.PollMillis = ms
	}

	if *configPath != "" {
		if err := applyOverlay(cfg, *configPath); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func applyOverlay(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	var overlay Overlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	if overlay.RingBufferCapacity != nil {
		cfg.RingBufferCapacity = *overlay.RingBufferCapacity
	}
	if overlay.ModemPollJitterMs != nil {
		cfg.ModemPollJitterMs = *overlay.ModemPollJitterMs
	}
	return nil
}
