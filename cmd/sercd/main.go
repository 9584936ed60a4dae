// Command sercd is an RFC 2217 network-to-serial gateway: it exposes one
// serial device to exactly one telnet client at a time, either as a
// standalone TCP listener or launched per-connection from inetd.
package main

import (
	"fmt"
	"os"

	"github.com/sercd-go/sercd/internal/config"
	"github.com/sercd-go/sercd/internal/logging"
	"github.com/sercd-go/sercd/internal/session"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Parse(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	sink, err := openSink(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	log := logging.New(cfg.LogLevel, sink)
	defer log.Sync()

	loop := session.New(cfg, log)
	if err := loop.Run(); err != nil {
		log.Errorf("session loop exited: %v", err)
		return 1
	}
	return 0
}

// openSink picks syslog or stderr per §6: syslog is the default, -e (and
// always in inetd mode, where stdout is the client socket) sends log
// output to stderr instead.
func openSink(cfg *config.Config) (logging.Sink, error) {
	if cfg.LogToStderr || cfg.Inetd {
		return logging.StderrSink(), nil
	}
	sink, err := logging.SyslogSink("sercd")
	if err != nil {
		return nil, fmt.Errorf("sercd: open syslog: %w", err)
	}
	return sink, nil
}
