// Command chargebridge runs the host-side bridge between an EV Supply
// Equipment controller and one or more ChargeBridge microcontrollers:
// discovery, firmware version checks, and the bus of sub-bridges
// (board-support translation, GPIO passthrough, CAN/serial/PLC
// tunnels) described by a YAML configuration file.
//
// Grounded on the teacher's cmd/canopen_http/main.go: a bare flag-based
// CLI with no framework, a single setup phase, then a blocking run loop
// until the process is asked to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/chargebridge/hostbridge/pkg/config"
	"github.com/chargebridge/hostbridge/pkg/session"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to the bridge YAML configuration file (required)")
	forceFwUpdate := flag.Bool("force-fw-update", false, "upload the configured firmware image even if the connected ChargeBridge reports an equal or newer version")
	verbose := flag.Bool("verbose", false, "enable debug-level logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if *configPath == "" {
		log.Error("config: -config is required")
		return 1
	}

	sessions, err := loadSessions(*configPath, *forceFwUpdate)
	if err != nil {
		log.Error("config: load failed", "err", err)
		return 1
	}

	bridges := make([]*session.Bridge, 0, len(sessions))
	for _, sess := range sessions {
		b, err := session.New(log, sess)
		if err != nil {
			log.Error("session: construction failed", "name", sess.ChargeBridge.Name, "err", err)
			return 1
		}
		bridges = append(bridges, b)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	errs := make([]error, len(bridges))
	for i, b := range bridges {
		wg.Add(1)
		go func(i int, b *session.Bridge) {
			defer wg.Done()
			errs[i] = b.Run(ctx)
		}(i, b)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			log.Error("session: exited with error", "err", err)
			return 1
		}
	}
	return 0
}

// loadSessions reads and expands the configuration file, applying
// -force-fw-update as an override of each session's fw_update_on_start.
func loadSessions(path string, forceFwUpdate bool) ([]*config.Session, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	sessions, err := config.Load(raw)
	if err != nil {
		return nil, err
	}
	if forceFwUpdate {
		for _, sess := range sessions {
			sess.ChargeBridge.FwUpdateOnStart = true
		}
	}
	return sessions, nil
}
