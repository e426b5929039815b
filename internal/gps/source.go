package gps

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultCommand samples ten gpsd lines per round.
const DefaultCommand = "gpspipe -w -n 10"

// Source produces gpsd reports. Read performs one bounded round and may be called again.
type Source interface {
	Read(ctx context.Context, apply func(Report)) error
}

// PipeSource runs a gpsd client command per round and parses its stdout.
type PipeSource struct {
	name   string
	args   []string
	logger *zap.Logger
}

// NewPipeSource builds a source from a command line such as "gpspipe -w -n 10".
func NewPipeSource(command string, logger *zap.Logger) (*PipeSource, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, fmt.Errorf("gps: empty command")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PipeSource{name: fields[0], args: fields[1:], logger: logger}, nil
}

// Read runs the command once and applies every TPV/SKY line it prints.
func (p *PipeSource) Read(ctx context.Context, apply func(Report)) error {
	cmd := exec.CommandContext(ctx, p.name, p.args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("gps: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("gps: failed to start %s: %w", p.name, err)
	}

	n := ScanReports(stdout, apply, p.logger)

	if err := cmd.Wait(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("gps: %s exited after %d reports: %w", p.name, n, err)
	}
	return nil
}

// ScanReports reads newline-delimited gpsd JSON from r and applies each known report.
// Unparseable lines are logged at debug and skipped. Returns the number applied.
func ScanReports(r io.Reader, apply func(Report), logger *zap.Logger) int {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)

	applied := 0
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		rep, ok, err := ParseReport(line)
		if err != nil {
			logger.Debug("skipping gps line", zap.Error(err))
			continue
		}
		if ok {
			apply(rep)
			applied++
		}
	}
	if err := sc.Err(); err != nil {
		logger.Debug("gps stream ended", zap.Error(err))
	}
	return applied
}

// Poll reads src into state every interval until ctx is cancelled.
// A failed round is logged and retried on the next interval.
func Poll(ctx context.Context, src Source, state *State, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := src.Read(ctx, state.Apply); err != nil {
			logger.Warn("gps read failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
