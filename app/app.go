package app

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/honeycombio/beacon/config"
	"github.com/honeycombio/beacon/dispatch"
	"github.com/honeycombio/beacon/logger"
	"github.com/honeycombio/beacon/metrics"
	"github.com/honeycombio/beacon/types"
)

const (
	// maxLineSize bounds a single serialized envelope on the input.
	maxLineSize = 1024 * 1024
	lineBacklog = 256
	stopTimeout = 5 * time.Second
)

var appMetrics = []metrics.Metadata{
	{Name: "app_lines_read", Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "Number of envelopes read from the input"},
	{Name: "app_lines_invalid", Type: metrics.Counter, Unit: metrics.Dimensionless, Description: "Number of input lines that were not envelopes"},
}

// App reads newline-delimited envelopes from Input and tracks each one. At
// EOF it flushes and waits for the responses; Done is closed afterwards.
type App struct {
	Config     config.Config        `inject:""`
	Logger     logger.Logger        `inject:""`
	Metrics    metrics.Metrics      `inject:"metrics"`
	Dispatcher *dispatch.Dispatcher `inject:""`

	// Input is closed on Stop if it is an io.Closer other than stdin.
	Input io.Reader

	// Version is the build ID for beacon so that the running process may
	// report it.
	Version string

	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// OpenInput returns stdin for "-" or "", otherwise the named file.
func OpenInput(name string) (io.Reader, error) {
	if name == "" || name == "-" {
		return os.Stdin, nil
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("opening input: %w", err)
	}
	return f, nil
}

// Start launches ingestion and returns immediately. After Done is closed,
// Stop will be called on all dependencies then on App and the program will
// exit.
func (a *App) Start() error {
	a.Logger.Debug().WithString("version", a.Version).Logf("Starting up App...")
	for _, m := range appMetrics {
		a.Metrics.Register(m)
	}

	a.done = make(chan struct{})
	if a.Input == nil {
		close(a.done)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	g, ctx := errgroup.WithContext(ctx)
	lines := make(chan []byte, lineBacklog)

	g.Go(func() error {
		defer close(lines)
		return a.read(ctx, lines)
	})
	g.Go(func() error {
		return a.track(ctx, lines)
	})

	go func() {
		a.err = g.Wait()
		close(a.done)
	}()
	return nil
}

// Done is closed once the input is exhausted and its items delivered, or
// ingestion failed.
func (a *App) Done() <-chan struct{} {
	return a.done
}

// Err reports why ingestion ended; only meaningful after Done is closed.
func (a *App) Err() error {
	<-a.done
	return a.err
}

func (a *App) read(ctx context.Context, lines chan<- []byte) error {
	scanner := bufio.NewScanner(a.Input)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		select {
		case lines <- bytes.Clone(line):
		case <-ctx.Done():
			return nil
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("reading input: %w", err)
	}
	return nil
}

func (a *App) track(ctx context.Context, lines <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				a.Dispatcher.Flush()
				a.Dispatcher.Wait()
				read, _ := a.Metrics.Get("app_lines_read")
				a.Logger.Info().WithField("items", read).Logf("input exhausted; all batches answered")
				return nil
			}
			a.trackLine(line)
		}
	}
}

func (a *App) trackLine(line []byte) {
	if !gjson.ValidBytes(line) {
		a.invalid(line, "not valid JSON")
		return
	}
	if !gjson.GetBytes(line, "data.baseType").Exists() {
		a.invalid(line, "missing data.baseType")
		return
	}
	env, err := types.Parse(line)
	if err != nil {
		a.invalid(line, err.Error())
		return
	}
	a.Metrics.Increment("app_lines_read")
	a.Dispatcher.Track(env)
}

func (a *App) invalid(line []byte, reason string) {
	a.Metrics.Increment("app_lines_invalid")
	if len(line) > 80 {
		line = line[:80]
	}
	a.Logger.Warn().WithString("line", string(line)).Logf("skipping input line: %s", reason)
}

func (a *App) Stop() error {
	a.Logger.Debug().Logf("Shutting down App...")
	if a.cancel != nil {
		a.cancel()
	}
	if c, ok := a.Input.(io.Closer); ok && a.Input != os.Stdin {
		c.Close()
	}
	if a.done == nil {
		return nil
	}
	select {
	case <-a.done:
	case <-time.After(stopTimeout):
		a.Logger.Warn().Logf("input reader did not finish before shutdown")
	}
	return nil
}
