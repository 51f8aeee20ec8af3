package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/openfroyo/froyostack/pkg/engine"
)

// ConsoleSink prints one colored line per stack event.
type ConsoleSink struct {
	mu  sync.Mutex
	out io.Writer

	ok       *color.Color
	failed   *color.Color
	progress *color.Color
}

// NewConsoleSink creates a sink writing to out.
func NewConsoleSink(out io.Writer) *ConsoleSink {
	return &ConsoleSink{
		out:      out,
		ok:       color.New(color.FgGreen),
		failed:   color.New(color.FgRed, color.Bold),
		progress: color.New(color.FgYellow),
	}
}

// Emit writes the event.
func (c *ConsoleSink) Emit(_ context.Context, e engine.StackEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := string(e.Status)
	switch {
	case e.Status.IsFailure() || strings.Contains(status, "ROLLBACK"):
		status = c.failed.Sprint(status)
	case e.Status.IsInProgress():
		status = c.progress.Sprint(status)
	case strings.HasSuffix(status, "_COMPLETE"):
		status = c.ok.Sprint(status)
	}

	line := fmt.Sprintf("%s  %-40s  %-36s  %s",
		e.Timestamp.Local().Format("15:04:05"), status, e.ResourceType, e.ResourceID)
	if e.Reason != "" {
		line += "  " + e.Reason
	}
	_, err := fmt.Fprintln(c.out, line)
	return err
}

// MultiSink fans events out to several sinks. Every sink sees every event;
// errors are joined.
type MultiSink []engine.EventSink

// Emit forwards e to each sink.
func (ms MultiSink) Emit(ctx context.Context, e engine.StackEvent) error {
	var errs []error
	for _, s := range ms {
		if s == nil {
			continue
		}
		if err := s.Emit(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
