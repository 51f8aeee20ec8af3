package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/froyostack/pkg/engine"
)

const (
	// DefaultInterval is the time between event polls.
	DefaultInterval = 5 * time.Second

	// anchorLead is subtracted from the operation start event to form sinceTimestamp.
	anchorLead = 5 * time.Second

	// DefaultClockSkew bounds how far before the monitor start a stack-level
	// start event may be and still count as the operation being watched.
	DefaultClockSkew = time.Minute
)

// Monitor watches a stack's provisioning events until the current operation
// reaches a terminal status.
type Monitor struct {
	client      engine.InfraClient
	sink        engine.EventSink
	interval    time.Duration
	maxAttempts int
	clockSkew   time.Duration
	attach      bool
	now         func() time.Time
	logger      zerolog.Logger
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval sets the poll interval.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithMaxAttempts bounds the number of polls. Zero polls until a terminal status.
func WithMaxAttempts(n int) Option {
	return func(m *Monitor) {
		m.maxAttempts = n
	}
}

// WithClockSkew sets the tolerated difference between local and provider clocks.
func WithClockSkew(d time.Duration) Option {
	return func(m *Monitor) {
		m.clockSkew = d
	}
}

// WithAttach watches an operation that was started earlier, possibly by
// someone else. The newest start event for the operation anchors the watch
// regardless of its age.
func WithAttach() Option {
	return func(m *Monitor) {
		m.attach = true
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		m.now = now
	}
}

// New creates a monitor emitting every new event to sink. A nil sink discards events.
func New(client engine.InfraClient, sink engine.EventSink, logger zerolog.Logger, opts ...Option) *Monitor {
	if sink == nil {
		sink = engine.EventSinkFunc(func(context.Context, engine.StackEvent) error { return nil })
	}
	m := &Monitor{
		client:    client,
		sink:      sink,
		interval:  DefaultInterval,
		clockSkew: DefaultClockSkew,
		now:       time.Now,
		logger:    logger.With().Str("component", "monitor").Logger(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// state is owned by one Watch call.
type state struct {
	started         time.Time
	anchored        bool
	since           time.Time
	seen            map[string]struct{}
	lastStackStatus engine.StackStatus
	lastStackEvent  *engine.StackEvent
	firstFailure    *engine.StackEvent
}

// Watch polls until the operation on stackName succeeds, fails or ctx is done.
// Failures are returned as *engine.ProvisioningFailure carrying the failing
// resource and reason. For a delete, a stack that no longer exists is success.
func (m *Monitor) Watch(ctx context.Context, stackName string, op engine.Operation) error {
	st := &state{
		started: m.now(),
		seen:    make(map[string]struct{}),
	}
	logger := m.logger.With().Str("stack", stackName).Str("operation", string(op)).Logger()
	logger.Debug().Msg("Watching stack events")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		done, err := m.poll(ctx, stackName, op, st)
		if err != nil {
			return err
		}
		if done {
			logger.Info().Str("status", string(st.lastStackStatus)).Int("polls", attempt).Msg("Stack operation finished")
			return nil
		}
		if m.maxAttempts > 0 && attempt >= m.maxAttempts {
			return engine.NewTransientError(
				fmt.Sprintf("stack %s did not reach a terminal status after %d polls", stackName, attempt), nil).
				WithResource(stackName).WithOperation(string(op))
		}
		timer.Reset(m.interval)
	}
}

// poll runs one tick and reports whether the operation has succeeded.
func (m *Monitor) poll(ctx context.Context, stackName string, op engine.Operation, st *state) (bool, error) {
	events, err := m.client.DescribeStackEvents(ctx, stackName)
	if err != nil {
		if op == engine.OperationDelete && errors.Is(err, engine.ErrStackNotFound) {
			st.lastStackStatus = engine.StackDeleteComplete
			return true, nil
		}
		return false, fmt.Errorf("describe stack events for %s: %w", stackName, err)
	}

	// Provider order is newest first.
	chronological := make([]engine.StackEvent, len(events))
	for i, e := range events {
		chronological[len(events)-1-i] = e
	}

	if !st.anchored {
		since, ok := m.anchor(chronological, stackName, op, st.started)
		if !ok {
			m.logger.Debug().Str("stack", stackName).Msg("Operation start not recorded yet")
			return false, nil
		}
		st.since, st.anchored = since, true
	}

	for i := range chronological {
		e := chronological[i]
		if e.Timestamp.Before(st.since) {
			continue
		}
		if _, ok := st.seen[e.ID]; ok {
			continue
		}
		st.seen[e.ID] = struct{}{}

		if isStackEvent(e, stackName) {
			st.lastStackStatus = e.Status
			st.lastStackEvent = &e
		}
		if e.Status.IsFailure() && st.firstFailure == nil {
			st.firstFailure = &e
		}
		if err := m.sink.Emit(ctx, e); err != nil {
			m.logger.Warn().Err(err).Str("event", e.ID).Msg("Failed to emit stack event")
		}
	}

	switch {
	case st.firstFailure != nil:
		return false, failure(stackName, st.firstFailure)
	case st.lastStackStatus.IsFailedTerminal():
		return false, failure(stackName, st.lastStackEvent)
	case st.lastStackStatus == op.SuccessStatus():
		return true, nil
	default:
		return false, nil
	}
}

// anchor picks sinceTimestamp: 5s before the newest stack-level event that
// opens op. The newest one is used rather than the earliest so that a stack
// with several operations in its history anchors on the one just triggered.
// Unless attaching, the start event must follow the last stack-level terminal
// event recorded before the monitor started and lie within the clock skew
// allowance, and the anchor never reaches back to that terminal event. It
// reports false while no such event is listed yet.
func (m *Monitor) anchor(chronological []engine.StackEvent, stackName string, op engine.Operation, started time.Time) (time.Time, bool) {
	var boundary time.Time
	for i := len(chronological) - 1; i >= 0; i-- {
		e := chronological[i]
		if isStackEvent(e, stackName) && e.Status.IsTerminal() && !e.Timestamp.After(started) {
			boundary = e.Timestamp
			break
		}
	}

	for i := len(chronological) - 1; i >= 0; i-- {
		e := chronological[i]
		if !isStackEvent(e, stackName) || !op.StartedBy(e.Status) {
			continue
		}
		if !m.attach && (!e.Timestamp.After(boundary) || e.Timestamp.Before(started.Add(-m.clockSkew))) {
			break
		}
		since := e.Timestamp.Add(-anchorLead)
		if !m.attach && !since.After(boundary) {
			since = boundary.Add(time.Nanosecond)
		}
		return since, true
	}
	return time.Time{}, false
}

func isStackEvent(e engine.StackEvent, stackName string) bool {
	return e.ResourceType == engine.StackResourceType && e.ResourceID == stackName
}

func failure(stackName string, e *engine.StackEvent) *engine.ProvisioningFailure {
	return &engine.ProvisioningFailure{
		StackName:  stackName,
		ResourceID: e.ResourceID,
		Status:     string(e.Status),
		Reason:     e.Reason,
	}
}
