package monitor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/froyostack/pkg/engine"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// scriptedClient returns one event batch per poll. Batches hold events in
// chronological order and are reversed to match the provider's newest-first order.
type scriptedClient struct {
	engine.InfraClient

	mu      sync.Mutex
	batches [][]engine.StackEvent
	errs    []error
	polls   int
}

func (c *scriptedClient) DescribeStackEvents(_ context.Context, _ string) ([]engine.StackEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.polls
	c.polls++
	if i < len(c.errs) && c.errs[i] != nil {
		return nil, c.errs[i]
	}
	if i >= len(c.batches) {
		i = len(c.batches) - 1
	}
	batch := c.batches[i]
	out := make([]engine.StackEvent, len(batch))
	for j, e := range batch {
		out[len(batch)-1-j] = e
	}
	return out, nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []engine.StackEvent
}

func (r *recordingSink) Emit(_ context.Context, e engine.StackEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingSink) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.ID
	}
	return out
}

func stackEvent(id string, at time.Duration, status engine.StackStatus, reason string) engine.StackEvent {
	return engine.StackEvent{
		ID:           id,
		StackName:    "web",
		Timestamp:    t0.Add(at),
		ResourceType: engine.StackResourceType,
		ResourceID:   "web",
		Status:       status,
		Reason:       reason,
	}
}

func resourceEvent(id string, at time.Duration, resource string, status engine.StackStatus, reason string) engine.StackEvent {
	return engine.StackEvent{
		ID:           id,
		StackName:    "web",
		Timestamp:    t0.Add(at),
		ResourceType: "AWS::Lambda::Function",
		ResourceID:   resource,
		Status:       status,
		Reason:       reason,
	}
}

func newTestMonitor(client engine.InfraClient, sink engine.EventSink, opts ...Option) *Monitor {
	opts = append([]Option{WithInterval(time.Millisecond), WithClock(func() time.Time { return t0 })}, opts...)
	return New(client, sink, zerolog.Nop(), opts...)
}

func TestWatch_UpdateSucceeds(t *testing.T) {
	previous := []engine.StackEvent{
		stackEvent("old-1", -2*time.Hour, engine.StackUpdateInProgress, ""),
		stackEvent("old-2", -2*time.Hour+time.Minute, engine.StackUpdateComplete, ""),
	}
	started := append(append([]engine.StackEvent{}, previous...),
		stackEvent("e1", time.Second, engine.StackUpdateInProgress, "User Initiated"),
		resourceEvent("e2", 2*time.Second, "UsersFunction", engine.StackUpdateInProgress, ""),
	)
	finished := append(append([]engine.StackEvent{}, started...),
		resourceEvent("e3", 10*time.Second, "UsersFunction", engine.StackUpdateComplete, ""),
		stackEvent("e4", 12*time.Second, engine.StackUpdateComplete, ""),
	)

	client := &scriptedClient{batches: [][]engine.StackEvent{started, started, finished}}
	sink := &recordingSink{}

	if err := newTestMonitor(client, sink).Watch(context.Background(), "web", engine.OperationUpdate); err != nil {
		t.Fatalf("Expected success, got %v", err)
	}

	want := []string{"e1", "e2", "e3", "e4"}
	if got := sink.ids(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Expected events %v in order without repeats, got %v", want, got)
	}
	if client.polls != 3 {
		t.Errorf("Expected 3 polls, got %d", client.polls)
	}
}

func TestWatch_RollbackReportsStack(t *testing.T) {
	events := []engine.StackEvent{
		stackEvent("e1", 0, engine.StackUpdateInProgress, ""),
		stackEvent("e2", 5*time.Second, engine.StackUpdateRollbackInProgress, "The following resource(s) failed to update: [UsersFunction]."),
		stackEvent("e3", 20*time.Second, engine.StackUpdateRollbackComplete, ""),
	}
	client := &scriptedClient{batches: [][]engine.StackEvent{events}}

	err := newTestMonitor(client, nil).Watch(context.Background(), "web", engine.OperationUpdate)

	var pf *engine.ProvisioningFailure
	if !errors.As(err, &pf) {
		t.Fatalf("Expected ProvisioningFailure, got %v", err)
	}
	if pf.ResourceID != "web" {
		t.Errorf("Expected failing resource web, got %s", pf.ResourceID)
	}
	if !strings.Contains(pf.Reason, "failed to update") {
		t.Errorf("Expected reason text, got %q", pf.Reason)
	}
}

func TestWatch_RollbackCompleteWithoutMarker(t *testing.T) {
	events := []engine.StackEvent{
		stackEvent("e1", 0, engine.StackCreateInProgress, ""),
		stackEvent("e2", 20*time.Second, engine.StackRollbackComplete, "Rollback requested by user."),
	}
	client := &scriptedClient{batches: [][]engine.StackEvent{events}}

	err := newTestMonitor(client, nil).Watch(context.Background(), "web", engine.OperationCreate)

	var pf *engine.ProvisioningFailure
	if !errors.As(err, &pf) {
		t.Fatalf("Expected ProvisioningFailure, got %v", err)
	}
	if pf.ResourceID != "web" || pf.Status != string(engine.StackRollbackComplete) || pf.Reason != "Rollback requested by user." {
		t.Errorf("Unexpected failure %+v", pf)
	}
}

func TestWatch_FirstFailureWins(t *testing.T) {
	events := []engine.StackEvent{
		stackEvent("e1", 0, engine.StackCreateInProgress, ""),
		resourceEvent("e2", time.Second, "UsersFunction", "CREATE_FAILED", "Runtime not supported"),
		resourceEvent("e3", 2*time.Second, "OrdersFunction", "CREATE_FAILED", "Resource creation cancelled"),
	}
	client := &scriptedClient{batches: [][]engine.StackEvent{events}}
	sink := &recordingSink{}

	err := newTestMonitor(client, sink).Watch(context.Background(), "web", engine.OperationCreate)

	var pf *engine.ProvisioningFailure
	if !errors.As(err, &pf) {
		t.Fatalf("Expected ProvisioningFailure, got %v", err)
	}
	if pf.ResourceID != "UsersFunction" || pf.Reason != "Runtime not supported" {
		t.Errorf("Expected first failure to be reported, got %+v", pf)
	}
	if len(sink.ids()) != 3 {
		t.Errorf("Expected every event of the batch to be emitted, got %v", sink.ids())
	}
}

func TestWatch_AnchorsToCurrentOperation(t *testing.T) {
	events := []engine.StackEvent{
		stackEvent("old-1", -30*time.Second, engine.StackUpdateInProgress, ""),
		resourceEvent("old-2", -25*time.Second, "UsersFunction", "UPDATE_FAILED", "old failure"),
		stackEvent("old-3", -20*time.Second, engine.StackUpdateRollbackComplete, ""),
		stackEvent("e1", 10*time.Second, engine.StackUpdateInProgress, ""),
		resourceEvent("e0", 6*time.Second, "Bucket", engine.StackUpdateComplete, ""),
		stackEvent("e2", 30*time.Second, engine.StackUpdateComplete, ""),
	}
	client := &scriptedClient{batches: [][]engine.StackEvent{events}}
	sink := &recordingSink{}

	if err := newTestMonitor(client, sink).Watch(context.Background(), "web", engine.OperationUpdate); err != nil {
		t.Fatalf("Expected earlier operation to be ignored, got %v", err)
	}
	if got := strings.Join(sink.ids(), ","); got != "e1,e0,e2" {
		t.Errorf("Expected only events from 5s before the operation start, got %s", got)
	}
}

func TestWatch_WaitsForOperationStart(t *testing.T) {
	stale := []engine.StackEvent{
		stackEvent("old-1", -3*time.Hour, engine.StackUpdateInProgress, ""),
		stackEvent("old-2", -3*time.Hour+time.Minute, engine.StackUpdateComplete, ""),
	}
	current := append(append([]engine.StackEvent{}, stale...),
		stackEvent("e1", 2*time.Second, engine.StackUpdateInProgress, ""),
		stackEvent("e2", 9*time.Second, engine.StackUpdateComplete, ""),
	)
	client := &scriptedClient{batches: [][]engine.StackEvent{stale, current}}
	sink := &recordingSink{}

	if err := newTestMonitor(client, sink).Watch(context.Background(), "web", engine.OperationUpdate); err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if got := strings.Join(sink.ids(), ","); got != "e1,e2" {
		t.Errorf("Expected stale operation to be ignored, got %s", got)
	}
	if client.polls != 2 {
		t.Errorf("Expected stale completion not to resolve the first poll, got %d polls", client.polls)
	}
}

func TestWatch_DeleteIgnoresRecentUpdate(t *testing.T) {
	previous := []engine.StackEvent{
		stackEvent("old-1", -40*time.Second, engine.StackUpdateInProgress, ""),
		stackEvent("old-2", -20*time.Second, engine.StackUpdateComplete, ""),
	}
	deleting := append(append([]engine.StackEvent{}, previous...),
		stackEvent("e1", time.Second, engine.StackDeleteInProgress, "User Initiated"),
	)
	deleted := append(append([]engine.StackEvent{}, deleting...),
		stackEvent("e2", 20*time.Second, engine.StackDeleteComplete, ""),
	)
	client := &scriptedClient{batches: [][]engine.StackEvent{previous, deleting, deleted}}
	sink := &recordingSink{}

	if err := newTestMonitor(client, sink).Watch(context.Background(), "web", engine.OperationDelete); err != nil {
		t.Fatalf("Expected delete to succeed, got %v", err)
	}
	if client.polls != 3 {
		t.Errorf("Expected the delete to finish on DELETE_COMPLETE, got %d polls", client.polls)
	}
	if got := strings.Join(sink.ids(), ","); got != "e1,e2" {
		t.Errorf("Expected only delete events, got %s", got)
	}
}

func TestWatch_UpdateIgnoresRecentRollback(t *testing.T) {
	previous := []engine.StackEvent{
		stackEvent("old-1", -40*time.Second, engine.StackUpdateInProgress, ""),
		resourceEvent("old-2", -35*time.Second, "UsersFunction", "UPDATE_FAILED", "invalid runtime"),
		stackEvent("old-3", -20*time.Second, engine.StackUpdateRollbackComplete, ""),
	}
	current := append(append([]engine.StackEvent{}, previous...),
		stackEvent("e1", 2*time.Second, engine.StackUpdateInProgress, "User Initiated"),
		stackEvent("e2", 15*time.Second, engine.StackUpdateComplete, ""),
	)
	client := &scriptedClient{batches: [][]engine.StackEvent{previous, current}}

	if err := newTestMonitor(client, nil).Watch(context.Background(), "web", engine.OperationUpdate); err != nil {
		t.Fatalf("Expected the previous rollback to be ignored, got %v", err)
	}
}

func TestWatch_SuccessMustMatchOperation(t *testing.T) {
	events := []engine.StackEvent{
		stackEvent("e1", time.Second, engine.StackUpdateInProgress, ""),
		stackEvent("e2", 5*time.Second, engine.StackDeleteComplete, ""),
	}
	client := &scriptedClient{batches: [][]engine.StackEvent{events}}

	err := newTestMonitor(client, nil, WithMaxAttempts(3)).Watch(context.Background(), "web", engine.OperationUpdate)
	if !engine.IsTransient(err) {
		t.Fatalf("Expected DELETE_COMPLETE not to resolve an update, got %v", err)
	}
}

func TestAnchor(t *testing.T) {
	events := []engine.StackEvent{
		stackEvent("e1", -90*time.Second, engine.StackUpdateInProgress, ""),
		resourceEvent("e2", -80*time.Second, "UsersFunction", engine.StackUpdateInProgress, ""),
	}

	justFinished := []engine.StackEvent{
		stackEvent("p1", -30*time.Second, engine.StackUpdateInProgress, ""),
		stackEvent("p2", -3*time.Second, engine.StackUpdateComplete, ""),
		stackEvent("e1", -1*time.Second, engine.StackDeleteInProgress, ""),
	}

	tests := []struct {
		name   string
		events []engine.StackEvent
		opts   []Option
		op     engine.Operation
		want   time.Time
		wantOK bool
	}{
		{name: "outside default skew", op: engine.OperationUpdate},
		{name: "wider skew", opts: []Option{WithClockSkew(2 * time.Minute)}, op: engine.OperationUpdate, want: t0.Add(-95 * time.Second), wantOK: true},
		{name: "attach", opts: []Option{WithAttach()}, op: engine.OperationUpdate, want: t0.Add(-95 * time.Second), wantOK: true},
		{name: "other operation", opts: []Option{WithAttach()}, op: engine.OperationDelete},
		{name: "stops short of previous terminal event", events: justFinished, op: engine.OperationDelete, want: t0.Add(-3*time.Second + time.Nanosecond), wantOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evs := events
			if tt.events != nil {
				evs = tt.events
			}
			got, ok := newTestMonitor(&scriptedClient{}, nil, tt.opts...).anchor(evs, "web", tt.op, t0)
			if ok != tt.wantOK {
				t.Fatalf("anchor() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && !got.Equal(tt.want) {
				t.Errorf("anchor() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWatch_DeletePurgedIsSuccess(t *testing.T) {
	deleting := []engine.StackEvent{stackEvent("e1", 0, engine.StackDeleteInProgress, "")}
	client := &scriptedClient{
		batches: [][]engine.StackEvent{deleting, deleting},
		errs:    []error{nil, fmt.Errorf("describe: %w", engine.ErrStackNotFound)},
	}

	if err := newTestMonitor(client, nil).Watch(context.Background(), "web", engine.OperationDelete); err != nil {
		t.Fatalf("Expected purged stack to resolve a delete, got %v", err)
	}
}

func TestWatch_NotFoundDuringUpdateFails(t *testing.T) {
	client := &scriptedClient{
		batches: [][]engine.StackEvent{nil},
		errs:    []error{engine.ErrStackNotFound},
	}

	err := newTestMonitor(client, nil).Watch(context.Background(), "web", engine.OperationUpdate)
	if !errors.Is(err, engine.ErrStackNotFound) {
		t.Fatalf("Expected ErrStackNotFound, got %v", err)
	}
}

func TestWatch_DescribeErrorPropagates(t *testing.T) {
	boom := errors.New("throttled")
	client := &scriptedClient{batches: [][]engine.StackEvent{nil}, errs: []error{boom}}

	err := newTestMonitor(client, nil).Watch(context.Background(), "web", engine.OperationDelete)
	if !errors.Is(err, boom) {
		t.Fatalf("Expected describe error, got %v", err)
	}
}

func TestWatch_DeleteFailed(t *testing.T) {
	events := []engine.StackEvent{
		stackEvent("e1", 0, engine.StackDeleteInProgress, ""),
		stackEvent("e2", 3*time.Second, engine.StackDeleteFailed, "bucket not empty"),
	}
	client := &scriptedClient{batches: [][]engine.StackEvent{events}}

	err := newTestMonitor(client, nil).Watch(context.Background(), "web", engine.OperationDelete)
	var pf *engine.ProvisioningFailure
	if !errors.As(err, &pf) || pf.Reason != "bucket not empty" {
		t.Fatalf("Expected DELETE_FAILED to reject, got %v", err)
	}
}

func TestWatch_MaxAttempts(t *testing.T) {
	events := []engine.StackEvent{stackEvent("e1", 0, engine.StackUpdateInProgress, "")}
	client := &scriptedClient{batches: [][]engine.StackEvent{events}}

	err := newTestMonitor(client, nil, WithMaxAttempts(3)).Watch(context.Background(), "web", engine.OperationUpdate)
	if !engine.IsTransient(err) {
		t.Fatalf("Expected transient timeout error, got %v", err)
	}
	if client.polls != 3 {
		t.Errorf("Expected 3 polls, got %d", client.polls)
	}
}

func TestWatch_Cancelled(t *testing.T) {
	events := []engine.StackEvent{stackEvent("e1", 0, engine.StackUpdateInProgress, "")}
	client := &scriptedClient{batches: [][]engine.StackEvent{events}}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := New(client, nil, zerolog.Nop(), WithInterval(10*time.Millisecond), WithClock(func() time.Time { return t0 })).
		Watch(ctx, "web", engine.OperationUpdate)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected context error, got %v", err)
	}
}

func TestConsoleSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewConsoleSink(&buf)

	err := MultiSink{sink, nil}.Emit(context.Background(),
		resourceEvent("e1", 0, "UsersFunction", "CREATE_FAILED", "Runtime not supported"))
	if err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"CREATE_FAILED", "AWS::Lambda::Function", "UsersFunction", "Runtime not supported"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in %q", want, out)
		}
	}
}

func TestMultiSink_JoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	rec := &recordingSink{}
	ms := MultiSink{
		engine.EventSinkFunc(func(context.Context, engine.StackEvent) error { return boom }),
		rec,
	}
	err := ms.Emit(context.Background(), stackEvent("e1", 0, engine.StackCreateInProgress, ""))
	if !errors.Is(err, boom) {
		t.Errorf("Expected joined error, got %v", err)
	}
	if len(rec.ids()) != 1 {
		t.Error("Expected later sinks to still receive the event")
	}
}
