package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/froyostack/pkg/engine"
)

// Event is a deployment lifecycle notification.
type Event struct {
	ID           string                 `json:"id"`
	Timestamp    time.Time              `json:"timestamp"`
	Type         string                 `json:"type"`
	DeploymentID string                 `json:"deployment_id,omitempty"`
	StackName    string                 `json:"stack_name,omitempty"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	Message      string                 `json:"message"`
	Level        string                 `json:"level"`
	Data         map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeDeploymentStarted   = "deployment.started"
	EventTypeDeploymentCompleted = "deployment.completed"
	EventTypeDeploymentFailed    = "deployment.failed"
	EventTypeStackEvent          = "stack.event"
	EventTypeArtifactUploaded    = "artifact.uploaded"
	EventTypePolicyViolation     = "policy.violation"
)

// Event levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber handles events. Subscribers are called in publish order.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be delivered.
type EventFilter func(event Event) bool

// EventPublisher fans events out to subscribers.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a publisher. With EnableAsync events are delivered
// from a background goroutine; otherwise Publish delivers inline.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	ctx, cancel := context.WithCancel(context.Background())
	ep := &EventPublisher{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}
	if !cfg.Enabled {
		return ep, nil
	}

	if cfg.EnableAsync {
		ep.buffer = make(chan Event, cfg.BufferSize)
		ep.wg.Add(1)
		go ep.processEvents()
	}
	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Level == "" {
		event.Level = EventLevelInfo
	}

	if !ep.config.EnableAsync {
		ep.deliverEvent(event)
		return nil
	}

	select {
	case <-ep.ctx.Done():
		return fmt.Errorf("event publisher stopped")
	default:
	}
	select {
	case ep.buffer <- event:
		return nil
	default:
		return fmt.Errorf("event buffer full, event %s dropped", event.Type)
	}
}

// PublishDeploymentStarted publishes a deployment started event.
func (ep *EventPublisher) PublishDeploymentStarted(deploymentID, stackName, operation string) error {
	return ep.Publish(Event{
		Type:         EventTypeDeploymentStarted,
		DeploymentID: deploymentID,
		StackName:    stackName,
		Message:      fmt.Sprintf("%s of %s started", operation, stackName),
		Data:         map[string]interface{}{"operation": operation},
	})
}

// PublishDeploymentCompleted publishes a deployment completed event.
func (ep *EventPublisher) PublishDeploymentCompleted(deploymentID, stackName, outcome string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:         EventTypeDeploymentCompleted,
		DeploymentID: deploymentID,
		StackName:    stackName,
		Message:      fmt.Sprintf("%s finished: %s", stackName, outcome),
		Data: map[string]interface{}{
			"outcome":     outcome,
			"duration_ms": duration.Milliseconds(),
		},
	})
}

// PublishDeploymentFailed publishes a deployment failed event.
func (ep *EventPublisher) PublishDeploymentFailed(deploymentID, stackName string, err error) error {
	class, code := engine.Classify(err)
	return ep.Publish(Event{
		Type:         EventTypeDeploymentFailed,
		DeploymentID: deploymentID,
		StackName:    stackName,
		Message:      err.Error(),
		Level:        EventLevelError,
		Data:         map[string]interface{}{"class": string(class), "code": code},
	})
}

// PublishArtifactUploaded publishes an uploaded bundle.
func (ep *EventPublisher) PublishArtifactUploaded(deploymentID, key string, size int64) error {
	return ep.Publish(Event{
		Type:         EventTypeArtifactUploaded,
		DeploymentID: deploymentID,
		ResourceID:   key,
		Message:      "uploaded " + key,
		Data:         map[string]interface{}{"size": size},
	})
}

// PublishPolicyViolation publishes a template policy finding.
func (ep *EventPublisher) PublishPolicyViolation(stackName, resourceID, policyName, message, severity string) error {
	level := EventLevelWarning
	if severity == "error" {
		level = EventLevelError
	}
	return ep.Publish(Event{
		Type:       EventTypePolicyViolation,
		StackName:  stackName,
		ResourceID: resourceID,
		Message:    message,
		Level:      level,
		Data:       map[string]interface{}{"policy": policyName},
	})
}

// Emit implements engine.EventSink by republishing stack events.
func (ep *EventPublisher) Emit(_ context.Context, e engine.StackEvent) error {
	level := EventLevelInfo
	if e.Status.IsFailure() {
		level = EventLevelError
	}
	return ep.Publish(Event{
		ID:         e.ID,
		Timestamp:  e.Timestamp,
		Type:       EventTypeStackEvent,
		StackName:  e.StackName,
		ResourceID: e.ResourceID,
		Message:    e.Reason,
		Level:      level,
		Data: map[string]interface{}{
			"status":        string(e.Status),
			"resource_type": e.ResourceType,
		},
	})
}

// Subscribe adds a subscriber. A nil filter receives every event.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	for {
		select {
		case event := <-ep.buffer:
			ep.deliverEvent(event)
		case <-ep.ctx.Done():
			for {
				select {
				case event := <-ep.buffer:
					ep.deliverEvent(event)
				default:
					return
				}
			}
		}
	}
}

func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown delivers buffered events and stops the publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel allows events at minLevel or above.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}
	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType allows events of the given types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}
	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByDeploymentID allows events for one deployment.
func FilterByDeploymentID(deploymentID string) EventFilter {
	return func(event Event) bool {
		return event.DeploymentID == deploymentID
	}
}
