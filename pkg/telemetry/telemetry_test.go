package telemetry

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/openfroyo/froyostack/pkg/engine"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, true},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"otlp without endpoint", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "otlp" }, true},
		{"unknown exporter", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "jaeger" }, true},
		{"sampling out of range", func(c *Config) { c.Tracing.SamplingRate = 2 }, true},
		{"empty async buffer", func(c *Config) { c.Events.BufferSize = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LoggingConfig{Level: "debug", Format: "json"}, &buf)

	l := logger.NewComponentLogger("deploy").WithStack("web").WithDeploymentID("d-1").WithChangeset("web-cs")
	zl := l.Zerolog()
	zl.Info().Msg("converging")

	out := buf.String()
	for _, want := range []string{`"component":"deploy"`, `"stack":"web"`, `"deployment_id":"d-1"`, `"changeset":"web-cs"`} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %s in %s", want, out)
		}
	}

	ctx := l.WithContext(context.Background())
	if FromContext(ctx) != l {
		t.Error("Expected logger to round-trip through context")
	}
}

func TestMetricsHandler(t *testing.T) {
	m, err := NewMetrics(DefaultConfig().Metrics)
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}

	m.RecordDeploymentStarted()
	m.RecordDeploymentCompleted("update", "updated", 90*time.Second)
	m.RecordChangeset("UPDATE", "no-changes")
	m.RecordStackEvent("UPDATE_COMPLETE")
	m.RecordUploads(UploadKindAsset, 3, 1, 2048)
	m.RecordPackaging(2, time.Second)
	m.RecordError("permanent", engine.ErrCodeProvisioningFailed)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`froyo_deployments_total{operation="update",outcome="updated"} 1`,
		`froyo_uploads_total{kind="asset"} 3`,
		`froyo_errors_total{class="permanent",code="PROVISIONING_FAILED"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected %q in metrics output", want)
		}
	}
}

func TestMetricsDisabledIsNoop(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{})
	if err != nil {
		t.Fatal(err)
	}
	m.RecordDeploymentCompleted("deploy", "created", time.Second)
	m.RecordUploads(UploadKindArtifact, 1, 0, 10)

	var nilMetrics *Metrics
	nilMetrics.RecordError("transient", "X")

	if n, _ := m.Gather(); n != 0 {
		t.Errorf("Expected no metric families, got %d", n)
	}
}

func TestEventPublisherOrder(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 16, EnableAsync: true})
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var got []string
	ep.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e.ID)
	}, FilterByType(EventTypeStackEvent))

	for _, id := range []string{"e1", "e2", "e3"} {
		if err := ep.Emit(context.Background(), engine.StackEvent{ID: id, StackName: "web", Status: engine.StackUpdateInProgress}); err != nil {
			t.Fatalf("Emit failed: %v", err)
		}
	}
	if err := ep.PublishDeploymentStarted("d-1", "web", "deploy"); err != nil {
		t.Fatal(err)
	}

	if err := ep.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if strings.Join(got, ",") != "e1,e2,e3" {
		t.Errorf("Expected stack events in order, got %v", got)
	}
	if err := ep.Publish(Event{Type: EventTypeStackEvent}); err == nil {
		t.Error("Expected publish after shutdown to fail")
	}
}

func TestEventPublisherSync(t *testing.T) {
	ep, _ := NewEventPublisher(EventsConfig{Enabled: true})
	var levels []string
	ep.Subscribe(func(e Event) { levels = append(levels, e.Level) }, FilterByLevel(EventLevelWarning))

	_ = ep.PublishDeploymentFailed("d-1", "web", &engine.ProvisioningFailure{StackName: "web", ResourceID: "web"})
	_ = ep.PublishDeploymentCompleted("d-2", "web", "updated", time.Second)
	_ = ep.PublishPolicyViolation("web", "UsersRole", "iam_wildcard", "wildcard action", "warning")

	if strings.Join(levels, ",") != "error,warning" {
		t.Errorf("Expected error and warning events only, got %v", levels)
	}

	var ids []string
	ep.Subscribe(func(e Event) { ids = append(ids, e.DeploymentID) }, FilterByDeploymentID("d-3"))
	_ = ep.PublishArtifactUploaded("d-3", "functions/users-abc.zip", 1024)
	_ = ep.PublishArtifactUploaded("d-4", "functions/orders-def.zip", 2048)
	if strings.Join(ids, ",") != "d-3" {
		t.Errorf("Expected only d-3 events, got %v", ids)
	}
}

func TestPhaseEnd(t *testing.T) {
	tel := Nop()
	phase := tel.StartPhase(context.Background(), "converge", AttrStackName.String("web"))
	if TraceID(phase.Ctx) == "" {
		t.Error("Expected phase context to carry a span")
	}
	phase.End(errors.New("boom"))
	tel.StartPhase(context.Background(), "watch").End(nil)

	if err := tel.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
	if FromTelemetryContext(tel.WithContext(context.Background())) != tel {
		t.Error("Expected telemetry to round-trip through context")
	}
}
