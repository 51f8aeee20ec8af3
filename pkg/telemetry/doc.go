// Package telemetry instruments deployments with structured logging (zerolog),
// tracing (OpenTelemetry), metrics (Prometheus) and an in-process event
// publisher.
//
// Initialize once in the CLI and hand the pieces to library packages:
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	logger := tel.Logger.NewComponentLogger("deploy").WithStack("web")
//	m := monitor.New(client, tel.Events, logger.Zerolog())
//
// Each deployment phase runs inside a Phase so failures are recorded on the
// span and counted by error class and code:
//
//	phase := tel.StartPhase(ctx, "converge", telemetry.AttrStackName.String("web"))
//	err := orchestrator.Converge(phase.Ctx, identity, req)
//	phase.End(err)
//
// The EventPublisher implements engine.EventSink, so it can be handed directly
// to a stack monitor to republish provisioning events to subscribers.
package telemetry
