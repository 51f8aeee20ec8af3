package commands

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/openfroyo/froyostack/pkg/artifact"
	"github.com/openfroyo/froyostack/pkg/changeset"
	"github.com/openfroyo/froyostack/pkg/deploy"
	"github.com/openfroyo/froyostack/pkg/policy"
	"github.com/openfroyo/froyostack/pkg/storage"
	"github.com/openfroyo/froyostack/pkg/stores"
)

var (
	bold    = color.New(color.Bold).SprintFunc()
	green   = color.New(color.FgGreen).SprintFunc()
	yellow  = color.New(color.FgYellow).SprintFunc()
	red     = color.New(color.FgRed).SprintFunc()
	faint   = color.New(color.Faint).SprintFunc()
	outcome = map[changeset.Outcome]func(...interface{}) string{
		changeset.OutcomeCreated:   green,
		changeset.OutcomeUpdated:   green,
		changeset.OutcomeNoChanges: faint,
		deploy.OutcomeDeleted:      yellow,
	}
)

func printReport(w io.Writer, r *deploy.Report) {
	if r == nil {
		return
	}
	paint, ok := outcome[r.Outcome]
	if !ok {
		paint = fmt.Sprint
	}
	fmt.Fprintf(w, "\n%s %s: %s\n", bold("Stack"), r.StackName, paint(string(r.Outcome)))
	if r.ChangeSet != "" {
		fmt.Fprintf(w, "  changeset  %s\n", r.ChangeSet)
	}
	if len(r.Artifacts) > 0 {
		fmt.Fprintf(w, "  bundles    %d packaged, %d uploaded\n", len(r.Artifacts), r.Uploaded)
	}
	if r.Site != nil {
		printSiteResult(w, r.Site)
	}
	printWarnings(w, r.Warnings)

	if len(r.Outputs) > 0 {
		fmt.Fprintf(w, "\n%s\n", bold("Outputs"))
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		for _, k := range slices.Sorted(maps.Keys(r.Outputs)) {
			fmt.Fprintf(tw, "  %s\t%s\n", k, r.Outputs[k])
		}
		_ = tw.Flush()
	}
}

func printSiteResult(w io.Writer, res *storage.Result) {
	fmt.Fprintf(w, "  site       %d uploaded (%s), %d unchanged\n",
		res.Uploaded, humanize.IBytes(uint64(res.Bytes)), res.Skipped)
}

func printWarnings(w io.Writer, warnings []policy.Violation) {
	for _, v := range warnings {
		fmt.Fprintf(w, "  %s %s", yellow("warning"), v.Message)
		if v.Resource != "" {
			fmt.Fprintf(w, " %s", faint("("+v.Resource+")"))
		}
		fmt.Fprintf(w, " %s\n", faint("["+v.Policy+"]"))
	}
}

func printPolicyResult(w io.Writer, res *policy.Result) {
	for _, v := range res.Violations {
		fmt.Fprintf(w, "  %s %s", red(string(v.Severity)), v.Message)
		if v.Resource != "" {
			fmt.Fprintf(w, " %s", faint("("+v.Resource+")"))
		}
		fmt.Fprintf(w, " %s\n", faint("["+v.Policy+"]"))
	}
	printWarnings(w, res.Warnings)

	status := green("passed")
	if !res.Allowed {
		status = red("failed")
	}
	fmt.Fprintf(w, "%d policies evaluated in %s: %s\n",
		len(res.EvaluatedPolicies), res.Duration.Round(time.Millisecond), status)
}

func printDescriptors(w io.Writer, descriptors []*artifact.Descriptor) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FUNCTION\tSIZE\tKEY")
	for _, d := range descriptors {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d.LogicalName, humanize.IBytes(uint64(d.Size)), d.RemoteKey)
	}
	_ = tw.Flush()
}

func printHistory(w io.Writer, deployments []*stores.Deployment) {
	if len(deployments) == 0 {
		fmt.Fprintln(w, "No deployments recorded")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tOPERATION\tSTATUS\tOUTCOME\tDURATION")
	for _, d := range deployments {
		duration := "-"
		if d.CompletedAt != nil {
			duration = d.CompletedAt.Sub(d.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			d.ID, humanize.Time(d.StartedAt), d.Operation, statusColor(d.Status), dash(d.Outcome), duration)
	}
	_ = tw.Flush()
}

func printDeployment(w io.Writer, d *stores.Deployment, events []*stores.StackEventRecord) {
	fmt.Fprintf(w, "%s %s\n", bold("Deployment"), d.ID)
	fmt.Fprintf(w, "  stack      %s (%s)\n", d.StackName, d.Environment)
	fmt.Fprintf(w, "  operation  %s\n", d.Operation)
	fmt.Fprintf(w, "  status     %s\n", statusColor(d.Status))
	if d.ChangeSet != "" {
		fmt.Fprintf(w, "  changeset  %s\n", d.ChangeSet)
	}
	if d.Error != nil {
		fmt.Fprintf(w, "  error      %s\n", red(*d.Error))
	}
	if len(events) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s\n", bold("Events"))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, e := range events {
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Format(time.TimeOnly), e.ResourceType, e.ResourceID, e.Status, e.Reason)
	}
	_ = tw.Flush()
}

func statusColor(s stores.DeploymentStatus) string {
	switch s {
	case stores.DeploymentStatusSucceeded:
		return green(string(s))
	case stores.DeploymentStatusFailed:
		return red(string(s))
	case stores.DeploymentStatusCancelled:
		return yellow(string(s))
	default:
		return string(s)
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
