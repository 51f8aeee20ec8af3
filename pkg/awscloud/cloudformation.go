package awscloud

import (
	"context"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"

	"github.com/openfroyo/froyostack/pkg/engine"
)

// CloudFormationAPI is the subset of the CloudFormation client used by the adapter.
type CloudFormationAPI interface {
	cloudformation.ListStacksAPIClient
	DescribeStacks(ctx context.Context, in *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error)
	GetTemplate(ctx context.Context, in *cloudformation.GetTemplateInput, optFns ...func(*cloudformation.Options)) (*cloudformation.GetTemplateOutput, error)
	CreateStack(ctx context.Context, in *cloudformation.CreateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error)
	UpdateStack(ctx context.Context, in *cloudformation.UpdateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.UpdateStackOutput, error)
	DeleteStack(ctx context.Context, in *cloudformation.DeleteStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DeleteStackOutput, error)
	CreateChangeSet(ctx context.Context, in *cloudformation.CreateChangeSetInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateChangeSetOutput, error)
	DescribeChangeSet(ctx context.Context, in *cloudformation.DescribeChangeSetInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeChangeSetOutput, error)
	ExecuteChangeSet(ctx context.Context, in *cloudformation.ExecuteChangeSetInput, optFns ...func(*cloudformation.Options)) (*cloudformation.ExecuteChangeSetOutput, error)
	DescribeStackEvents(ctx context.Context, in *cloudformation.DescribeStackEventsInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStackEventsOutput, error)
}

// capabilities acknowledged on every submission; function fragments create IAM roles.
var capabilities = []cfntypes.Capability{
	cfntypes.CapabilityCapabilityIam,
	cfntypes.CapabilityCapabilityNamedIam,
	cfntypes.CapabilityCapabilityAutoExpand,
}

// CloudFormation implements engine.InfraClient.
type CloudFormation struct {
	api CloudFormationAPI
}

var _ engine.InfraClient = (*CloudFormation)(nil)

// NewCloudFormation wraps a CloudFormation client.
func NewCloudFormation(api CloudFormationAPI) *CloudFormation {
	return &CloudFormation{api: api}
}

func (c *CloudFormation) ListStacks(ctx context.Context) ([]engine.StackSummary, error) {
	var out []engine.StackSummary
	p := cloudformation.NewListStacksPaginator(c.api, &cloudformation.ListStacksInput{})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, translateError("list-stacks", "", err)
		}
		for _, s := range page.StackSummaries {
			out = append(out, engine.StackSummary{
				StackName: aws.ToString(s.StackName),
				StackID:   aws.ToString(s.StackId),
				Status:    engine.StackStatus(s.StackStatus),
			})
		}
	}
	return out, nil
}

func (c *CloudFormation) DescribeStack(ctx context.Context, stackName string) (*engine.StackDescription, error) {
	out, err := c.api.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{StackName: aws.String(stackName)})
	if err != nil {
		return nil, translateError("describe-stack", stackName, err)
	}
	if len(out.Stacks) == 0 {
		return nil, translateError("describe-stack", stackName, engine.ErrStackNotFound)
	}
	return toStackDescription(out.Stacks[0]), nil
}

func (c *CloudFormation) GetTemplate(ctx context.Context, stackName string) (string, error) {
	out, err := c.api.GetTemplate(ctx, &cloudformation.GetTemplateInput{StackName: aws.String(stackName)})
	if err != nil {
		return "", translateError("get-template", stackName, err)
	}
	return aws.ToString(out.TemplateBody), nil
}

func (c *CloudFormation) CreateStack(ctx context.Context, req engine.StackRequest) (string, error) {
	out, err := c.api.CreateStack(ctx, &cloudformation.CreateStackInput{
		StackName:    aws.String(req.StackName),
		TemplateBody: optionalString(req.TemplateBody),
		Parameters:   toParameters(req.Parameters),
		Tags:         toTags(req.Tags),
		Capabilities: capabilities,
	})
	if err != nil {
		return "", translateError("create-stack", req.StackName, err)
	}
	return aws.ToString(out.StackId), nil
}

func (c *CloudFormation) UpdateStack(ctx context.Context, req engine.StackRequest) (string, error) {
	in := &cloudformation.UpdateStackInput{
		StackName:    aws.String(req.StackName),
		TemplateBody: optionalString(req.TemplateBody),
		Parameters:   toParameters(req.Parameters),
		Tags:         toTags(req.Tags),
		Capabilities: capabilities,
	}
	if req.UsePreviousTemplate {
		in.UsePreviousTemplate = aws.Bool(true)
		in.TemplateBody = nil
	}
	out, err := c.api.UpdateStack(ctx, in)
	if err != nil {
		return "", translateError("update-stack", req.StackName, err)
	}
	return aws.ToString(out.StackId), nil
}

func (c *CloudFormation) DeleteStack(ctx context.Context, stackName string) error {
	_, err := c.api.DeleteStack(ctx, &cloudformation.DeleteStackInput{StackName: aws.String(stackName)})
	return translateError("delete-stack", stackName, err)
}

func (c *CloudFormation) CreateChangeset(ctx context.Context, req engine.ChangesetRequest) (string, error) {
	csType := cfntypes.ChangeSetTypeUpdate
	if req.Type == engine.ChangesetTypeCreate {
		csType = cfntypes.ChangeSetTypeCreate
	}
	in := &cloudformation.CreateChangeSetInput{
		StackName:     aws.String(req.StackName),
		ChangeSetName: aws.String(req.ChangeSetName),
		ChangeSetType: csType,
		TemplateBody:  optionalString(req.TemplateBody),
		Parameters:    toParameters(req.Parameters),
		Tags:          toTags(req.Tags),
		Capabilities:  capabilities,
	}
	if req.UsePreviousTemplate {
		in.UsePreviousTemplate = aws.Bool(true)
		in.TemplateBody = nil
	}
	out, err := c.api.CreateChangeSet(ctx, in)
	if err != nil {
		return "", translateError("create-changeset", req.ChangeSetName, err)
	}
	return aws.ToString(out.StackId), nil
}

func (c *CloudFormation) DescribeChangeset(ctx context.Context, stackName, changeSet string) (*engine.ChangesetDescription, error) {
	out, err := c.api.DescribeChangeSet(ctx, &cloudformation.DescribeChangeSetInput{
		StackName:     aws.String(stackName),
		ChangeSetName: aws.String(changeSet),
	})
	if err != nil {
		return nil, translateError("describe-changeset", changeSet, err)
	}
	return &engine.ChangesetDescription{
		ID:      aws.ToString(out.ChangeSetId),
		Name:    aws.ToString(out.ChangeSetName),
		StackID: aws.ToString(out.StackId),
		Status:  changesetStatus(out.Status, out.ExecutionStatus),
		Reason:  aws.ToString(out.StatusReason),
	}, nil
}

func (c *CloudFormation) ExecuteChangeset(ctx context.Context, stackName, changeSet string) error {
	_, err := c.api.ExecuteChangeSet(ctx, &cloudformation.ExecuteChangeSetInput{
		StackName:     aws.String(stackName),
		ChangeSetName: aws.String(changeSet),
	})
	return translateError("execute-changeset", changeSet, err)
}

// DescribeStackEvents returns the first page of events, which holds the most
// recent ones. The monitor polls again for anything newer.
func (c *CloudFormation) DescribeStackEvents(ctx context.Context, stackName string) ([]engine.StackEvent, error) {
	out, err := c.api.DescribeStackEvents(ctx, &cloudformation.DescribeStackEventsInput{StackName: aws.String(stackName)})
	if err != nil {
		return nil, translateError("describe-stack-events", stackName, err)
	}
	events := make([]engine.StackEvent, 0, len(out.StackEvents))
	for _, e := range out.StackEvents {
		events = append(events, engine.StackEvent{
			ID:           aws.ToString(e.EventId),
			StackName:    aws.ToString(e.StackName),
			Timestamp:    aws.ToTime(e.Timestamp),
			ResourceType: aws.ToString(e.ResourceType),
			ResourceID:   aws.ToString(e.LogicalResourceId),
			Status:       engine.StackStatus(e.ResourceStatus),
			Reason:       aws.ToString(e.ResourceStatusReason),
		})
	}
	return events, nil
}

// changesetStatus folds CloudFormation's status and execution status into the
// orchestrator's six-state view. Unknown combinations pass through verbatim.
func changesetStatus(status cfntypes.ChangeSetStatus, exec cfntypes.ExecutionStatus) engine.ChangesetStatus {
	switch exec {
	case cfntypes.ExecutionStatusExecuteInProgress:
		return engine.ChangesetExecuting
	case cfntypes.ExecutionStatusExecuteComplete:
		return engine.ChangesetComplete
	}

	switch status {
	case cfntypes.ChangeSetStatusCreatePending:
		return engine.ChangesetPending
	case cfntypes.ChangeSetStatusCreateInProgress:
		return engine.ChangesetInProgress
	case cfntypes.ChangeSetStatusFailed:
		return engine.ChangesetFailed
	case cfntypes.ChangeSetStatusCreateComplete:
		switch exec {
		case cfntypes.ExecutionStatusAvailable:
			return engine.ChangesetReadyToExecute
		case cfntypes.ExecutionStatusUnavailable, "":
			return engine.ChangesetInProgress
		default:
			return engine.ChangesetStatus(exec)
		}
	default:
		return engine.ChangesetStatus(status)
	}
}

func toStackDescription(s cfntypes.Stack) *engine.StackDescription {
	desc := &engine.StackDescription{
		StackName:    aws.ToString(s.StackName),
		StackID:      aws.ToString(s.StackId),
		Status:       engine.StackStatus(s.StackStatus),
		StatusReason: aws.ToString(s.StackStatusReason),
		Parameters:   make(map[string]string, len(s.Parameters)),
		Outputs:      make(map[string]string, len(s.Outputs)),
	}
	for _, p := range s.Parameters {
		desc.Parameters[aws.ToString(p.ParameterKey)] = aws.ToString(p.ParameterValue)
	}
	for _, o := range s.Outputs {
		desc.Outputs[aws.ToString(o.OutputKey)] = aws.ToString(o.OutputValue)
	}
	return desc
}

func toParameters(values []engine.ParameterValue) []cfntypes.Parameter {
	if len(values) == 0 {
		return nil
	}
	out := make([]cfntypes.Parameter, 0, len(values))
	for _, v := range values {
		p := cfntypes.Parameter{ParameterKey: aws.String(v.Key)}
		if v.UsePrevious {
			p.UsePreviousValue = aws.Bool(true)
		} else {
			p.ParameterValue = aws.String(v.Value)
		}
		out = append(out, p)
	}
	return out
}

func toTags(tags map[string]string) []cfntypes.Tag {
	if len(tags) == 0 {
		return nil
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]cfntypes.Tag, 0, len(keys))
	for _, k := range keys {
		out = append(out, cfntypes.Tag{Key: aws.String(k), Value: aws.String(tags[k])})
	}
	return out
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}
