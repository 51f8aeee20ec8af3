package template

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"
)

// Resource and parameter names shared between fragments.
const (
	// DeploymentBucketParameter names the bucket holding function bundles.
	DeploymentBucketParameter = "DeploymentBucket"

	// EnvironmentParameter names the deployment environment.
	EnvironmentParameter = "Environment"

	// HTTPAPIResource is the HTTP API every function route attaches to.
	HTTPAPIResource = "HttpApi"

	// EntryPoint is the handler the function runtime invokes.
	EntryPoint = "index.handler"
)

// Function describes one serverless function to expand into a template fragment.
type Function struct {
	// Name is the logical function name (e.g. "get-users").
	Name string

	// Path is the HTTP route path. Defaults to "/<name>".
	Path string

	// Methods are the HTTP verbs routed to the function. Defaults to ANY.
	Methods []string

	// Timeout overrides the global function timeout.
	Timeout time.Duration

	// Memory overrides the global memory size in MB.
	Memory int

	// Environment holds function environment variables.
	Environment map[string]string

	// Override replaces the standard expansion entirely when set.
	Override FragmentProducer
}

// GlobalConfig holds settings shared by every function fragment.
type GlobalConfig struct {
	Runtime     string
	Timeout     time.Duration
	Memory      int
	Environment map[string]string
}

// FragmentProducer builds the template fragment for one function.
type FragmentProducer interface {
	Produce(ctx context.Context, fn Function, global GlobalConfig) (Template, error)
}

// FragmentProducerFunc adapts a function to FragmentProducer.
type FragmentProducerFunc func(ctx context.Context, fn Function, global GlobalConfig) (Template, error)

// Produce calls f.
func (f FragmentProducerFunc) Produce(ctx context.Context, fn Function, global GlobalConfig) (Template, error) {
	return f(ctx, fn, global)
}

// LogicalName converts a function name into a provider logical ID segment:
// "get-users" becomes "GetUsers".
func LogicalName(name string) string {
	var b strings.Builder
	upper := true
	for _, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			upper = true
			continue
		}
		if upper {
			b.WriteRune(unicode.ToUpper(r))
			upper = false
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// S3KeyParameter is the parameter carrying a function's bundle key.
func S3KeyParameter(name string) string {
	return LogicalName(name) + "FunctionS3Key"
}

// EndpointOutput is the output exposing a function's invocation endpoint.
func EndpointOutput(name string) string {
	return LogicalName(name) + "Endpoint"
}

// RoutePath returns the function's route path.
func (fn Function) RoutePath() string {
	if fn.Path != "" {
		if !strings.HasPrefix(fn.Path, "/") {
			return "/" + fn.Path
		}
		return fn.Path
	}
	return "/" + fn.Name
}

// BuildFunctionFragment expands fn into its role, function, permission,
// integration and route resources plus an endpoint output. The bundle location is
// referenced through the DeploymentBucket and per-function S3 key parameters.
// When fn.Override is set, its fragment is returned instead.
func BuildFunctionFragment(ctx context.Context, fn Function, global GlobalConfig) (Template, error) {
	if fn.Name == "" {
		return Template{}, fmt.Errorf("function name is required")
	}
	if fn.Override != nil {
		t, err := fn.Override.Produce(ctx, fn, global)
		if err != nil {
			return Template{}, fmt.Errorf("fragment override for %s: %w", fn.Name, err)
		}
		return t, nil
	}

	id := LogicalName(fn.Name)
	if id == "" {
		return Template{}, fmt.Errorf("function name %q has no alphanumeric characters", fn.Name)
	}
	roleID := id + "Role"
	functionID := id + "Function"
	integrationID := id + "Integration"
	keyParam := S3KeyParameter(fn.Name)

	timeout := global.Timeout
	if fn.Timeout > 0 {
		timeout = fn.Timeout
	}
	memory := global.Memory
	if fn.Memory > 0 {
		memory = fn.Memory
	}

	env := make(map[string]any, len(global.Environment)+len(fn.Environment))
	for k, v := range global.Environment {
		env[k] = v
	}
	for k, v := range fn.Environment {
		env[k] = v
	}

	t := New()
	t.Parameters[keyParam] = Parameter{
		Type:        "String",
		Description: fmt.Sprintf("Object key of the %s function bundle", fn.Name),
	}

	t.Resources[roleID] = Resource{
		"Type": "AWS::IAM::Role",
		"Properties": map[string]any{
			"AssumeRolePolicyDocument": map[string]any{
				"Version": "2012-10-17",
				"Statement": []any{
					map[string]any{
						"Effect":    "Allow",
						"Principal": map[string]any{"Service": "lambda.amazonaws.com"},
						"Action":    "sts:AssumeRole",
					},
				},
			},
			"ManagedPolicyArns": []any{
				"arn:aws:iam::aws:policy/service-role/AWSLambdaBasicExecutionRole",
			},
		},
	}

	fnProps := map[string]any{
		"Runtime": global.Runtime,
		"Handler": EntryPoint,
		"Role":    GetAtt(roleID, "Arn"),
		"Code": map[string]any{
			"S3Bucket": Ref(DeploymentBucketParameter),
			"S3Key":    Ref(keyParam),
		},
	}
	if timeout > 0 {
		fnProps["Timeout"] = int(timeout / time.Second)
	}
	if memory > 0 {
		fnProps["MemorySize"] = memory
	}
	if len(env) > 0 {
		fnProps["Environment"] = map[string]any{"Variables": env}
	}
	t.Resources[functionID] = Resource{
		"Type":       "AWS::Lambda::Function",
		"Properties": fnProps,
	}

	t.Resources[id+"Permission"] = Resource{
		"Type": "AWS::Lambda::Permission",
		"Properties": map[string]any{
			"Action":       "lambda:InvokeFunction",
			"FunctionName": Ref(functionID),
			"Principal":    "apigateway.amazonaws.com",
			"SourceArn":    Sub("arn:${AWS::Partition}:execute-api:${AWS::Region}:${AWS::AccountId}:${" + HTTPAPIResource + "}/*"),
		},
	}

	t.Resources[integrationID] = Resource{
		"Type": "AWS::ApiGatewayV2::Integration",
		"Properties": map[string]any{
			"ApiId":                Ref(HTTPAPIResource),
			"IntegrationType":      "AWS_PROXY",
			"IntegrationUri":       GetAtt(functionID, "Arn"),
			"PayloadFormatVersion": "2.0",
		},
	}

	path := fn.RoutePath()
	for _, method := range normalizeMethods(fn.Methods) {
		t.Resources[id+"Route"+LogicalName(strings.ToLower(method))] = Resource{
			"Type": "AWS::ApiGatewayV2::Route",
			"Properties": map[string]any{
				"ApiId":    Ref(HTTPAPIResource),
				"RouteKey": method + " " + path,
				"Target":   Sub("integrations/${" + integrationID + "}"),
			},
		}
	}

	t.Outputs[EndpointOutput(fn.Name)] = Output{
		Description: fmt.Sprintf("Invocation endpoint of the %s function", fn.Name),
		Value:       Sub("https://${" + HTTPAPIResource + "}.execute-api.${AWS::Region}.${AWS::URLSuffix}" + path),
	}

	return t, nil
}

func normalizeMethods(methods []string) []string {
	if len(methods) == 0 {
		return []string{"ANY"}
	}
	seen := make(map[string]struct{}, len(methods))
	out := make([]string, 0, len(methods))
	for _, m := range methods {
		m = strings.ToUpper(strings.TrimSpace(m))
		if m == "" {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
