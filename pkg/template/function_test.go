package template

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogicalName(t *testing.T) {
	tests := map[string]string{
		"get-users":   "GetUsers",
		"orders":      "Orders",
		"user_events": "UserEvents",
		"v2.checkout": "V2Checkout",
		"--":          "",
	}
	for in, want := range tests {
		assert.Equal(t, want, LogicalName(in), in)
	}
}

func TestBuildFunctionFragment_StandardShape(t *testing.T) {
	fn := Function{
		Name:        "get-users",
		Path:        "users",
		Methods:     []string{"post", "GET", "get"},
		Memory:      512,
		Environment: map[string]string{"TABLE": "users"},
	}
	global := GlobalConfig{
		Runtime:     "nodejs20.x",
		Timeout:     15 * time.Second,
		Memory:      128,
		Environment: map[string]string{"STAGE": "dev"},
	}

	frag, err := BuildFunctionFragment(context.Background(), fn, global)
	require.NoError(t, err)

	assert.Equal(t, []string{"GetUsersFunctionS3Key"}, frag.ParameterNames())

	wantResources := map[string]string{
		"GetUsersRole":        "AWS::IAM::Role",
		"GetUsersFunction":    "AWS::Lambda::Function",
		"GetUsersPermission":  "AWS::Lambda::Permission",
		"GetUsersIntegration": "AWS::ApiGatewayV2::Integration",
		"GetUsersRouteGet":    "AWS::ApiGatewayV2::Route",
		"GetUsersRoutePost":   "AWS::ApiGatewayV2::Route",
	}
	require.Len(t, frag.Resources, len(wantResources))
	for id, typ := range wantResources {
		assert.Equal(t, typ, frag.Resources[id].Type(), id)
	}

	props := frag.Resources["GetUsersFunction"].Properties()
	assert.Equal(t, map[string]any{
		"S3Bucket": Ref(DeploymentBucketParameter),
		"S3Key":    Ref("GetUsersFunctionS3Key"),
	}, props["Code"])
	assert.Equal(t, EntryPoint, props["Handler"])
	assert.Equal(t, 15, props["Timeout"])
	assert.Equal(t, 512, props["MemorySize"])
	assert.Equal(t, map[string]any{"Variables": map[string]any{"TABLE": "users", "STAGE": "dev"}}, props["Environment"])

	route := frag.Resources["GetUsersRouteGet"].Properties()
	assert.Equal(t, "GET /users", route["RouteKey"])

	require.Contains(t, frag.Outputs, "GetUsersEndpoint")
	assert.Equal(t,
		Sub("https://${HttpApi}.execute-api.${AWS::Region}.${AWS::URLSuffix}/users"),
		frag.Outputs["GetUsersEndpoint"].Value)
}

func TestBuildFunctionFragment_DefaultsToAnyMethod(t *testing.T) {
	frag, err := BuildFunctionFragment(context.Background(), Function{Name: "health"}, GlobalConfig{Runtime: "nodejs20.x"})
	require.NoError(t, err)

	route := frag.Resources["HealthRouteAny"].Properties()
	require.NotNil(t, route)
	assert.Equal(t, "ANY /health", route["RouteKey"])
	assert.NotContains(t, frag.Resources["HealthFunction"].Properties(), "Timeout")
}

func TestBuildFunctionFragment_Override(t *testing.T) {
	called := false
	override := FragmentProducerFunc(func(_ context.Context, fn Function, _ GlobalConfig) (Template, error) {
		called = true
		t := New()
		t.Resources[LogicalName(fn.Name)+"Queue"] = Resource{"Type": "AWS::SQS::Queue"}
		return t, nil
	})

	frag, err := BuildFunctionFragment(context.Background(), Function{Name: "worker", Override: override}, GlobalConfig{})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Len(t, frag.Resources, 1)
	assert.Contains(t, frag.Resources, "WorkerQueue")
	assert.Empty(t, frag.Parameters)
}

func TestBuildFunctionFragment_RequiresName(t *testing.T) {
	_, err := BuildFunctionFragment(context.Background(), Function{}, GlobalConfig{})
	assert.Error(t, err)
}

func TestBuildFunctionFragment_MergesWithBaseAndAPI(t *testing.T) {
	users, err := BuildFunctionFragment(context.Background(), Function{Name: "users"}, GlobalConfig{Runtime: "nodejs20.x"})
	require.NoError(t, err)
	orders, err := BuildFunctionFragment(context.Background(), Function{Name: "orders"}, GlobalConfig{Runtime: "nodejs20.x"})
	require.NoError(t, err)

	merged, err := Merge(BaseFragment(nil), APIFragment(), users, orders)
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]string{"DeploymentBucket", "Environment", "OrdersFunctionS3Key", "UsersFunctionS3Key"},
		merged.ParameterNames())
}
