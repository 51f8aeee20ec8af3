package template

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStarlarkProducer_Produce(t *testing.T) {
	script := `
name = function["logical_name"]

parameters = {
    function["s3_key_param"]: {"Type": "String", "Description": "bundle key"},
}

resources = {
    name + "Function": {
        "Type": "AWS::Lambda::Function",
        "Properties": {
            "Runtime": config["runtime"],
            "Handler": config["entry_point"],
            "Code": {
                "S3Bucket": ref(function["bucket_param"]),
                "S3Key": ref(function["s3_key_param"]),
            },
            "MemorySize": function["memory"] or config["memory"],
        },
    },
}

outputs = {
    name + "Arn": {"Value": get_att(name + "Function", "Arn")},
}
`
	producer := &StarlarkProducer{Script: script}
	fn := Function{Name: "image-resize", Override: producer}

	frag, err := BuildFunctionFragment(context.Background(), fn, GlobalConfig{Runtime: "nodejs20.x", Memory: 256})
	require.NoError(t, err)

	require.Contains(t, frag.Parameters, "ImageResizeFunctionS3Key")
	assert.Equal(t, "String", frag.Parameters["ImageResizeFunctionS3Key"].Type)

	props := frag.Resources["ImageResizeFunction"].Properties()
	require.NotNil(t, props)
	assert.Equal(t, "nodejs20.x", props["Runtime"])
	assert.Equal(t, EntryPoint, props["Handler"])
	assert.Equal(t, float64(256), props["MemorySize"])
	assert.Equal(t, map[string]any{"Ref": "DeploymentBucket"}, props["Code"].(map[string]any)["S3Bucket"])

	assert.Equal(t, map[string]any{"Fn::GetAtt": []any{"ImageResizeFunction", "Arn"}}, frag.Outputs["ImageResizeArn"].Value)
}

func TestStarlarkProducer_SyntaxError(t *testing.T) {
	producer := &StarlarkProducer{Script: "resources = {"}
	_, err := producer.Produce(context.Background(), Function{Name: "x"}, GlobalConfig{})
	assert.Error(t, err)
}

func TestStarlarkProducer_Timeout(t *testing.T) {
	script := `
def spin():
    n = 0
    for i in range(100000000):
        n += i
    return n

resources = {"X": {"Type": "AWS::SNS::Topic", "Properties": {"N": spin()}}}
`
	producer := &StarlarkProducer{Script: script, Timeout: 50 * time.Millisecond}
	_, err := producer.Produce(context.Background(), Function{Name: "x"}, GlobalConfig{})
	assert.Error(t, err)
}

func TestStarlarkProducer_InvalidShape(t *testing.T) {
	producer := &StarlarkProducer{Script: `resources = ["not", "a", "mapping"]`}
	_, err := producer.Produce(context.Background(), Function{Name: "x"}, GlobalConfig{})
	assert.Error(t, err)
}
