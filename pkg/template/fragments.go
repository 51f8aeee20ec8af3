package template

// Builtin fragment resource names.
const (
	SiteBucketResource          = "S3Bucket"
	SiteBucketPolicyResource    = "S3BucketPolicy"
	HTTPAPIStageResource        = "HttpApiStage"
	DistributionResource        = "CloudfrontDistribution"
	OriginAccessControlResource = "CloudfrontOriginAccessControl"
	UserPoolResource            = "UserPool"
	UserPoolClientResource      = "UserPoolClient"
)

// SiteBucketOutput exposes the generated static site bucket name.
const SiteBucketOutput = "SiteBucketName"

// BaseFragment declares the environment and deployment bucket parameters and
// the static site bucket.
func BaseFragment(environments []string) Template {
	t := New()
	t.Parameters[EnvironmentParameter] = Parameter{
		Type:          "String",
		Description:   "Deployment environment name",
		AllowedValues: environments,
	}
	t.Parameters[DeploymentBucketParameter] = Parameter{
		Type:        "String",
		Description: "Bucket holding function bundles",
	}
	t.Resources[SiteBucketResource] = Resource{
		"Type": "AWS::S3::Bucket",
		"Properties": map[string]any{
			"PublicAccessBlockConfiguration": map[string]any{
				"BlockPublicAcls":       true,
				"BlockPublicPolicy":     true,
				"IgnorePublicAcls":      true,
				"RestrictPublicBuckets": true,
			},
			"Tags": []any{
				map[string]any{"Key": "environment", "Value": Ref(EnvironmentParameter)},
			},
		},
	}
	t.Outputs[SiteBucketOutput] = Output{
		Description: "Bucket holding the static site",
		Value:       Ref(SiteBucketResource),
	}
	return t
}

// APIFragment declares the HTTP API and its default auto-deployed stage.
func APIFragment() Template {
	t := New()
	t.Resources[HTTPAPIResource] = Resource{
		"Type": "AWS::ApiGatewayV2::Api",
		"Properties": map[string]any{
			"Name":         Sub("${AWS::StackName}-api"),
			"ProtocolType": "HTTP",
			"CorsConfiguration": map[string]any{
				"AllowOrigins": []any{"*"},
				"AllowMethods": []any{"*"},
				"AllowHeaders": []any{"*"},
			},
		},
	}
	t.Resources[HTTPAPIStageResource] = Resource{
		"Type": "AWS::ApiGatewayV2::Stage",
		"Properties": map[string]any{
			"ApiId":      Ref(HTTPAPIResource),
			"StageName":  "$default",
			"AutoDeploy": true,
		},
	}
	t.Outputs["ApiEndpoint"] = Output{
		Description: "Base URL of the HTTP API",
		Value:       GetAtt(HTTPAPIResource, "ApiEndpoint"),
	}
	return t
}

// CDNFragment fronts the site bucket with a distribution restricted through
// origin access control.
func CDNFragment() Template {
	t := New()
	t.Resources[OriginAccessControlResource] = Resource{
		"Type": "AWS::CloudFront::OriginAccessControl",
		"Properties": map[string]any{
			"OriginAccessControlConfig": map[string]any{
				"Name":                          Sub("${AWS::StackName}-oac"),
				"OriginAccessControlOriginType": "s3",
				"SigningBehavior":               "always",
				"SigningProtocol":               "sigv4",
			},
		},
	}
	t.Resources[DistributionResource] = Resource{
		"Type": "AWS::CloudFront::Distribution",
		"Properties": map[string]any{
			"DistributionConfig": map[string]any{
				"Enabled":           true,
				"DefaultRootObject": "index.html",
				"HttpVersion":       "http2",
				"Origins": []any{
					map[string]any{
						"Id":                    "site",
						"DomainName":            GetAtt(SiteBucketResource, "RegionalDomainName"),
						"OriginAccessControlId": GetAtt(OriginAccessControlResource, "Id"),
						"S3OriginConfig":        map[string]any{"OriginAccessIdentity": ""},
					},
				},
				"DefaultCacheBehavior": map[string]any{
					"TargetOriginId":       "site",
					"ViewerProtocolPolicy": "redirect-to-https",
					"CachePolicyId":        "658327ea-f89d-4fab-a63d-7e88639e58f6",
					"Compress":             true,
				},
				"CustomErrorResponses": []any{
					map[string]any{"ErrorCode": 403, "ResponseCode": 200, "ResponsePagePath": "/index.html"},
				},
			},
		},
	}
	t.Resources[SiteBucketPolicyResource] = Resource{
		"Type": "AWS::S3::BucketPolicy",
		"Properties": map[string]any{
			"Bucket": Ref(SiteBucketResource),
			"PolicyDocument": map[string]any{
				"Version": "2012-10-17",
				"Statement": []any{
					map[string]any{
						"Effect":    "Allow",
						"Principal": map[string]any{"Service": "cloudfront.amazonaws.com"},
						"Action":    "s3:GetObject",
						"Resource":  Sub("${" + SiteBucketResource + ".Arn}/*"),
						"Condition": map[string]any{
							"StringEquals": map[string]any{
								"AWS:SourceArn": Sub("arn:${AWS::Partition}:cloudfront::${AWS::AccountId}:distribution/${" + DistributionResource + "}"),
							},
						},
					},
				},
			},
		},
	}
	t.Outputs["DistributionDomainName"] = Output{
		Description: "Domain name of the distribution",
		Value:       GetAtt(DistributionResource, "DomainName"),
	}
	return t
}

// AuthFragment declares a user pool and a public client.
func AuthFragment() Template {
	t := New()
	t.Resources[UserPoolResource] = Resource{
		"Type": "AWS::Cognito::UserPool",
		"Properties": map[string]any{
			"UserPoolName":           Sub("${AWS::StackName}-users"),
			"AutoVerifiedAttributes": []any{"email"},
			"UsernameAttributes":     []any{"email"},
		},
	}
	t.Resources[UserPoolClientResource] = Resource{
		"Type": "AWS::Cognito::UserPoolClient",
		"Properties": map[string]any{
			"UserPoolId":     Ref(UserPoolResource),
			"GenerateSecret": false,
		},
	}
	t.Outputs["UserPoolId"] = Output{Description: "User pool ID", Value: Ref(UserPoolResource)}
	t.Outputs["UserPoolClientId"] = Output{Description: "User pool client ID", Value: Ref(UserPoolClientResource)}
	return t
}
