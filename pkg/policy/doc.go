// Package policy evaluates Open Policy Agent (OPA) Rego policies against
// composed stack templates before they are submitted.
//
// # Architecture
//
// The policy system consists of three parts:
//
//  1. Engine - Compiles policies once and evaluates their deny sets
//  2. Loader - Loads .rego and .json policies from files and directories, and watches them
//  3. Built-in Policies - Function limits, IAM wildcards, parameter descriptions and production retention
//
// # Input
//
// Every policy sees the same input document:
//
//	{
//	  "template": {"Parameters": {...}, "Resources": {...}, "Outputs": {...}},
//	  "context":  {"stack_name": "...", "environment": "...", "operation": "...", "timestamp": "..."}
//	}
//
// # Writing Policies
//
// A policy defines a deny set. Each entry is either a message string or an
// object with message, resource and optional severity:
//
//	# Buckets must be encrypted.
//	# severity: error
//	package froyo.custom.encryption
//
//	import rego.v1
//
//	deny contains violation if {
//		some id, res in input.template.Resources
//		res.Type == "AWS::S3::Bucket"
//		not res.Properties.BucketEncryption
//		violation := {"message": "bucket is not encrypted", "resource": id}
//	}
//
// Violations with severity error or critical block the deployment; the rest
// are reported as warnings.
//
// # Usage
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//		return err
//	}
//	if err := eng.LoadPolicies(ctx, []string{"policies/"}); err != nil {
//		return err
//	}
//	result, err := eng.EvaluateTemplate(ctx, tmpl, policy.Context{StackName: "site-production", Environment: "production"})
//	if err != nil {
//		return err
//	}
//	if err := result.Err(); err != nil {
//		return err
//	}
package policy
