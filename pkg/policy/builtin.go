package policy

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		functionLimitsPolicy(),
		iamWildcardPolicy(),
		parameterDescriptionsPolicy(),
		productionRetentionPolicy(),
	}
}

// functionLimitsPolicy rejects function timeouts and memory sizes the provider does not accept.
func functionLimitsPolicy() Policy {
	return Policy{
		Name:        "function-limits",
		Description: "Function timeout must be 1-900 seconds and memory 128-10240 MB",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"functions", "limits"},
		Rego: `package froyo.policies.function_limits

import rego.v1

functions[id] := props if {
	some id, res in input.template.Resources
	res.Type == "AWS::Lambda::Function"
	props := object.get(res, "Properties", {})
}

deny contains violation if {
	some id, props in functions
	timeout := props.Timeout
	is_number(timeout)
	not valid_timeout(timeout)
	violation := {
		"message": sprintf("function timeout %v is outside 1-900 seconds", [timeout]),
		"resource": id,
	}
}

deny contains violation if {
	some id, props in functions
	memory := props.MemorySize
	is_number(memory)
	not valid_memory(memory)
	violation := {
		"message": sprintf("function memory %v is outside 128-10240 MB", [memory]),
		"resource": id,
	}
}

valid_timeout(t) if {
	t >= 1
	t <= 900
}

valid_memory(m) if {
	m >= 128
	m <= 10240
}
`,
	}
}

// iamWildcardPolicy flags statements that allow every action on every resource.
func iamWildcardPolicy() Policy {
	return Policy{
		Name:        "iam-wildcard",
		Description: "IAM statements must not allow all actions on all resources",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"security", "iam"},
		Rego: `package froyo.policies.iam_wildcard

import rego.v1

deny contains violation if {
	some id, res in input.template.Resources
	startswith(res.Type, "AWS::IAM::")
	walk(res, [_, stmt])
	is_object(stmt)
	stmt.Effect == "Allow"
	wildcard(stmt.Action)
	wildcard(stmt.Resource)
	violation := {
		"message": "statement allows all actions on all resources",
		"resource": id,
		"severity": severity,
	}
}

severity := "error" if {
	input.context.environment == "production"
} else := "warning"

wildcard(x) if x == "*"

wildcard(x) if {
	is_array(x)
	some v in x
	v == "*"
}
`,
	}
}

// parameterDescriptionsPolicy asks for a description on every prompted parameter.
func parameterDescriptionsPolicy() Policy {
	return Policy{
		Name:        "parameter-descriptions",
		Description: "Template parameters should carry a description used as the prompt message",
		Severity:    SeverityInfo,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"parameters", "usability"},
		Rego: `package froyo.policies.parameter_descriptions

import rego.v1

deny contains violation if {
	some name, param in input.template.Parameters
	object.get(param, "Description", "") == ""
	violation := {
		"message": sprintf("parameter %s has no description", [name]),
		"resource": name,
	}
}
`,
	}
}

// productionRetentionPolicy warns when stateful resources in production can be deleted with the stack.
func productionRetentionPolicy() Policy {
	return Policy{
		Name:        "production-retention",
		Description: "Buckets and tables in production should set DeletionPolicy Retain",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"data", "production"},
		Rego: `package froyo.policies.production_retention

import rego.v1

stateful := {"AWS::S3::Bucket", "AWS::DynamoDB::Table", "AWS::RDS::DBInstance"}

deny contains violation if {
	input.context.environment == "production"
	some id, res in input.template.Resources
	stateful[res.Type]
	object.get(res, "DeletionPolicy", "Delete") != "Retain"
	violation := {
		"message": sprintf("%s is deleted with the stack; set DeletionPolicy to Retain", [res.Type]),
		"resource": id,
	}
}
`,
	}
}
