// Package template composes provider templates from independently authored fragments.
//
// A Template has exactly three mappings: Parameters, Resources and Outputs. Merge
// folds fragments left to right and fails with *engine.TemplateCollisionError when
// two fragments define the same key in the same mapping:
//
//	tmpl, err := template.Merge(
//	    template.BaseFragment(nil),
//	    template.APIFragment(),
//	    usersFragment,
//	)
//
// BuildFunctionFragment expands a Function into its execution role, function,
// invoke permission, HTTP integration and one route per method, plus an endpoint
// output. The bundle is referenced through the DeploymentBucket parameter and a
// per-function S3 key parameter so each environment can supply its own values.
// A Function with an Override (for example a StarlarkProducer) skips the standard
// expansion.
//
// Validator checks a composed template against a CUE schema of the wire shape
// before it is submitted.
package template
