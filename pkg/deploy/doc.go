// Package deploy runs the end-to-end flows of a project: deploy, parameter-only
// update, destroy, static site sync and attaching to a converging stack.
//
// A deploy composes the template, checks it against the schema and the loaded
// policies, packages and uploads the function bundles, resolves parameters
// against the live stack, converges through the changeset protocol while
// streaming stack events, and finally syncs the static site to the bucket the
// stack exposes as SiteBucketName. Every invocation is journaled and
// instrumented.
package deploy
