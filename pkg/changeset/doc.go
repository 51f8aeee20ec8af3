// Package changeset converges a stack onto a submitted template.
//
// Converge creates a stack that does not exist and otherwise submits an UPDATE
// changeset, polls it until it is ready or failed, executes it and hands the
// wait for convergence to a Watcher. A changeset the provider rejects because
// its diff is empty ends without error.
package changeset
