// Package orchestrator sequences one automated remediation attempt.
//
// A run is a short-lived state machine over one diagnostic report:
// acquire the cross-process lock, branch, apply the fix, validate it
// with the build/test/lint gate, commit, push, and open a draft pull
// request. Non-actionable, out-of-scope and over-quota reports are
// rejected before the lock is even attempted, so they never contend
// with a live run.
//
// Failure handling is the point of the package. Any failure after the
// fix branch exists triggers unconditional cleanup: the working tree is
// restored, the original branch is checked out again, and the fix
// branch is deleted locally and, when it was pushed, remotely. The one
// exception is a publish failure, where the pushed branch is kept on
// purpose so an operator can open the pull request by hand. Every run,
// whatever its outcome, produces exactly one notification.
package orchestrator
