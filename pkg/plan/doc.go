// Package plan compiles user-supplied test configuration into a validated,
// immutable RunPlan. Validation collects every failing constraint so a user
// sees all problems at once rather than one per attempt.
package plan
