/*
Package types defines the core data model shared across Stampede.

The model follows the life of a run: a RunPlan is compiled from user input,
split into WorkerAssignments, each assignment is driven through the
WorkerHandle lifecycle by the container manager, worker result streams are
merged into a CanonicalSummary plus RunManifest, the analyzer turns the
summary into a PerformanceReport, and everything rolls up into a RunOutcome.

Worker states and run statuses are string-typed enums so they serialize to
stable tags at the blob boundary while still allowing exhaustive switches.

The package also defines the error taxonomy (sentinel errors classified via
errors.Is) and the process exit-code mapping.
*/
package types
