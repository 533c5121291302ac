/*
Package manager drives worker container groups through their lifecycle.

Each worker follows the state machine:

	pending -> provisioning -> running -> succeeded
	                |             |----> failed
	                |----> failed_to_start
	  any non-terminal state ----> cancelled

Creates for all workers are issued concurrently behind a weighted semaphore
(default 32 in flight) so a large fleet does not trip provider throttling;
throttled creates are retried with exponential backoff before the worker is
marked failed_to_start.

Completion detection prefers the worker's completion marker blob and falls
back to provider status polling with exponential backoff (5s doubling to
30s). A worker is succeeded only when the marker is present and the
provider reports a clean exit.

Cancellation stops new creates, schedules deletion of every non-terminal
group, and bounds the wait on a teardown grace period. Whatever the
outcome, every group the manager created is deleted before Run returns;
deletion failures are logged but never change the run outcome. A single
failed worker does not fail the run.
*/
package manager
