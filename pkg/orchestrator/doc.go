/*
Package orchestrator runs one load test end to end.

The pipeline is compile, distribute, provision the worker fleet, wait for
terminal states, aggregate results, analyze, publish. A hard deadline of
max(10 minutes, 4x test duration) bounds the whole run. Only plan and
distribution failures return an error; anything after worker launch is
reported inside the RunOutcome so callers always get whatever partial data
the run produced.
*/
package orchestrator
