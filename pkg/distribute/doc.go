// Package distribute computes how virtual users are partitioned across
// worker containers. It is a pure function with no I/O.
package distribute
