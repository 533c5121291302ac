// Package history stores past run outcomes in a local BoltDB file so
// results can be listed and inspected after the process exits.
package history
