/*
Package blob abstracts the flat object namespace that workers and the
orchestrator exchange results through.

Two implementations are provided: S3Store for real runs against an S3
bucket, and MemoryStore for tests and local dry runs. Both are safe for
concurrent use; puts overwrite existing objects and are last-writer-wins
at the object level.
*/
package blob
