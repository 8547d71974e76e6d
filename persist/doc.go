// Package persist provides snapshot store implementations for the cellular
// runtime: a file-per-unit JSON store, a SQLite-backed store and an in-memory
// store for tests.
package persist
