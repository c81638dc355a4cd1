// Package memory provides an in-memory storage backend for permission
// tickets, protected resources, access policies, and client registrations.
//
// The store is safe for concurrent use and runs a background goroutine that
// reaps expired tickets. Call Stop when the store is no longer needed.
//
// Data does not survive process restarts. For multi-instance deployments use
// the valkey backend instead.
package memory
