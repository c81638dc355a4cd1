// Package valkey provides a Valkey-backed storage backend for permission
// tickets, protected resources, access policies, and client registrations.
//
// Ticket redemption is atomic: RemoveTicket issues a single GETDEL command,
// so concurrent redemptions of the same ticket have exactly one winner.
// Ticket expiry is enforced with per-key TTLs, which means expired tickets
// are evicted by the server without a cleanup goroutine.
//
// Use this backend for multi-instance deployments where all authorization
// server replicas must share ticket state.
package valkey
