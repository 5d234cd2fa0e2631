// Package session persists research states.
//
// Store is the persistence collaborator of the research loop. InMemoryStore
// serves tests and short-lived processes; durable backends live in
// sub-packages (session/sqlite) so callers depend only on the interface and
// the wiring layer decides which implementation to instantiate.
//
// Debouncer keeps persistence off the loop's critical path: intermediate
// states are coalesced and written after an idle window, while Flush writes
// synchronously.
package session
