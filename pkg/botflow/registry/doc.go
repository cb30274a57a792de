// Package registry provides a thread-safe, priority-ordered registry of values.
//
// Registry wraps a priority.Collection and hands out a Handle for every
// registration. The handle, not the value, identifies the registration, so
// the same value may be registered several times and each registration can
// be removed on its own.
//
// # Basic Usage
//
//	r := registry.New[Listener]()
//	h := r.Register(10, myListener)
//
//	for l := range r.Values() {
//	    // ascending priority, registration order within a priority
//	}
//
//	h.Unregister() // idempotent
//
// # Thread Safety
//
// All Registry and Handle methods are safe for concurrent use. A value is
// visible to every iteration that starts after Register returns. Iteration
// is weakly consistent and may overlap with Register and Unregister calls.
package registry
