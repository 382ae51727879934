package emit

// Emitter receives observability events from workflow execution.
//
// Implementations must be safe for concurrent use: fan-out branches emit
// events from their own goroutines. They must never block or panic; a slow
// or failing backend may drop events but must not slow the workflow down.
type Emitter interface {
	// Emit sends an event to the configured backend.
	Emit(event Event)
}
