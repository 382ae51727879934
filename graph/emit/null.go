package emit

// NullEmitter discards all events. Useful as a default when no observability
// backend is configured, and in tests that don't assert on events.
type NullEmitter struct{}

// NewNullEmitter returns an emitter that drops every event.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards the event.
func (n *NullEmitter) Emit(Event) {}
