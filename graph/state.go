package graph

import (
	"encoding/json"
	"fmt"
)

// deepCopy creates an independent copy of state S using a JSON round-trip.
//
// Every branch spawned by a fan-out edge receives its own copy so that
// concurrent node executions never share mutable state. The round-trip works
// for any state type whose fields are JSON-marshalable; unexported fields,
// channels, and functions are not carried across.
func deepCopy[S any](state S) (S, error) {
	var zero S

	data, err := json.Marshal(state)
	if err != nil {
		return zero, fmt.Errorf("failed to marshal state: %w", err)
	}

	var copied S
	if err := json.Unmarshal(data, &copied); err != nil {
		return zero, fmt.Errorf("failed to unmarshal state: %w", err)
	}

	return copied, nil
}
