package provider

// callTracker remembers tool-call id/name per index across stream events so
// every increment can be emitted with full identity attached. Argument
// fragments are never accumulated here; assembly is the consumer's job.
type callTracker struct {
	ids   map[int]string
	names map[int]string
}

func newCallTracker() *callTracker {
	return &callTracker{
		ids:   make(map[int]string),
		names: make(map[int]string),
	}
}

// delta records any newly seen id/name for index and returns the logical
// increment for this event.
func (t *callTracker) delta(index int, id, name, args string) *ToolCallDelta {
	if id != "" {
		t.ids[index] = id
	}
	if name != "" {
		t.names[index] = name
	}
	return &ToolCallDelta{
		Index:          index,
		ID:             t.ids[index],
		Name:           t.names[index],
		ArgumentsDelta: args,
	}
}

// normalizeFinish maps vendor finish/stop reasons onto the shared constants.
// Unknown reasons pass through unchanged.
func normalizeFinish(reason string) string {
	switch reason {
	case "stop", "end_turn", "completed":
		return FinishStop
	case "length", "max_tokens", "max_output_tokens":
		return FinishLength
	case "tool_calls", "tool_use", "function_call":
		return FinishToolCalls
	default:
		return reason
	}
}
