package core

import "encoding/json"

// ParseOutcome classifies the result of decoding an opaque serialized field.
type ParseOutcome int

const (
	// ParseOK means the payload decoded cleanly.
	ParseOK ParseOutcome = iota
	// ParseRaw means the payload was empty or intentionally left opaque.
	ParseRaw
	// ParseInvalid means the payload looked like JSON but failed to decode.
	ParseInvalid
)

// ParsedState is the fallible decode of a strategy's serialized state blob.
// The engine serializes state as JSON, but the dashboard must never crash a
// row render on a malformed payload; rendering downgrades to the raw text.
type ParsedState struct {
	Outcome ParseOutcome
	State   StrategyState
	Raw     string
	Err     error
}

// ParseState decodes a serialized state blob.
func ParseState(raw string) ParsedState {
	if raw == "" {
		return ParsedState{Outcome: ParseRaw, Raw: raw}
	}
	var st StrategyState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return ParsedState{Outcome: ParseInvalid, Raw: raw, Err: err}
	}
	return ParsedState{Outcome: ParseOK, State: st, Raw: raw}
}

// ParsedJSON is the fallible decode of an arbitrary opaque JSON field, such
// as a model payload or a transaction's last order record.
type ParsedJSON struct {
	Outcome ParseOutcome
	Value   any
	Raw     string
	Err     error
}

// ParseJSON decodes an opaque JSON document.
func ParseJSON(raw string) ParsedJSON {
	if raw == "" {
		return ParsedJSON{Outcome: ParseRaw, Raw: raw}
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return ParsedJSON{Outcome: ParseInvalid, Raw: raw, Err: err}
	}
	return ParsedJSON{Outcome: ParseOK, Value: v, Raw: raw}
}

// Pretty re-indents a parsed document for display. Raw or invalid payloads
// come back unchanged.
func (p ParsedJSON) Pretty() string {
	if p.Outcome != ParseOK {
		return p.Raw
	}
	out, err := json.MarshalIndent(p.Value, "", "  ")
	if err != nil {
		return p.Raw
	}
	return string(out)
}
