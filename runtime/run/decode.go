package run

import (
	"encoding/json"
)

type (
	// Decoded is the closed result of decoding a raw tool argument or result
	// string: either a structured JSON object or the raw string untouched.
	// Untyped provider data never travels past this boundary undeclared.
	Decoded struct {
		object map[string]any
		raw    string
	}

	// Directives are the embedded instructions a structured tool result may
	// carry to drive segment creation and mutation. All three are extracted
	// independently; a single result may carry several.
	Directives struct {
		// Message is the text of a complete assistant text item to
		// synthesize. Empty when the directive is absent.
		Message string
		// Component is the opaque UI payload of a component item to create.
		// Nil when the directive is absent.
		Component map[string]any
		// ComponentID is the identifier embedded in Component, when the
		// payload carries one. Empty means the caller synthesizes an id.
		ComponentID string
		// Remove reports a removeComponentMessage directive paired with a
		// non-empty componentId.
		Remove bool
		// RemoveComponentID is the id of the component item to hide.
		RemoveComponentID string
	}
)

// DecodeToolPayload attempts structured decoding of a raw tool argument or
// result string. Malformed JSON or a non-object value falls back to the raw
// string representation; decoding is never fatal.
func DecodeToolPayload(raw string) Decoded {
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil || obj == nil {
		return Decoded{raw: raw}
	}
	return Decoded{object: obj, raw: raw}
}

// Structured returns the decoded object and true when the payload decoded to
// a JSON object.
func (d Decoded) Structured() (map[string]any, bool) {
	return d.object, d.object != nil
}

// Raw returns the original raw string.
func (d Decoded) Raw() string { return d.raw }

// Value returns the structured object when available, else the raw string.
// Used when embedding the result into wire event payloads.
func (d Decoded) Value() any {
	if d.object != nil {
		return d.object
	}
	return d.raw
}

// ArgsMapping returns the decoded arguments mapping for tool-call-started
// events. A payload that did not decode to an object is wrapped under a
// "raw" key rather than failing the run.
func (d Decoded) ArgsMapping() map[string]any {
	if d.object != nil {
		return d.object
	}
	return map[string]any{"raw": d.raw}
}

// Directives extracts the three embedded directives from a structured
// result. A raw payload carries no directives.
func (d Decoded) Directives() Directives {
	if d.object == nil {
		return Directives{}
	}
	var out Directives
	if msg, ok := d.object["message"].(string); ok {
		out.Message = msg
	}
	if comp, ok := d.object["component"].(map[string]any); ok {
		out.Component = comp
		if id, ok := comp["componentId"].(string); ok && id != "" {
			out.ComponentID = id
		} else if id, ok := comp["id"].(string); ok && id != "" {
			out.ComponentID = id
		}
	}
	if rm, ok := d.object["removeComponentMessage"].(bool); ok && rm {
		if id, ok := d.object["componentId"].(string); ok && id != "" {
			out.Remove = true
			out.RemoveComponentID = id
		}
	}
	return out
}
