package ai

import (
	"bytes"
	"encoding/json"
)

// NoDiagnosisText is returned when a reply matches none of the known shapes
const NoDiagnosisText = "No diagnosis returned"

// Shape identifies which provider reply layout a text was extracted from
type Shape int

const (
	ShapeUnrecognized Shape = iota
	ShapeText
	ShapeContentParts
	ShapeParts
	ShapeTextField
)

func (s Shape) String() string {
	switch s {
	case ShapeText:
		return "text"
	case ShapeContentParts:
		return "content_parts"
	case ShapeParts:
		return "parts"
	case ShapeTextField:
		return "text_field"
	default:
		return "unrecognized"
	}
}

// Reply is the canonical form of a provider reply
type Reply struct {
	Shape Shape
	Text  string
}

// Normalize extracts the diagnosis text from a raw reply. It never fails:
// input that matches no known layout yields NoDiagnosisText.
//
// Precedence: a JSON string; content.parts[0].text; top-level parts[0].text
// (only when there is no content field); a top-level text field.
// Keys are matched exactly, so {"TEXT":"x"} is unrecognized.
func Normalize(raw RawReply) Reply {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Reply{Shape: ShapeUnrecognized, Text: NoDiagnosisText}
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return Reply{Shape: ShapeUnrecognized, Text: NoDiagnosisText}
		}
		return Reply{Shape: ShapeText, Text: s}
	case '{':
	default:
		return Reply{Shape: ShapeUnrecognized, Text: NoDiagnosisText}
	}

	obj, ok := decodeObject(trimmed)
	if !ok {
		return Reply{Shape: ShapeUnrecognized, Text: NoDiagnosisText}
	}

	// a field of the wrong type is skipped, the others still count
	if content, ok := decodeObject(obj["content"]); ok {
		if text, ok := firstPartText(content["parts"]); ok {
			return Reply{Shape: ShapeContentParts, Text: text}
		}
	} else if text, ok := firstPartText(obj["parts"]); ok {
		return Reply{Shape: ShapeParts, Text: text}
	}

	if text, ok := decodeString(obj["text"]); ok {
		return Reply{Shape: ShapeTextField, Text: text}
	}

	return Reply{Shape: ShapeUnrecognized, Text: NoDiagnosisText}
}

func decodeObject(raw json.RawMessage) (map[string]json.RawMessage, bool) {
	var obj map[string]json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &obj) != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

func decodeString(raw json.RawMessage) (string, bool) {
	var s *string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil || s == nil {
		return "", false
	}
	return *s, true
}

func firstPartText(raw json.RawMessage) (string, bool) {
	var parts []json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &parts) != nil || len(parts) == 0 {
		return "", false
	}
	part, ok := decodeObject(parts[0])
	if !ok {
		return "", false
	}
	return decodeString(part["text"])
}
