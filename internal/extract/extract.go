// Package extract renders resource-specification records as plain text
// suitable for embedding. Rendering is deterministic and preserves the
// declared order of the record's fields.
package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ExtractionError reports a record that is not a well-formed JSON object.
type ExtractionError struct {
	Err error
}

func (e *ExtractionError) Error() string { return "extract: " + e.Err.Error() }

func (e *ExtractionError) Unwrap() error { return e.Err }

// Member is one key/value pair of a JSON object, in declared order. Nested
// objects decode as []Member and arrays as []any.
type Member struct {
	Key   string
	Value any
}

// DecodeObject parses a JSON object while preserving member order, which the
// standard map-based decoding discards.
func DecodeObject(data []byte) ([]Member, error) {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}
	members, err := decodeMembers(dec)
	if err != nil {
		return nil, err
	}
	// Trailing garbage after the closing brace is malformed input.
	if dec.More() {
		return nil, errors.New("unexpected data after object")
	}
	return members, nil
}

// decodeArray parses a JSON array with the same order-preserving decoding as
// DecodeObject.
func decodeArray(data []byte) ([]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	v, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected array, got %T", v)
	}
	if dec.More() {
		return nil, errors.New("unexpected data after array")
	}
	return items, nil
}

func decodeMembers(dec *json.Decoder) ([]Member, error) {
	members := []Member{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected object key, got %v", tok)
		}
		val, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		members = append(members, Member{Key: key, Value: val})
	}
	// Consume the closing '}'.
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return members, nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return decodeMembers(dec)
		case '[':
			items := []any{}
			for dec.More() {
				v, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				items = append(items, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return items, nil
		}
		return nil, fmt.Errorf("unexpected delimiter %v", t)
	default:
		return t, nil
	}
}

// Text turns one specification record into a single text block. Records that
// carry a resourceType marker render in a fixed line-oriented format; object
// records without one and array records (the generic chunk path) fall back to
// an order-preserving structural serialization. Missing optional fields never
// fail; only malformed input does.
func Text(record []byte) (string, error) {
	if trimmed := bytes.TrimSpace(record); len(trimmed) > 0 && trimmed[0] == '[' {
		items, err := decodeArray(trimmed)
		if err != nil {
			return "", &ExtractionError{Err: err}
		}
		var b strings.Builder
		writeItems(&b, items, 0)
		return strings.TrimRight(b.String(), "\n"), nil
	}

	members, err := DecodeObject(record)
	if err != nil {
		return "", &ExtractionError{Err: err}
	}

	if rt, ok := stringField(members, "resourceType", "ResourceType"); ok {
		return resourceText(rt, members), nil
	}
	var b strings.Builder
	writeMembers(&b, members, 0)
	return strings.TrimRight(b.String(), "\n"), nil
}

func resourceText(resourceType string, members []Member) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Resource Type: %s\n", resourceType)
	if doc, ok := stringField(members, "documentation", "Documentation"); ok && doc != "" {
		fmt.Fprintf(&b, "Documentation: %s\n", doc)
	}
	if props, ok := objectField(members, "properties", "Properties"); ok {
		for _, p := range props {
			writeProperty(&b, p.Key, p.Value, "")
		}
	}
	if related, ok := objectField(members, "relatedProperties", "RelatedProperties"); ok {
		for _, r := range related {
			fmt.Fprintf(&b, "Property Type: %s\n", r.Key)
			sub, ok := r.Value.([]Member)
			if !ok {
				continue
			}
			if doc, ok := stringField(sub, "documentation", "Documentation"); ok && doc != "" {
				fmt.Fprintf(&b, "  Documentation: %s\n", doc)
			}
			if props, ok := objectField(sub, "properties", "Properties"); ok {
				for _, p := range props {
					writeProperty(&b, p.Key, p.Value, "  ")
				}
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// writeProperty emits one property line: name, documentation, declared type
// and the required flag, in that order.
func writeProperty(b *strings.Builder, name string, value any, indent string) {
	fmt.Fprintf(b, "%sProperty %s:", indent, name)
	spec, ok := value.([]Member)
	if !ok {
		fmt.Fprintf(b, " %s\n", scalarString(value))
		return
	}
	if doc, ok := stringField(spec, "documentation", "Documentation"); ok && doc != "" {
		fmt.Fprintf(b, " %s", doc)
	}
	typ, hasType := stringField(spec, "primitiveType", "PrimitiveType", "type", "Type")
	req, hasReq := boolField(spec, "required", "Required")
	switch {
	case hasType && hasReq:
		fmt.Fprintf(b, " (Type: %s, Required: %t)", typ, req)
	case hasType:
		fmt.Fprintf(b, " (Type: %s)", typ)
	case hasReq:
		fmt.Fprintf(b, " (Required: %t)", req)
	}
	b.WriteString("\n")
}

// writeMembers is the generic fallback: an indented, human-readable rendering
// of the whole record in declared order.
func writeMembers(b *strings.Builder, members []Member, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, m := range members {
		switch v := m.Value.(type) {
		case []Member:
			fmt.Fprintf(b, "%s%s:\n", indent, m.Key)
			writeMembers(b, v, depth+1)
		case []any:
			fmt.Fprintf(b, "%s%s:\n", indent, m.Key)
			writeItems(b, v, depth+1)
		default:
			fmt.Fprintf(b, "%s%s: %s\n", indent, m.Key, scalarString(v))
		}
	}
}

func writeItems(b *strings.Builder, items []any, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, it := range items {
		switch v := it.(type) {
		case []Member:
			fmt.Fprintf(b, "%s-\n", indent)
			writeMembers(b, v, depth+1)
		case []any:
			fmt.Fprintf(b, "%s-\n", indent)
			writeItems(b, v, depth+1)
		default:
			fmt.Fprintf(b, "%s- %s\n", indent, scalarString(v))
		}
	}
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return fmt.Sprintf("%t", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func stringField(members []Member, names ...string) (string, bool) {
	for _, n := range names {
		for _, m := range members {
			if m.Key == n {
				if s, ok := m.Value.(string); ok {
					return s, true
				}
			}
		}
	}
	return "", false
}

func objectField(members []Member, names ...string) ([]Member, bool) {
	for _, n := range names {
		for _, m := range members {
			if m.Key == n {
				if o, ok := m.Value.([]Member); ok {
					return o, true
				}
			}
		}
	}
	return nil, false
}

func boolField(members []Member, names ...string) (bool, bool) {
	for _, n := range names {
		for _, m := range members {
			if m.Key == n {
				if v, ok := m.Value.(bool); ok {
					return v, true
				}
			}
		}
	}
	return false, false
}
