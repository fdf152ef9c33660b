// Package chunker splits specification documents into independently
// embeddable chunks with deterministic, collision-free storage keys.
package chunker

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/seanblong/specsearch/pkg/models"
)

// DefaultWindow is the generic-path window size in elements.
const DefaultWindow = 20

// DefaultPrefix is the storage key prefix for chunk objects.
const DefaultPrefix = "chunks/"

// DecodeError reports a malformed source document.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "chunker: decode: " + e.Err.Error() }

func (e *DecodeError) Unwrap() error { return e.Err }

// Chunker cuts source documents into chunks. Documents with a ResourceTypes
// field take the config-spec path (one chunk per resource type); anything
// else is windowed generically.
type Chunker struct {
	Prefix string
	Window int
}

// New creates a Chunker. Zero values fall back to DefaultPrefix and
// DefaultWindow.
func New(prefix string, window int) *Chunker {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Chunker{Prefix: prefix, Window: window}
}

type rawMember struct {
	key string
	raw json.RawMessage
}

// Split decomposes src into chunks. An empty document yields zero chunks and
// no error; malformed JSON yields a DecodeError. Re-running Split on the same
// input produces the same chunk keys.
func (c *Chunker) Split(src []byte, sourceKey string) ([]models.Chunk, error) {
	trimmed := bytes.TrimSpace(src)
	if len(trimmed) == 0 {
		return nil, nil
	}

	switch trimmed[0] {
	case '{':
		members, err := decodeOrderedObject(trimmed)
		if err != nil {
			return nil, &DecodeError{Err: err}
		}
		for _, m := range members {
			if m.key == "ResourceTypes" {
				return c.splitConfigSpec(members)
			}
		}
		return c.splitGenericObject(members, sourceKey)
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, &DecodeError{Err: err}
		}
		return c.splitGenericArray(items, sourceKey)
	default:
		return nil, &DecodeError{Err: fmt.Errorf("document is not a JSON object or array")}
	}
}

// splitConfigSpec builds one chunk per resource type, folding in every
// property-type entry that shares the resource type's dotted prefix. Property
// prefixes that match no declared resource type get their own supplementary
// properties chunk so nothing is silently dropped; the per-resource
// relatedProperties mapping stays authoritative.
func (c *Chunker) splitConfigSpec(members []rawMember) ([]models.Chunk, error) {
	var resourceTypes, propertyTypes []rawMember
	for _, m := range members {
		var err error
		switch m.key {
		case "ResourceTypes":
			resourceTypes, err = decodeOrderedObject(m.raw)
		case "PropertyTypes":
			propertyTypes, err = decodeOrderedObject(m.raw)
		}
		if err != nil {
			return nil, &DecodeError{Err: fmt.Errorf("%s: %w", m.key, err)}
		}
	}

	declared := make(map[string]bool, len(resourceTypes))
	for _, rt := range resourceTypes {
		declared[rt.key] = true
	}

	// Bucket property types by their owning resource-type prefix.
	related := map[string][]rawMember{}
	for _, pt := range propertyTypes {
		prefix := pt.key
		if i := strings.Index(pt.key, "."); i >= 0 {
			prefix = pt.key[:i]
		}
		related[prefix] = append(related[prefix], pt)
	}

	chunks := make([]models.Chunk, 0, len(resourceTypes))
	for _, rt := range sortedByKey(resourceTypes) {
		body := resourceBody(rt.key, rt.raw, related[rt.key])
		chunks = append(chunks, models.Chunk{
			Key:          c.Prefix + normalizeName(rt.key) + ".json",
			ResourceType: rt.key,
			Body:         body,
		})
	}

	// Supplementary chunks for property prefixes not covered by any declared
	// resource type.
	orphans := make([]string, 0)
	for prefix := range related {
		if !declared[prefix] {
			orphans = append(orphans, prefix)
		}
	}
	sort.Strings(orphans)
	for _, prefix := range orphans {
		body := resourceBody(prefix, nil, related[prefix])
		chunks = append(chunks, models.Chunk{
			Key:          c.Prefix + normalizeName(prefix) + "_properties.json",
			ResourceType: prefix,
			Body:         body,
		})
	}
	return chunks, nil
}

// resourceBody splices the chunk payload together as raw JSON so the
// resource's declared field order survives into the stored object.
func resourceBody(resourceType string, fields json.RawMessage, related []rawMember) json.RawMessage {
	var b bytes.Buffer
	name, _ := json.Marshal(resourceType)
	b.WriteString(`{"resourceType":`)
	b.Write(name)

	if inner := innerObject(fields); len(inner) > 0 {
		b.WriteByte(',')
		b.Write(inner)
	}

	b.WriteString(`,"relatedProperties":{`)
	for i, r := range sortedByKey(related) {
		if i > 0 {
			b.WriteByte(',')
		}
		k, _ := json.Marshal(r.key)
		b.Write(k)
		b.WriteByte(':')
		b.Write(compact(r.raw))
	}
	b.WriteString("}}")
	return append(json.RawMessage(nil), b.Bytes()...)
}

// innerObject returns the members of a raw JSON object without the
// surrounding braces, or nil if raw is not a non-empty object.
func innerObject(raw json.RawMessage) []byte {
	s := compact(raw)
	if len(s) < 2 || s[0] != '{' {
		return nil
	}
	return bytes.TrimSpace(s[1 : len(s)-1])
}

func compact(raw json.RawMessage) []byte {
	var b bytes.Buffer
	if err := json.Compact(&b, raw); err != nil {
		return bytes.TrimSpace(raw)
	}
	return b.Bytes()
}

func (c *Chunker) splitGenericArray(items []json.RawMessage, sourceKey string) ([]models.Chunk, error) {
	var chunks []models.Chunk
	for i := 0; i*c.Window < len(items); i++ {
		lo, hi := i*c.Window, (i+1)*c.Window
		if hi > len(items) {
			hi = len(items)
		}
		var b bytes.Buffer
		b.WriteByte('[')
		for j, it := range items[lo:hi] {
			if j > 0 {
				b.WriteByte(',')
			}
			b.Write(compact(it))
		}
		b.WriteByte(']')
		chunks = append(chunks, models.Chunk{
			Key:  c.genericKey(sourceKey, i),
			Body: append(json.RawMessage(nil), b.Bytes()...),
		})
	}
	return chunks, nil
}

func (c *Chunker) splitGenericObject(members []rawMember, sourceKey string) ([]models.Chunk, error) {
	var chunks []models.Chunk
	for i := 0; i*c.Window < len(members); i++ {
		lo, hi := i*c.Window, (i+1)*c.Window
		if hi > len(members) {
			hi = len(members)
		}
		var b bytes.Buffer
		b.WriteByte('{')
		for j, m := range members[lo:hi] {
			if j > 0 {
				b.WriteByte(',')
			}
			k, _ := json.Marshal(m.key)
			b.Write(k)
			b.WriteByte(':')
			b.Write(compact(m.raw))
		}
		b.WriteByte('}')
		chunks = append(chunks, models.Chunk{
			Key:  c.genericKey(sourceKey, i),
			Body: append(json.RawMessage(nil), b.Bytes()...),
		})
	}
	return chunks, nil
}

func (c *Chunker) genericKey(sourceKey string, window int) string {
	return fmt.Sprintf("%s%s_chunk_%d.json", c.Prefix, normalizeSourceKey(sourceKey), window)
}

// normalizeName maps a resource-type name to a filesystem/key-safe form,
// e.g. AWS::EC2::Instance -> AWS_EC2_Instance.
func normalizeName(name string) string {
	return strings.ReplaceAll(strings.ReplaceAll(name, "::", "_"), ":", "_")
}

// normalizeSourceKey derives a key-safe base name from an object-storage key.
func normalizeSourceKey(key string) string {
	base := path.Base(strings.TrimSuffix(key, "/"))
	base = strings.TrimSuffix(base, path.Ext(base))
	if base == "" || base == "." {
		base = "document"
	}
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func sortedByKey(members []rawMember) []rawMember {
	out := append([]rawMember(nil), members...)
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

func decodeOrderedObject(src []byte) ([]rawMember, error) {
	dec := json.NewDecoder(bytes.NewReader(src))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New("expected JSON object")
	}
	var members []rawMember
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("expected object key, got %v", keyTok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
		members = append(members, rawMember{key: key, raw: raw})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return members, nil
}
