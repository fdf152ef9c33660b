package chunker

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestSplit_ConfigSpec(t *testing.T) {
	src := []byte(`{
		"ResourceTypes": {
			"AWS::EC2::Instance": {"documentation": "An EC2 instance"}
		},
		"PropertyTypes": {
			"AWS::EC2::Instance.Tag": {"documentation": "A tag"}
		}
	}`)

	chunks, err := New("", 0).Split(src, "config-specs/spec.json")
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}

	ch := chunks[0]
	if ch.Key != "chunks/AWS_EC2_Instance.json" {
		t.Errorf("Key = %q, want %q", ch.Key, "chunks/AWS_EC2_Instance.json")
	}
	if ch.ResourceType != "AWS::EC2::Instance" {
		t.Errorf("ResourceType = %q", ch.ResourceType)
	}

	var body struct {
		ResourceType      string                     `json:"resourceType"`
		Documentation     string                     `json:"documentation"`
		RelatedProperties map[string]json.RawMessage `json:"relatedProperties"`
	}
	if err := json.Unmarshal(ch.Body, &body); err != nil {
		t.Fatalf("chunk body is not valid JSON: %v", err)
	}
	if body.ResourceType != "AWS::EC2::Instance" {
		t.Errorf("body.resourceType = %q", body.ResourceType)
	}
	if body.Documentation != "An EC2 instance" {
		t.Errorf("body.documentation = %q", body.Documentation)
	}
	if _, ok := body.RelatedProperties["AWS::EC2::Instance.Tag"]; !ok {
		t.Errorf("relatedProperties missing AWS::EC2::Instance.Tag: %s", ch.Body)
	}
}

func TestSplit_ConfigSpecCoverage(t *testing.T) {
	// Every property-type entry sharing a resource type's dotted prefix must
	// land in that resource's chunk, and only there.
	src := []byte(`{
		"ResourceTypes": {
			"AWS::EC2::Instance": {},
			"AWS::S3::Bucket": {}
		},
		"PropertyTypes": {
			"AWS::EC2::Instance.Tag": {},
			"AWS::EC2::Instance.BlockDeviceMapping": {},
			"AWS::S3::Bucket.VersioningConfiguration": {}
		}
	}`)

	chunks, err := New("", 0).Split(src, "config-specs/spec.json")
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}

	related := map[string][]string{}
	for _, ch := range chunks {
		var body struct {
			RelatedProperties map[string]json.RawMessage `json:"relatedProperties"`
		}
		if err := json.Unmarshal(ch.Body, &body); err != nil {
			t.Fatalf("unmarshal %s: %v", ch.Key, err)
		}
		for k := range body.RelatedProperties {
			related[ch.ResourceType] = append(related[ch.ResourceType], k)
		}
	}
	if got := len(related["AWS::EC2::Instance"]); got != 2 {
		t.Errorf("EC2 chunk carries %d related properties, want 2", got)
	}
	if got := len(related["AWS::S3::Bucket"]); got != 1 {
		t.Errorf("S3 chunk carries %d related properties, want 1", got)
	}
}

func TestSplit_OrphanPropertyTypes(t *testing.T) {
	src := []byte(`{
		"ResourceTypes": {"AWS::EC2::Instance": {}},
		"PropertyTypes": {
			"AWS::EC2::Instance.Tag": {},
			"AWS::Lambda::Function.Code": {}
		}
	}`)

	chunks, err := New("", 0).Split(src, "config-specs/spec.json")
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks (resource + orphan properties), got %d", len(chunks))
	}

	orphan := chunks[1]
	if orphan.Key != "chunks/AWS_Lambda_Function_properties.json" {
		t.Errorf("orphan Key = %q", orphan.Key)
	}
	var body struct {
		RelatedProperties map[string]json.RawMessage `json:"relatedProperties"`
	}
	if err := json.Unmarshal(orphan.Body, &body); err != nil {
		t.Fatalf("unmarshal orphan body: %v", err)
	}
	if _, ok := body.RelatedProperties["AWS::Lambda::Function.Code"]; !ok {
		t.Errorf("orphan chunk missing property entry: %s", orphan.Body)
	}
}

func TestSplit_PreservesDeclaredFieldOrder(t *testing.T) {
	src := []byte(`{
		"ResourceTypes": {
			"AWS::EC2::Instance": {"zebra": 1, "alpha": 2}
		}
	}`)

	chunks, err := New("", 0).Split(src, "config-specs/spec.json")
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	body := string(chunks[0].Body)
	if strings.Index(body, `"zebra"`) > strings.Index(body, `"alpha"`) {
		t.Errorf("declared field order not preserved: %s", body)
	}
}

func TestSplit_GenericArrayWindows(t *testing.T) {
	items := make([]string, 0, 45)
	for i := 0; i < 45; i++ {
		items = append(items, fmt.Sprintf(`{"n": %d}`, i))
	}
	src := []byte("[" + strings.Join(items, ",") + "]")

	chunks, err := New("", 20).Split(src, "data/events.json")
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}

	wantSizes := []int{20, 20, 5}
	for i, ch := range chunks {
		wantKey := fmt.Sprintf("chunks/events_chunk_%d.json", i)
		if ch.Key != wantKey {
			t.Errorf("chunk %d Key = %q, want %q", i, ch.Key, wantKey)
		}
		var got []json.RawMessage
		if err := json.Unmarshal(ch.Body, &got); err != nil {
			t.Fatalf("chunk %d body: %v", i, err)
		}
		if len(got) != wantSizes[i] {
			t.Errorf("chunk %d has %d items, want %d", i, len(got), wantSizes[i])
		}
	}
}

func TestSplit_GenericObjectWindows(t *testing.T) {
	var b strings.Builder
	b.WriteByte('{')
	for i := 0; i < 25; i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, `"key%02d": %d`, i, i)
	}
	b.WriteByte('}')

	chunks, err := New("", 20).Split([]byte(b.String()), "data/settings.json")
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	var first map[string]int
	if err := json.Unmarshal(chunks[0].Body, &first); err != nil {
		t.Fatalf("chunk 0 body: %v", err)
	}
	if len(first) != 20 {
		t.Errorf("chunk 0 has %d members, want 20", len(first))
	}
}

func TestSplit_IdempotentKeys(t *testing.T) {
	src := []byte(`{
		"ResourceTypes": {"AWS::SNS::Topic": {}, "AWS::EC2::Instance": {}},
		"PropertyTypes": {"AWS::EC2::Instance.Tag": {}}
	}`)

	c := New("", 0)
	first, err := c.Split(src, "config-specs/spec.json")
	if err != nil {
		t.Fatalf("first Split() error = %v", err)
	}
	second, err := c.Split(src, "config-specs/spec.json")
	if err != nil {
		t.Fatalf("second Split() error = %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("chunk counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Key != second[i].Key {
			t.Errorf("chunk %d keys differ: %q vs %q", i, first[i].Key, second[i].Key)
		}
	}
}

func TestSplit_EmptyDocument(t *testing.T) {
	for _, src := range []string{"", "   ", "\n\t"} {
		chunks, err := New("", 0).Split([]byte(src), "data/empty.json")
		if err != nil {
			t.Errorf("Split(%q) error = %v", src, err)
		}
		if len(chunks) != 0 {
			t.Errorf("Split(%q) = %d chunks, want 0", src, len(chunks))
		}
	}
}

func TestSplit_Malformed(t *testing.T) {
	tests := []string{`{"a":`, `[1, 2`, `"scalar"`, `42`}
	for _, src := range tests {
		_, err := New("", 0).Split([]byte(src), "data/bad.json")
		var de *DecodeError
		if !errors.As(err, &de) {
			t.Errorf("Split(%q) error = %v, want DecodeError", src, err)
		}
	}
}

func TestNew_Defaults(t *testing.T) {
	c := New("", 0)
	if c.Prefix != DefaultPrefix {
		t.Errorf("Prefix = %q, want %q", c.Prefix, DefaultPrefix)
	}
	if c.Window != DefaultWindow {
		t.Errorf("Window = %d, want %d", c.Window, DefaultWindow)
	}
}

func TestNormalizeSourceKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"config-specs/spec.json", "spec"},
		{"data/my file (v2).json", "my_file__v2_"},
		{"", "document"},
		{"nested/dir/events.json", "events"},
	}
	for _, tt := range tests {
		if got := normalizeSourceKey(tt.key); got != tt.want {
			t.Errorf("normalizeSourceKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}
