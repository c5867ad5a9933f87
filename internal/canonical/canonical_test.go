package canonical_test

import (
	"encoding/json"
	"testing"

	"github.com/expenseflow/ledger/internal/canonical"
)

func TestMarshalSortedKeys(t *testing.T) {
	a := map[string]interface{}{
		"b": 2,
		"a": 1,
	}
	b := map[string]interface{}{
		"a": 1,
		"b": 2,
	}

	ca, err := canonical.Marshal(a)
	if err != nil {
		t.Fatalf("canonical.Marshal(a) error: %v", err)
	}
	cb, err := canonical.Marshal(b)
	if err != nil {
		t.Fatalf("canonical.Marshal(b) error: %v", err)
	}

	if string(ca) != string(cb) {
		t.Fatalf("canonical outputs differ:\nA: %s\nB: %s", ca, cb)
	}

	// Ensure JSON is valid
	var tmp interface{}
	if err := json.Unmarshal(ca, &tmp); err != nil {
		t.Fatalf("canonical output is not valid JSON: %v", err)
	}
}

func TestMarshalNumbersAndArrays(t *testing.T) {
	in := map[string]interface{}{
		"list": []interface{}{3, 2, 1},
		"num":  json.Number("123.45"),
		"str":  "hello",
		"bool": true,
		"nil":  nil,
	}

	c, err := canonical.Marshal(in)
	if err != nil {
		t.Fatalf("canonical.Marshal error: %v", err)
	}

	var out map[string]interface{}
	if err := json.Unmarshal(c, &out); err != nil {
		t.Fatalf("unmarshal canonical: %v", err)
	}

	if out["str"] != "hello" {
		t.Fatalf("expected str 'hello', got %#v", out["str"])
	}
	if out["bool"] != true {
		t.Fatalf("expected bool true, got %#v", out["bool"])
	}
	if len(out["list"].([]interface{})) != 3 {
		t.Fatalf("expected 3 list elements, got %#v", out["list"])
	}
}

func TestDigestDeterministic(t *testing.T) {
	v := map[string]interface{}{
		"amount":   json.Number("149.99"),
		"currency": "USD",
		"nested":   map[string]interface{}{"z": true, "a": nil},
	}

	d1, err := canonical.Digest(v)
	if err != nil {
		t.Fatalf("canonical.Digest error: %v", err)
	}
	d2, err := canonical.Digest(v)
	if err != nil {
		t.Fatalf("canonical.Digest error: %v", err)
	}
	if d1 != d2 {
		t.Fatalf("digest not deterministic: %s vs %s", d1, d2)
	}
	if len(d1) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(d1))
	}

	v["currency"] = "EUR"
	d3, err := canonical.Digest(v)
	if err != nil {
		t.Fatalf("canonical.Digest error: %v", err)
	}
	if d3 == d1 {
		t.Fatalf("digest unchanged after mutation")
	}
}
