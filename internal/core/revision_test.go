package core

import (
	"encoding/json"
	"testing"
)

func TestComputeStateHash_Deterministic(t *testing.T) {
	body := json.RawMessage(`{"selectedProvider":"aws","is_live":true}`)
	h1 := ComputeStateHash(body)
	h2 := ComputeStateHash(body)
	if h1 != h2 {
		t.Fatalf("same input produced different hashes: %s vs %s", h1, h2)
	}
}

func TestComputeStateHash_KeyOrderIrrelevant(t *testing.T) {
	h1 := ComputeStateHash(json.RawMessage(`{"a":{"y":1,"x":2},"b":"c"}`))
	h2 := ComputeStateHash(json.RawMessage(`{"b":"c","a":{"x":2,"y":1}}`))
	if h1 != h2 {
		t.Fatalf("different key order produced different hashes: %s vs %s", h1, h2)
	}
}

func TestComputeStateHash_DifferentBody(t *testing.T) {
	h1 := ComputeStateHash(json.RawMessage(`{"selectedProvider":"aws"}`))
	h2 := ComputeStateHash(json.RawMessage(`{"selectedProvider":"gcp"}`))
	if h1 == h2 {
		t.Fatal("different bodies produced same hash")
	}
}

func TestHashState_IgnoresFieldOrderOfExtra(t *testing.T) {
	var a, b WorkspaceState
	if err := json.Unmarshal([]byte(`{"custom":{"k":1,"j":2},"selectedProvider":"aws"}`), &a); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(`{"selectedProvider":"aws","custom":{"j":2,"k":1}}`), &b); err != nil {
		t.Fatal(err)
	}
	ha, err := HashState(a)
	if err != nil {
		t.Fatal(err)
	}
	hb, _ := HashState(b)
	if ha != hb {
		t.Fatalf("expected equal hashes, got %s and %s", ha, hb)
	}
}
