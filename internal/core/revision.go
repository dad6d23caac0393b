package core

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
)

// ComputeStateHash computes SHA-256(sorted_json(state)). Two documents with
// the same content hash equal regardless of key order.
func ComputeStateHash(state json.RawMessage) string {
	h := sha256.New()
	h.Write(sortedJSON(state))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// HashState hashes a workspace state document.
func HashState(s WorkspaceState) (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return ComputeStateHash(b), nil
}

// sortedJSON recursively sorts JSON object keys.
func sortedJSON(data json.RawMessage) []byte {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		var v interface{}
		if err2 := json.Unmarshal(data, &v); err2 != nil {
			return data
		}
		b, _ := json.Marshal(v)
		return b
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := []byte("{")
	for i, k := range keys {
		if i > 0 {
			result = append(result, ',')
		}
		kb, _ := json.Marshal(k)
		result = append(result, kb...)
		result = append(result, ':')
		result = append(result, sortedJSON(obj[k])...)
	}
	result = append(result, '}')
	return result
}
