// Package forgeid derives the forge's stable identifiers: call ids, input
// and result hashes, and the canonical JSON encoding they are computed over.
// Every function here is pure and deterministic so provenance records can be
// independently reproduced from their inputs.
package forgeid

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// CallID returns the leading 16 hex characters of SHA-256 of
// "tool_id:version:ISO-8601 UTC timestamp".
func CallID(toolID, version string, start time.Time) string {
	payload := fmt.Sprintf("%s:%s:%s", toolID, version, start.UTC().Format(time.RFC3339Nano))
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])[:16]
}

// InputHash returns the SHA-256 hex digest of input encoded as stable JSON
// (object keys sorted lexicographically at every level).
func InputHash(input any) (string, error) {
	stable, err := StableJSON(input)
	if err != nil {
		return "", fmt.Errorf("forgeid: encode input: %w", err)
	}
	sum := sha256.Sum256(stable)
	return hex.EncodeToString(sum[:]), nil
}

// ResultHash returns the SHA-256 hex digest of result encoded as stable JSON.
// When result cannot be marshaled as JSON, it falls back to hashing its
// fmt.Sprintf("%v", ...) string form.
func ResultHash(result any) string {
	if stable, err := StableJSON(result); err == nil {
		sum := sha256.Sum256(stable)
		return hex.EncodeToString(sum[:])
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%v", result)))
	return hex.EncodeToString(sum[:])
}

// StableJSON marshals v to JSON with every object's keys sorted
// lexicographically, so the same logical value always produces the same
// bytes regardless of map iteration or struct field order.
func StableJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return marshalStable(generic)
}

func marshalStable(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf = append(buf, kb...)
			buf = append(buf, ':')
			vb, err := marshalStable(val[k])
			if err != nil {
				return nil, err
			}
			buf = append(buf, vb...)
		}
		buf = append(buf, '}')
		return buf, nil
	case []any:
		buf := []byte{'['}
		for i, item := range val {
			if i > 0 {
				buf = append(buf, ',')
			}
			ib, err := marshalStable(item)
			if err != nil {
				return nil, err
			}
			buf = append(buf, ib...)
		}
		buf = append(buf, ']')
		return buf, nil
	default:
		return json.Marshal(val)
	}
}
