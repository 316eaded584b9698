// Package checksum provides integrity digests for transaction payloads.
// Digests are sha256 over a canonical JSON serialization (object keys
// sorted recursively), so two encodings of the same payload always hash
// to the same value regardless of key order.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Compute returns the hex-encoded digest of the given JSON payload.
func Compute(payload json.RawMessage) (string, error) {
	canonical, err := Canonicalize(payload)
	if err != nil {
		return "", fmt.Errorf("canonicalize payload: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Verify reports whether digest matches a fresh digest of payload.
// A mismatch indicates storage corruption, not a business conflict.
func Verify(payload json.RawMessage, digest string) bool {
	fresh, err := Compute(payload)
	if err != nil {
		return false
	}
	return fresh == digest
}

// Canonicalize re-encodes a JSON document with object keys sorted at every
// nesting level. Array order is preserved; numbers keep their original
// textual form via json.Number to avoid float round-tripping.
func Canonicalize(payload json.RawMessage) ([]byte, error) {
	dec := json.NewDecoder(strings.NewReader(string(payload)))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	var b strings.Builder
	if err := writeCanonical(&b, v); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

func writeCanonical(b *strings.Builder, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			keyJSON, err := json.Marshal(k)
			if err != nil {
				return err
			}
			b.Write(keyJSON)
			b.WriteByte(':')
			if err := writeCanonical(b, val[k]); err != nil {
				return err
			}
		}
		b.WriteByte('}')
		return nil

	case []any:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeCanonical(b, item); err != nil {
				return err
			}
		}
		b.WriteByte(']')
		return nil

	case json.Number:
		b.WriteString(val.String())
		return nil

	default:
		data, err := json.Marshal(val)
		if err != nil {
			return err
		}
		b.Write(data)
		return nil
	}
}
