package airc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// CanonicalMarshal encodes fields as deterministic JSON: keys sorted
// alphabetically, no whitespace. The result is the exact byte sequence
// that gets signed, so both signer and verifier must produce it
// identically. Empty-valued string fields are omitted, matching how a
// signer leaves optional fields out of the signed payload.
func CanonicalMarshal(fields map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(fields))
	for k, v := range fields {
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("canonical encode key %q: %w", k, err)
		}
		vb, err := json.Marshal(fields[k])
		if err != nil {
			return nil, fmt.Errorf("canonical encode value for %q: %w", k, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
