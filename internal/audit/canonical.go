package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MarshalCanonical returns the deterministic JSON form that audit hashes and
// signatures are computed over. Payloads are decoded into generic maps,
// whose keys encoding/json writes in sorted order; numbers keep their
// textual form and HTML characters are not escaped.
func MarshalCanonical(v interface{}) ([]byte, error) {
	generic, err := toGeneric(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, fmt.Errorf("canonical marshal: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// toGeneric reduces structs and typed maps to map[string]interface{},
// []interface{}, json.Number and scalars.
func toGeneric(v interface{}) (interface{}, error) {
	switch v.(type) {
	case nil, string, bool, json.Number:
		return v, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical marshal: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out interface{}
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("canonical decode: %w", err)
	}
	return out, nil
}
