package storage

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
)

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}

// setJSON marshals v into the batch under k
func setJSON(w pebble.Writer, k []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %q: %w", k, err)
	}
	return w.Set(k, data, nil)
}
