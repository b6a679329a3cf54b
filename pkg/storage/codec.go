package storage

import (
	"encoding/json"
	"fmt"
)

// Values are stored as JSON. fixed.Uint and fixed.Int encode as decimal
// strings, so nothing loses precision on the way through.
func encode(kind string, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", kind, err)
	}
	return data, nil
}

func decode(kind string, data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", kind, err)
	}
	return nil
}
