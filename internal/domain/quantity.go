package domain

import (
	"encoding/json"
	"strings"
)

// QuantityInput holds a quantity exactly as the client sent it, either a JSON
// number or a numeric string.
type QuantityInput string

func (q *QuantityInput) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*q = ""
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*q = QuantityInput(strings.TrimSpace(s))
		return nil
	}
	*q = QuantityInput(raw)
	return nil
}

func (q QuantityInput) MarshalJSON() ([]byte, error) {
	raw := strings.TrimSpace(string(q))
	if raw == "" {
		return []byte("null"), nil
	}
	if json.Valid([]byte(raw)) && !strings.HasPrefix(raw, `"`) {
		return []byte(raw), nil
	}
	return json.Marshal(raw)
}
