package repository

import "encoding/json"

// unmarshalJSON treats an empty column as the zero value.
func unmarshalJSON(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
