package storage

import "encoding/json"

func decodeSnapshot(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
