package upstream

import "encoding/json"

// RecordsCount applies the records_count precedence rule over a validated
// data payload: data.item -> data.list -> data.items -> 1 if data is a
// non-empty object with no such array field -> 0 otherwise.
func RecordsCount(data json.RawMessage) int {
	if len(data) == 0 {
		return 0
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return 0
	}

	for _, field := range []string{"item", "list", "items"} {
		raw, ok := obj[field]
		if !ok {
			continue
		}
		var arr []json.RawMessage
		if err := json.Unmarshal(raw, &arr); err == nil {
			return len(arr)
		}
	}

	if len(obj) > 0 {
		return 1
	}
	return 0
}
