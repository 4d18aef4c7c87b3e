package task

import (
	"encoding/json"
	"fmt"
)

// filterBackfillRange trims data.item to the bars whose date falls within
// [startDate, endDate] inclusive (ISO 8601 dates sort lexically, so a plain
// string compare is exact) and returns the rewritten payload plus the
// filtered count. Other top-level fields of data are left untouched. When
// data is empty, a date is empty, or data has no item field, data is
// returned unchanged with a count of 0.
func filterBackfillRange(data json.RawMessage, startDate, endDate string) (json.RawMessage, int, error) {
	if len(data) == 0 || startDate == "" || endDate == "" {
		return data, 0, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, 0, fmt.Errorf("filterBackfillRange: decode data: %w", err)
	}
	raw, ok := obj["item"]
	if !ok {
		return data, 0, nil
	}

	var bars []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &bars); err != nil {
		return nil, 0, fmt.Errorf("filterBackfillRange: decode item: %w", err)
	}

	kept := make([]map[string]json.RawMessage, 0, len(bars))
	for _, bar := range bars {
		dateRaw, ok := bar["date"]
		if !ok {
			continue
		}
		var date string
		if err := json.Unmarshal(dateRaw, &date); err != nil {
			continue
		}
		if date >= startDate && date <= endDate {
			kept = append(kept, bar)
		}
	}

	keptJSON, err := json.Marshal(kept)
	if err != nil {
		return nil, 0, fmt.Errorf("filterBackfillRange: encode item: %w", err)
	}
	obj["item"] = keptJSON

	rewritten, err := json.Marshal(obj)
	if err != nil {
		return nil, 0, fmt.Errorf("filterBackfillRange: encode data: %w", err)
	}
	return rewritten, len(kept), nil
}
