package pagination

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/samber/lo"
)

// ErrMalformedPayload is returned when a page body is not a JSON array of
// objects carrying an id.
var ErrMalformedPayload = errors.New("malformed page payload")

// Record is one list item. Only the identifier is interpreted; the body is
// passed through untouched.
type Record struct {
	ID   string          `json:"id"`
	Body json.RawMessage `json:"body"`
}

// Field decodes a top-level field of the record body into v.
// It returns false when the field is absent or does not decode into v.
func (r Record) Field(name string, v any) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(r.Body, &fields); err != nil {
		return false
	}
	raw, ok := fields[name]
	if !ok {
		return false
	}
	return json.Unmarshal(raw, v) == nil
}

// DecodeRecords parses a page body: a JSON array whose elements are objects
// with a string or numeric "id".
func DecodeRecords(data []byte) ([]Record, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if items == nil {
		// "null" is not an array
		return nil, fmt.Errorf("%w: expected array", ErrMalformedPayload)
	}

	records := make([]Record, 0, len(items))
	for i, item := range items {
		id, err := decodeID(item)
		if err != nil {
			return nil, fmt.Errorf("%w: item %d: %v", ErrMalformedPayload, i, err)
		}
		records = append(records, Record{ID: id, Body: item})
	}

	return records, nil
}

// IDs returns the identifiers of records in order.
func IDs(records []Record) []string {
	return lo.Map(records, func(r Record, _ int) string {
		return r.ID
	})
}

func decodeID(item json.RawMessage) (string, error) {
	var head struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(item, &head); err != nil {
		return "", err
	}

	raw := bytes.TrimSpace(head.ID)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", errors.New("missing id")
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		if s == "" {
			return "", errors.New("empty id")
		}
		return s, nil
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", fmt.Errorf("id must be a string or number: %v", err)
		}
		if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
			return "", err
		}
		return n.String(), nil
	}
}
