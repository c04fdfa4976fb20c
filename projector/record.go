package projector

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Record is one decoded telemetry message. Numbers are kept as json.Number.
type Record map[string]interface{}

// DecodeRecord parses a telemetry payload
func DecodeRecord(payload []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var rec Record
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode telemetry: %w", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("decode telemetry: not an object")
	}
	return rec, nil
}

// Print returns the "print" section, the only part carrying printer status
func (r Record) Print() (map[string]interface{}, bool) {
	p, ok := r["print"].(map[string]interface{})
	return p, ok
}
