package utils

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var jsonNumbers = jsoniter.Config{UseNumber: true}.Froze()

// RecordedEvent is one line of a recorded engine callback log.
// Type is "balance" or "scan"; Kind names the scan stream for scan events.
type RecordedEvent struct {
	Type    string         `json:"type"`
	Kind    string         `json:"kind,omitempty"`
	Payload map[string]any `json:"payload"`
}

// LoadEventsFromJSONL reads a JSON-lines file of recorded callbacks. Blank lines and
// lines starting with '#' are skipped; numbers are kept as json.Number.
func LoadEventsFromJSONL(filePath string) ([]RecordedEvent, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var events []RecordedEvent
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var ev RecordedEvent
		if err := jsonNumbers.UnmarshalFromString(line, &ev); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if ev.Type == "" {
			ev.Type = "balance"
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// DecodeObject decodes a JSON object keeping numbers as json.Number.
func DecodeObject(data []byte) (map[string]any, error) {
	var out map[string]any
	if err := jsonNumbers.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("payload is not a JSON object")
	}
	return out, nil
}
