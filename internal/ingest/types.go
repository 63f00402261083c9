package ingest

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Severity classifies an error record for notification purposes.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// LogRecord is one parsed log line. Records are immutable and consumed
// once by the monitoring cycle.
type LogRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`

	// Target is the module path that emitted the record
	// (e.g. "server::domain::ai::service").
	Target  string `json:"target"`
	Message string `json:"message"`

	ErrorCode string `json:"error_code,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	// Fields holds any additional structured fields from the line.
	Fields map[string]string `json:"fields,omitempty"`
}

// Fingerprint identifies "the same error" for deduplication:
// error code (UNKNOWN if absent) plus emitting target.
func (r LogRecord) Fingerprint() string {
	code := r.ErrorCode
	if code == "" {
		code = "UNKNOWN"
	}
	return code + ":" + r.Target
}

// IsError reports whether the record is ERROR level, case-insensitively.
func (r LogRecord) IsError() bool {
	return strings.EqualFold(r.Level, "ERROR")
}

// Severity maps the error code onto a notification severity:
// AI5xxx codes are critical, AUTH4xxx and RETRO4xxx are warnings,
// everything else is informational.
func (r LogRecord) Severity() Severity {
	switch {
	case strings.HasPrefix(r.ErrorCode, "AI5"):
		return SeverityCritical
	case strings.HasPrefix(r.ErrorCode, "AUTH4"), strings.HasPrefix(r.ErrorCode, "RETRO4"):
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// rawRecord mirrors the wire shape of one log line: flat metadata plus a
// nested fields object carrying error_code/request_id and free-form extras.
type rawRecord struct {
	Timestamp string                     `json:"timestamp"`
	Level     string                     `json:"level"`
	Target    string                     `json:"target"`
	Message   string                     `json:"message"`
	Fields    map[string]json.RawMessage `json:"fields"`
}

// ParseRecord parses one JSON log line into a LogRecord.
func ParseRecord(line string) (LogRecord, error) {
	var raw rawRecord
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return LogRecord{}, fmt.Errorf("invalid log line: %w", err)
	}
	if raw.Level == "" {
		return LogRecord{}, fmt.Errorf("log line missing level")
	}

	ts, err := time.Parse(time.RFC3339, raw.Timestamp)
	if err != nil {
		return LogRecord{}, fmt.Errorf("invalid log timestamp %q: %w", raw.Timestamp, err)
	}

	rec := LogRecord{
		Timestamp: ts,
		Level:     raw.Level,
		Target:    raw.Target,
		Message:   raw.Message,
	}

	for key, value := range raw.Fields {
		var str string
		if err := json.Unmarshal(value, &str); err != nil {
			// Non-string field values keep their JSON encoding.
			str = string(value)
		}
		switch key {
		case "error_code":
			rec.ErrorCode = str
		case "request_id":
			rec.RequestID = str
		default:
			if rec.Fields == nil {
				rec.Fields = make(map[string]string)
			}
			rec.Fields[key] = str
		}
	}

	return rec, nil
}
