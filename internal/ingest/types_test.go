package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRecord(t *testing.T) {
	line := `{"timestamp":"2026-08-28T10:15:00Z","level":"ERROR","target":"server::domain::ai::service","message":"upstream call failed","fields":{"error_code":"AI5001","request_id":"req-42","attempt":"3"}}`

	rec, err := ParseRecord(line)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 8, 28, 10, 15, 0, 0, time.UTC), rec.Timestamp)
	assert.Equal(t, "ERROR", rec.Level)
	assert.Equal(t, "server::domain::ai::service", rec.Target)
	assert.Equal(t, "upstream call failed", rec.Message)
	assert.Equal(t, "AI5001", rec.ErrorCode)
	assert.Equal(t, "req-42", rec.RequestID)
	assert.Equal(t, map[string]string{"attempt": "3"}, rec.Fields)
}

func TestParseRecordWithoutFields(t *testing.T) {
	line := `{"timestamp":"2026-08-28T10:15:00+09:00","level":"INFO","target":"server::main","message":"started"}`

	rec, err := ParseRecord(line)
	require.NoError(t, err)

	assert.Empty(t, rec.ErrorCode)
	assert.Empty(t, rec.RequestID)
	assert.Nil(t, rec.Fields)
	assert.False(t, rec.IsError())
}

func TestParseRecordRejectsGarbage(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"not json", "plain text line"},
		{"missing level", `{"timestamp":"2026-08-28T10:15:00Z","target":"x","message":"m"}`},
		{"bad timestamp", `{"timestamp":"yesterday","level":"ERROR","target":"x","message":"m"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRecord(tt.line)
			assert.Error(t, err)
		})
	}
}

func TestFingerprint(t *testing.T) {
	rec := LogRecord{ErrorCode: "AI5001", Target: "server::domain::ai::service"}
	assert.Equal(t, "AI5001:server::domain::ai::service", rec.Fingerprint())

	rec.ErrorCode = ""
	assert.Equal(t, "UNKNOWN:server::domain::ai::service", rec.Fingerprint())
}

func TestIsErrorIsCaseInsensitive(t *testing.T) {
	assert.True(t, LogRecord{Level: "error"}.IsError())
	assert.True(t, LogRecord{Level: "ERROR"}.IsError())
	assert.False(t, LogRecord{Level: "WARN"}.IsError())
}

func TestSeverityClassification(t *testing.T) {
	tests := []struct {
		code string
		want Severity
	}{
		{"AI5001", SeverityCritical},
		{"AI5999", SeverityCritical},
		{"AUTH4001", SeverityWarning},
		{"RETRO4002", SeverityWarning},
		{"DB5001", SeverityInfo},
		{"", SeverityInfo},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, LogRecord{ErrorCode: tt.code}.Severity(), "code %q", tt.code)
	}
}
