package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLineSeverity(t *testing.T) {
	parser := &OutputParser{Project: "demo", Service: "worker", Replica: 2}

	tests := []struct {
		name     string
		line     string
		stream   string
		severity EventSeverity
	}{
		{name: "plain stdout", line: "processing batch 12", stream: "stdout", severity: SeverityInfo},
		{name: "stderr defaults to warning", line: "connecting to db", stream: "stderr", severity: SeverityWarning},
		{name: "error prefix", line: "ERROR: connection refused", stream: "stdout", severity: SeverityError},
		{name: "panic", line: "panic: runtime error: index out of range", stream: "stderr", severity: SeverityError},
		{name: "python traceback", line: "Traceback (most recent call last):", stream: "stderr", severity: SeverityError},
		{name: "embedded error", line: "job failed with error: timeout", stream: "stdout", severity: SeverityError},
		{name: "warning prefix", line: "WARN slow query", stream: "stdout", severity: SeverityWarning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := parser.ParseLine(tt.line, tt.stream)
			require.NotNil(t, event)
			assert.Equal(t, EventTypeLogLine, event.Type)
			assert.Equal(t, tt.severity, event.Severity)
			assert.Equal(t, "worker", event.Service)
			assert.Equal(t, 2, event.Replica)
			assert.Equal(t, tt.stream, event.Data["stream"])
		})
	}
}

func TestParseLineSkipsBlank(t *testing.T) {
	parser := &OutputParser{Project: "demo", Service: "worker", Replica: 1}
	assert.Nil(t, parser.ParseLine("", "stdout"))
	assert.Nil(t, parser.ParseLine("   \r\n", "stdout"))
	assert.Equal(t, 2, parser.LineCount())
}

func TestParseLineTrimsNewline(t *testing.T) {
	parser := &OutputParser{Project: "demo", Service: "worker", Replica: 1}
	event := parser.ParseLine("hello\n", "stdout")
	require.NotNil(t, event)
	assert.Equal(t, "hello", event.Message)
}
