package events

import (
	"regexp"
	"strings"
)

// OutputParser turns captured replica output lines into log_line
// events. Lines that look like errors are recorded at error severity so
// `stackrun events` can surface them without replaying full logs.
type OutputParser struct {
	// Project is the stack the replica belongs to
	Project string
	// Service is the replica's service name
	Service string
	// Replica is the replica ordinal
	Replica int

	lineCount int
}

// errorLineRe matches common error prefixes across runtimes and
// languages. Deliberately loose: a false positive costs one mislabeled
// event.
var errorLineRe = regexp.MustCompile(`(?i)(^\s*(error|fatal|panic|traceback|exception)\b|\berror:)`)

// warnLineRe matches common warning prefixes.
var warnLineRe = regexp.MustCompile(`(?i)(^\s*warn(ing)?\b|\bwarning:)`)

// ParseLine converts one output line into an event. Blank lines return
// nil.
func (p *OutputParser) ParseLine(line, stream string) *Event {
	p.lineCount++
	trimmed := strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(trimmed) == "" {
		return nil
	}

	severity := SeverityInfo
	switch {
	case errorLineRe.MatchString(trimmed):
		severity = SeverityError
	case warnLineRe.MatchString(trimmed):
		severity = SeverityWarning
	case stream == "stderr":
		// Plenty of programs log routine output to stderr, so stderr
		// alone only bumps severity to warning.
		severity = SeverityWarning
	}

	event := New(EventTypeLogLine, p.Project, severity, trimmed)
	event.ForReplica(p.Service, p.Replica)
	event.WithData(map[string]interface{}{
		"stream": stream,
		"line":   trimmed,
	})
	return event
}

// LineCount reports how many lines have been fed to the parser,
// including blank ones.
func (p *OutputParser) LineCount() int {
	return p.lineCount
}
