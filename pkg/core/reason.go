package core

import "strings"

// ReasonTrailer ends every formatted change reason.
const ReasonTrailer = "Recorded-by: dealroom"

// FormatChangeReason builds a change reason in Conventional Commit shape:
//
//	<kind>(<scope>): <subject>
//
//	<body>
//
//	Recorded-by: dealroom
//
// kind names the record type ("proposal", "message"); scope is usually the
// conversation id. Versioned adapters use the first line as commit subject.
func FormatChangeReason(kind, scope, subject, body string) string {
	var sb strings.Builder
	if kind == "" {
		kind = "update"
	}
	sb.WriteString(kind)
	if scope != "" {
		sb.WriteString("(")
		sb.WriteString(scope)
		sb.WriteString(")")
	}
	sb.WriteString(": ")
	sb.WriteString(subject)

	if body = strings.TrimSpace(body); body != "" {
		sb.WriteString("\n\n")
		sb.WriteString(body)
	}
	sb.WriteString("\n\n")
	sb.WriteString(ReasonTrailer)
	return sb.String()
}
