package util

import "strings"

// SanitizeCellText cleans a raw table cell: invalid UTF-8 sequences
// and NUL bytes are dropped so downstream keys, JSON, and log lines
// never carry them.
func SanitizeCellText(value string) string {
	if value == "" {
		return value
	}

	sanitized := strings.ToValidUTF8(value, "")
	return strings.ReplaceAll(sanitized, "\x00", "")
}
