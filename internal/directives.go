package internal

import (
	"regexp"
	"strings"
)

var fieldDelimiter = regexp.MustCompile(`\s*,\s*`)

// keyValue is one parsed key:value element of a directive list.
type keyValue struct {
	Key   string
	Value string
}

func (kv keyValue) String() string {
	return kv.Key + ":" + kv.Value
}

// splitFieldList splits a comma-separated name list. Surrounding whitespace is
// ignored and empty elements are skipped.
func splitFieldList(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := fieldDelimiter.Split(s, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseKeyValueList splits a comma-separated list of pairs, then splits each
// pair on its first colon. Elements without both a key and a value are
// returned separately and the remaining pairs are still parsed.
func parseKeyValueList(s string) ([]keyValue, []string) {
	elements := splitFieldList(s)
	out := make([]keyValue, 0, len(elements))
	var malformed []string
	for _, e := range elements {
		key, value, ok := strings.Cut(e, ":")
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if !ok || key == "" || value == "" {
			malformed = append(malformed, e)
			continue
		}
		out = append(out, keyValue{Key: key, Value: value})
	}
	return out, malformed
}
