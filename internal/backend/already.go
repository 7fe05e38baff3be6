package backend

import (
	"encoding/json"
	"strings"
)

// Statuses a backend may use to flag a prior association explicitly
var alreadyStatuses = map[string]bool{
	"already_connected": true,
	"already_linked":    true,
}

// Wording used by backends that only report it in prose
var alreadyPhrases = []string{
	"already connected",
	"already associated",
	"already linked",
	"already registered",
}

// alreadyConnected reports whether a response body says the wallet was
// associated before. A structured status field wins over message wording.
func alreadyConnected(body []byte) bool {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return containsPhrase(string(body))
	}

	if m, ok := v.(map[string]any); ok {
		for _, key := range []string{"status", "code"} {
			if s, ok := m[key].(string); ok {
				if alreadyStatuses[strings.ToLower(s)] {
					return true
				}
			}
		}
	}
	return anyString(v, containsPhrase)
}

func containsPhrase(s string) bool {
	s = strings.ToLower(s)
	for _, p := range alreadyPhrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// anyString walks decoded JSON and reports whether any string value matches
func anyString(v any, match func(string) bool) bool {
	switch t := v.(type) {
	case string:
		return match(t)
	case []any:
		for _, e := range t {
			if anyString(e, match) {
				return true
			}
		}
	case map[string]any:
		for _, e := range t {
			if anyString(e, match) {
				return true
			}
		}
	}
	return false
}

// errorMessage extracts a human-readable reason from an error body
func errorMessage(body []byte) string {
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return strings.TrimSpace(string(body))
	}
	for _, key := range []string{"detail", "error", "message", "non_field_errors"} {
		if msg := firstString(m[key]); msg != "" {
			return msg
		}
	}
	for field, v := range m {
		if msg := firstString(v); msg != "" {
			return field + ": " + msg
		}
	}
	return ""
}

func firstString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		for _, e := range t {
			if s := firstString(e); s != "" {
				return s
			}
		}
	}
	return ""
}
