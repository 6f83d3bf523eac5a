package codec

import (
	"net/url"
	"strings"
)

// FormValues is an insertion-ordered set of form fields. Some acquirer
// validators are order sensitive, which rules out url.Values.
type FormValues struct {
	keys   []string
	values map[string]string
}

// NewFormValues creates an empty ordered form.
func NewFormValues() *FormValues {
	return &FormValues{values: make(map[string]string)}
}

// Set adds or replaces a field, keeping first-insertion order.
func (f *FormValues) Set(key, value string) *FormValues {
	if _, ok := f.values[key]; !ok {
		f.keys = append(f.keys, key)
	}
	f.values[key] = value
	return f
}

// Get returns the value for key, or "".
func (f *FormValues) Get(key string) string {
	return f.values[key]
}

// Keys returns the field names in insertion order.
func (f *FormValues) Keys() []string {
	out := make([]string, len(f.keys))
	copy(out, f.keys)
	return out
}

// Len returns the number of fields.
func (f *FormValues) Len() int { return len(f.keys) }

// Encode renders application/x-www-form-urlencoded output in insertion order.
func (f *FormValues) Encode() string {
	var sb strings.Builder
	for i, k := range f.keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(k))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(f.values[k]))
	}
	return sb.String()
}

// Map returns an unordered copy of the fields for logging.
func (f *FormValues) Map() map[string]string {
	out := make(map[string]string, len(f.values))
	for k, v := range f.values {
		out[k] = v
	}
	return out
}
