package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// PKI is an insertion-ordered object that serializes both to JSON (the actual
// request body) and to the iyzico PKI string the auth hash is computed over.
// The two must walk the fields in the same order, hence a single type.
type PKI struct {
	keys   []string
	values map[string]any
}

// NewPKI creates an empty ordered object.
func NewPKI() *PKI {
	return &PKI{values: make(map[string]any)}
}

// Add sets a field. Values may be string, int, *PKI or []any of those.
func (p *PKI) Add(key string, value any) *PKI {
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
	return p
}

// Get returns the value for key, or nil.
func (p *PKI) Get(key string) any { return p.values[key] }

// Remove deletes a field, preserving the order of the rest.
func (p *PKI) Remove(key string) *PKI {
	if _, ok := p.values[key]; !ok {
		return p
	}
	delete(p.values, key)
	for i, k := range p.keys {
		if k == key {
			p.keys = append(p.keys[:i], p.keys[i+1:]...)
			break
		}
	}
	return p
}

// String renders the PKI request string: objects are
// "[k=v,k=[...]]" with "," between pairs, arrays use ", " between elements,
// and empty values are skipped. Trailing separators are trimmed.
func (p *PKI) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	body := ""
	for _, k := range p.keys {
		v := pkiValue(p.values[k])
		if v == "" {
			continue
		}
		body += k + "=" + v + ","
	}
	sb.WriteString(strings.TrimSuffix(body, ","))
	sb.WriteByte(']')
	return sb.String()
}

func pkiValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case *PKI:
		return t.String()
	case []any:
		if len(t) == 0 {
			return ""
		}
		parts := make([]string, 0, len(t))
		for _, e := range t {
			if s := pkiValue(e); s != "" {
				parts = append(parts, s)
			}
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprintf("%v", t)
	}
}

// MarshalJSON emits the fields in insertion order.
func (p *PKI) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	for _, k := range p.keys {
		v := p.values[k]
		if v == nil {
			continue
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
