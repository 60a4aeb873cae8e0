// Package jsonutil decodes untrusted model output into typed values.
// Model responses are treated as hostile payloads: direct unmarshalling is
// attempted first, then a single best-effort recovery pass (unicode
// normalization, balanced-brace extraction) before giving up.
package jsonutil

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoObject is returned by ExtractObject when no balanced JSON object is
// present in the input.
var ErrNoObject = errors.New("jsonutil: no JSON object found")

// Unmarshal decodes raw into v with best effort:
// 1) direct unmarshal
// 2) unicode-normalized unmarshal
// 3) extract the outermost balanced brace region and retry once
func Unmarshal(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err == nil {
		return nil
	}
	if norm, err := normalizeUnicode(raw); err == nil {
		if err := json.Unmarshal(norm, v); err == nil {
			return nil
		}
	}
	obj, err := ExtractObject(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(obj, v)
}

// UnmarshalRaw accepts json.RawMessage directly.
func UnmarshalRaw(raw json.RawMessage, v any) error {
	return Unmarshal([]byte(raw), v)
}

// ExtractObject locates the outermost balanced {...} region in text that may
// carry prose or code fences around the JSON payload. Quoted braces are
// ignored. Only one extraction attempt is made; if the region does not
// balance, ErrNoObject is returned.
func ExtractObject(raw []byte) (json.RawMessage, error) {
	start := bytes.IndexByte(raw, '{')
	if start < 0 {
		return nil, ErrNoObject
	}
	depth := 0
	inStr := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if inStr {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return json.RawMessage(raw[start : i+1]), nil
			}
		}
	}
	return nil, ErrNoObject
}

// MarshalNoEscape encodes v without escaping <, >, & into < etc.
func MarshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// normalizeUnicode reparses raw and unescapes double-escaped unicode
// sequences (e.g. "\\u003e") inside string values. Some models emit these
// when asked for strict JSON.
func normalizeUnicode(raw []byte) ([]byte, error) {
	var anyVal any
	if err := json.Unmarshal(raw, &anyVal); err != nil {
		return nil, err
	}
	// The whole payload may be a quoted JSON string.
	if s, ok := anyVal.(string); ok {
		var inner any
		if err := json.Unmarshal([]byte(s), &inner); err == nil {
			anyVal = inner
		}
	}
	return MarshalNoEscape(deepUnescape(anyVal))
}

func deepUnescape(v any) any {
	switch x := v.(type) {
	case string:
		if s, err := unescapeString(x); err == nil {
			return s
		}
		return x
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = deepUnescape(x[i])
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, vv := range x {
			out[k] = deepUnescape(vv)
		}
		return out
	default:
		return v
	}
}

func unescapeString(s string) (string, error) {
	esc := strings.ReplaceAll(s, `\`, `\\`)
	esc = strings.ReplaceAll(esc, `"`, `\"`)
	var out string
	if err := json.Unmarshal([]byte(`"`+esc+`"`), &out); err != nil {
		return "", err
	}
	return out, nil
}
