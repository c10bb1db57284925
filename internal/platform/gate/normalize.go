package gate

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Kind tags the shape of a normalized response.
type Kind int

const (
	KindEmpty Kind = iota
	KindSingle
	KindMany
)

func (k Kind) String() string {
	switch k {
	case KindSingle:
		return "single"
	case KindMany:
		return "many"
	}
	return "empty"
}

// containerKeys are the envelope fields that wrap a list.
var containerKeys = []string{"orders", "positions", "price_orders", "data"}

// Response is a decoded Gate reply reduced to one of three shapes.
type Response struct {
	Kind   Kind
	Status int
	items  []Object
}

// Normalize decodes raw into a Response. Objects become Single, arrays and
// {"orders"|"positions"|"price_orders"|"data": [...]} envelopes become Many.
// Anything else, including invalid JSON, is Empty.
func Normalize(raw []byte) Response {
	if len(raw) == 0 {
		return Response{}
	}
	var v any
	if err := api.Unmarshal(raw, &v); err != nil {
		return Response{}
	}
	return normalizeValue(v)
}

func normalizeValue(v any) Response {
	switch t := v.(type) {
	case []any:
		return Response{Kind: KindMany, items: objects(t)}
	case map[string]any:
		for _, key := range containerKeys {
			if list, ok := t[key].([]any); ok {
				return Response{Kind: KindMany, items: objects(list)}
			}
		}
		return Response{Kind: KindSingle, items: []Object{Object(t)}}
	}
	return Response{}
}

func objects(list []any) []Object {
	out := make([]Object, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, Object(m))
		}
	}
	return out
}

// First returns the single object, or the first element of a list. It is
// nil for an empty response.
func (r Response) First() Object {
	if len(r.items) == 0 {
		return nil
	}
	return r.items[0]
}

// List returns every object. A Single response yields a one-element list.
func (r Response) List() []Object {
	return r.items
}

// Empty reports whether the response carried no objects.
func (r Response) Empty() bool {
	return len(r.items) == 0
}

// APIError returns the exchange error carried in the body, if any.
func (r Response) APIError() *APIError {
	if r.Kind != KindSingle {
		return nil
	}
	obj := r.First()
	label := obj.String("label")
	if label == "" || label == "SUCCESS" {
		return nil
	}
	detail := obj.String("detail")
	if detail == "" {
		detail = obj.String("message")
	}
	return &APIError{Label: label, Detail: detail, Status: r.Status}
}

// APIError is an exchange-level rejection such as BALANCE_NOT_ENOUGH.
type APIError struct {
	Label  string
	Detail string
	Status int
}

func (e *APIError) Error() string {
	return "gate: " + e.Reason()
}

// Reason formats the error the way it is shown in status lines.
func (e *APIError) Reason() string {
	if e.Detail == "" {
		return e.Label
	}
	return e.Label + " (" + e.Detail + ")"
}

// Object is one decoded JSON object with lenient typed accessors. Gate
// sends numbers as strings in some endpoints and as numbers in others.
type Object map[string]any

// String returns the field as a string. Numbers keep their literal form.
func (o Object) String(key string) string {
	switch v := o[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	}
	return ""
}

// Float returns the field as float64, or 0 when absent or malformed.
func (o Object) Float(key string) float64 {
	switch v := o[key].(type) {
	case json.Number:
		f, _ := v.Float64()
		return f
	case float64:
		return v
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f
	}
	return 0
}

// Int returns the field as int64, or 0 when absent or malformed.
func (o Object) Int(key string) int64 {
	switch v := o[key].(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		f, _ := v.Float64()
		return int64(f)
	case float64:
		return int64(v)
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return n
		}
		f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return int64(f)
	}
	return 0
}

// Bool returns the field as bool.
func (o Object) Bool(key string) bool {
	switch v := o[key].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true") || v == "1"
	}
	return false
}

// Objects returns a nested list of objects.
func (o Object) Objects(key string) []Object {
	list, _ := o[key].([]any)
	return objects(list)
}
