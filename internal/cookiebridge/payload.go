package cookiebridge

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	// ErrEmptyBody is returned for an empty or whitespace-only request body.
	ErrEmptyBody = errors.New("empty request body")
	// ErrMalformedPayload is returned when the body is not a cookie payload
	// or carries no cookie entries at all.
	ErrMalformedPayload = errors.New("malformed cookie payload")
)

// CookieItem is a single cookie as pushed by the extension. Value is a
// pointer so an absent or null value can be told apart from "".
type CookieItem struct {
	Name  string  `json:"name"`
	Value *string `json:"value"`
}

// CookiePayload is the POST /cookies request body.
type CookiePayload struct {
	Cookies []*CookieItem `json:"cookies"`
}

// ParsePayload decodes body into a CookiePayload. Every structural problem,
// including a missing or empty cookies array, maps to ErrMalformedPayload.
// Keys are matched case-sensitively; unknown keys are ignored.
func ParsePayload(body string) (*CookiePayload, error) {
	if strings.TrimSpace(body) == "" {
		return nil, ErrEmptyBody
	}
	if !gjson.Valid(body) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformedPayload)
	}

	root := gjson.Parse(body)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: not an object", ErrMalformedPayload)
	}

	cookies := root.Get("cookies")
	if !cookies.IsArray() {
		if cookies.Exists() && cookies.Type != gjson.Null {
			return nil, fmt.Errorf("%w: cookies is %s, not an array", ErrMalformedPayload, cookies.Type)
		}
		return nil, fmt.Errorf("%w: no cookies", ErrMalformedPayload)
	}

	var payload CookiePayload
	for i, entry := range cookies.Array() {
		item, err := parseItem(entry)
		if err != nil {
			return nil, fmt.Errorf("%w: cookies[%d]: %v", ErrMalformedPayload, i, err)
		}
		payload.Cookies = append(payload.Cookies, item)
	}
	if len(payload.Cookies) == 0 {
		return nil, fmt.Errorf("%w: no cookies", ErrMalformedPayload)
	}
	return &payload, nil
}

// parseItem decodes one array entry. A null entry yields a nil item.
func parseItem(entry gjson.Result) (*CookieItem, error) {
	if entry.Type == gjson.Null {
		return nil, nil
	}
	if !entry.IsObject() {
		return nil, fmt.Errorf("entry is %s, not an object", entry.Type)
	}

	name, err := stringField(entry, "name")
	if err != nil {
		return nil, err
	}
	value, err := stringField(entry, "value")
	if err != nil {
		return nil, err
	}

	item := &CookieItem{Value: value}
	if name != nil {
		item.Name = *name
	}
	return item, nil
}

// stringField returns nil for an absent or null field.
func stringField(obj gjson.Result, key string) (*string, error) {
	field := obj.Get(key)
	switch field.Type {
	case gjson.Null:
		return nil, nil
	case gjson.String:
		s := field.String()
		return &s, nil
	default:
		return nil, fmt.Errorf("%s is %s, not a string", key, field.Type)
	}
}

// valid reports whether the item contributes to the header.
func (c *CookieItem) valid() bool {
	return c != nil && c.Name != "" && c.Value != nil
}

// BuildHeader joins the valid items as "name=value" pairs separated by "; ",
// preserving order. It returns "" when no item is valid.
func BuildHeader(items []*CookieItem) string {
	var b strings.Builder
	for _, item := range items {
		if !item.valid() {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("; ")
		}
		b.WriteString(item.Name)
		b.WriteByte('=')
		b.WriteString(*item.Value)
	}
	return b.String()
}

// Header returns the Cookie header value for the payload.
func (p *CookiePayload) Header() string {
	if p == nil {
		return ""
	}
	return BuildHeader(p.Cookies)
}
