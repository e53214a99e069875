package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Header is an ordered multi-map of header fields. Keys keep their original
// spelling and insertion order; lookups ignore case.
//
// The zero value is an empty header ready to use.
type Header struct {
	keys   []string
	values map[string][]string
}

// NewHeader builds a Header from m. Keys are added in sorted order since map
// iteration order is not stable.
func NewHeader(m map[string][]string) Header {
	var h Header
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Add(k, m[k]...)
	}
	return h
}

func (h *Header) find(key string) (string, bool) {
	if _, ok := h.values[key]; ok {
		return key, true
	}
	for _, k := range h.keys {
		if strings.EqualFold(k, key) {
			return k, true
		}
	}
	return "", false
}

// Get returns the first value for key, or "".
func (h Header) Get(key string) string {
	v := h.Values(key)
	if len(v) == 0 {
		return ""
	}
	return v[0]
}

// Values returns all values for key in the order they were added.
func (h Header) Values(key string) []string {
	k, ok := h.find(key)
	if !ok {
		return nil
	}
	return h.values[k]
}

// Has reports whether key is present, even with no values.
func (h Header) Has(key string) bool {
	_, ok := h.find(key)
	return ok
}

// Add appends values to key, creating it at the end when it is new.
func (h *Header) Add(key string, values ...string) {
	if h.values == nil {
		h.values = make(map[string][]string)
	}
	k, ok := h.find(key)
	if !ok {
		k = key
		h.keys = append(h.keys, k)
		h.values[k] = make([]string, 0, len(values))
	}
	h.values[k] = append(h.values[k], values...)
}

// Set replaces the values of key, keeping its position when present.
func (h *Header) Set(key string, values ...string) {
	if h.values == nil {
		h.values = make(map[string][]string)
	}
	k, ok := h.find(key)
	if !ok {
		k = key
		h.keys = append(h.keys, k)
	}
	h.values[k] = append([]string(nil), values...)
}

// Del removes key.
func (h *Header) Del(key string) {
	k, ok := h.find(key)
	if !ok {
		return
	}
	delete(h.values, k)
	for i, existing := range h.keys {
		if existing == k {
			h.keys = append(h.keys[:i], h.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the field names in order.
func (h Header) Keys() []string {
	return append([]string(nil), h.keys...)
}

func (h Header) Len() int {
	return len(h.keys)
}

// Clone returns a deep copy.
func (h Header) Clone() Header {
	var c Header
	for _, k := range h.keys {
		c.Add(k, h.values[k]...)
	}
	return c
}

// Map returns the fields as a plain map. Order is lost.
func (h Header) Map() map[string][]string {
	m := make(map[string][]string, len(h.keys))
	for _, k := range h.keys {
		m[k] = append([]string(nil), h.values[k]...)
	}
	return m
}

// HTTP converts to an http.Header, canonicalising keys.
func (h Header) HTTP() http.Header {
	out := make(http.Header, len(h.keys))
	for _, k := range h.keys {
		for _, v := range h.values[k] {
			out.Add(k, v)
		}
	}
	return out
}

// MarshalJSON writes the fields as an object in insertion order. An empty
// header is written as {} rather than null.
func (h Header) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range h.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')

		vals := h.values[k]
		if vals == nil {
			vals = []string{}
		}
		vb, err := json.Marshal(vals)
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object keeping key order. Values may be a list of
// strings or a single string. null and [] decode to an empty header, since
// some peers encode an empty map as a list.
func (h *Header) UnmarshalJSON(data []byte) error {
	*h = Header{}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	switch tok {
	case nil:
		return nil
	case json.Delim('['):
		next, err := dec.Token()
		if err != nil {
			return err
		}
		if next != json.Delim(']') {
			return fmt.Errorf("headers: expected object, got non-empty list")
		}
		return nil
	case json.Delim('{'):
	default:
		return fmt.Errorf("headers: expected object, got %v", tok)
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("headers: unexpected key %v", tok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("headers: %s: %w", key, err)
		}
		vals, err := headerValues(raw)
		if err != nil {
			return fmt.Errorf("headers: %s: %w", key, err)
		}
		h.Add(key, vals...)
	}

	_, err = dec.Token()
	return err
}

func headerValues(raw json.RawMessage) ([]string, error) {
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, fmt.Errorf("expected string or list of strings")
	}
	return []string{single}, nil
}

// MarshalCBOR writes the fields as a CBOR map. CBOR peers get keys in
// canonical order; insertion order only survives JSON.
func (h Header) MarshalCBOR() ([]byte, error) {
	return cborEncMode.Marshal(h.Map())
}

func (h *Header) UnmarshalCBOR(data []byte) error {
	var m map[string][]string
	if err := cbor.Unmarshal(data, &m); err != nil {
		return err
	}
	*h = NewHeader(m)
	return nil
}
