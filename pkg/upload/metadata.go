// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"encoding/base64"
	"sort"
	"strings"
)

// Metadata holds Upload-Metadata pairs. Keys compare case-insensitively and a
// nil value marks a key sent without a value.
type Metadata map[string]*string

// DecodeMetadata parses an Upload-Metadata header value:
// comma separated "key base64(value)" pairs where the value may be omitted.
func DecodeMetadata(header string) Metadata {
	m := make(Metadata)
	header = strings.TrimSpace(header)
	if header == "" {
		return m
	}

	for _, pair := range strings.Split(header, ",") {
		fields := strings.Fields(pair)
		if len(fields) == 0 {
			continue
		}

		var value *string
		if len(fields) > 1 {
			value = decodeValue(fields[1])
		}
		m.Set(fields[0], value)
	}
	return m
}

func decodeValue(encoded string) *string {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(encoded, "="))
		if err != nil {
			return nil
		}
	}
	s := string(raw)
	return &s
}

// Encode renders the metadata as an Upload-Metadata header value with keys in
// case-insensitive order. An empty map encodes to "".
func (m Metadata) Encode() string {
	if len(m) == 0 {
		return ""
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return strings.ToLower(keys[i]) < strings.ToLower(keys[j])
	})

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		if v := m[k]; v != nil {
			b.WriteByte(' ')
			b.WriteString(base64.StdEncoding.EncodeToString([]byte(*v)))
		}
	}
	return b.String()
}

// Set stores value under key, replacing an existing key that differs only in case.
func (m Metadata) Set(key string, value *string) {
	if existing, ok := m.key(key); ok {
		m[existing] = value
		return
	}
	m[key] = value
}

// SetString is Set for a present value.
func (m Metadata) SetString(key, value string) {
	m.Set(key, &value)
}

// Has reports whether key is present, with or without a value.
func (m Metadata) Has(key string) bool {
	_, ok := m.key(key)
	return ok
}

// Value returns the value stored under key. ok is false when the key is
// missing or was sent without a value.
func (m Metadata) Value(key string) (string, bool) {
	k, ok := m.key(key)
	if !ok || m[k] == nil {
		return "", false
	}
	return *m[k], true
}

// Clone returns a deep copy.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		if v != nil {
			s := *v
			v = &s
		}
		out[k] = v
	}
	return out
}

// MarshalBinary encodes the metadata in its header form so key-only entries survive gob.
func (m Metadata) MarshalBinary() ([]byte, error) {
	return []byte(m.Encode()), nil
}

func (m *Metadata) UnmarshalBinary(data []byte) error {
	*m = DecodeMetadata(string(data))
	return nil
}

func (m Metadata) key(key string) (string, bool) {
	if _, ok := m[key]; ok {
		return key, true
	}
	for k := range m {
		if strings.EqualFold(k, key) {
			return k, true
		}
	}
	return "", false
}
