package sigcodec

import "encoding/json"

// Encode marshals a Message to its JSON wire form.
func Encode(m *Message) ([]byte, error) {
	if m.Type == "" {
		return nil, ErrMissingType
	}
	return json.Marshal(m)
}

// Decode unmarshals a JSON wire message, normalizing legacy GROUP_*
// type strings to their CONF_* equivalent (see aliasOf).
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m.Type == "" {
		return nil, ErrMissingType
	}
	m.Type = aliasOf(m.Type)
	return &m, nil
}

// Equal reports whether two messages encode to the same wire bytes.
// Used by round-trip tests rather than reflect.DeepEqual so that a nil
// slice and an empty slice (both omitempty on the wire) compare equal.
func Equal(a, b *Message) (bool, error) {
	ea, err := Encode(a)
	if err != nil {
		return false, err
	}
	eb, err := Encode(b)
	if err != nil {
		return false, err
	}
	return string(ea) == string(eb), nil
}
