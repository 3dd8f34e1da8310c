package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// IDEntry maps a speaker or style name to its local ID.
type IDEntry struct {
	Name string
	ID   int
}

// IDMap is a JSON object of name -> integer ID that keeps the document's key order.
// The order matters: synthesized speakers follow the order of spk2id.
type IDMap []IDEntry

// Lookup returns the ID registered for name.
func (m IDMap) Lookup(name string) (int, bool) {
	for _, e := range m {
		if e.Name == name {
			return e.ID, true
		}
	}
	return 0, false
}

// Set replaces the ID of an existing name or appends a new entry.
func (m *IDMap) Set(name string, id int) {
	for i := range *m {
		if (*m)[i].Name == name {
			(*m)[i].ID = id
			return
		}
	}
	*m = append(*m, IDEntry{Name: name, ID: id})
}

// Names returns the keys in document order.
func (m IDMap) Names() []string {
	names := make([]string, len(m))
	for i, e := range m {
		names[i] = e.Name
	}
	return names
}

// MarshalJSON implements json.Marshaler.
func (m IDMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := Marshal(e.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		fmt.Fprintf(&buf, ":%d", e.ID)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler. Duplicate keys keep their first
// position and their last value.
func (m *IDMap) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*m = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("expected a JSON object of name to integer ID")
	}

	out := IDMap{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v", tok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return err
		}
		num, ok := value.(json.Number)
		if !ok {
			return fmt.Errorf("ID of %q must be an integer", name)
		}
		id, err := num.Int64()
		if err != nil {
			return fmt.Errorf("ID of %q must be an integer, got %s", name, num)
		}
		out.Set(name, int(id))
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*m = out
	return nil
}

// Clone returns a copy of the map.
func (m IDMap) Clone() IDMap {
	if m == nil {
		return nil
	}
	return append(IDMap{}, m...)
}
