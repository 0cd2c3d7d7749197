package value

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type envelope struct {
	Kind         Kind          `json:"kind"`
	Column       *Column       `json:"column,omitempty"`
	Junction     *Junction     `json:"junction,omitempty"`
	JunctionList *JunctionList `json:"junction_list,omitempty"`
}

// Marshal encodes any Value with its kind so it can be cached.
func Marshal(v Value) ([]byte, error) {
	env := envelope{Kind: v.Kind()}
	switch t := v.(type) {
	case Column:
		env.Column = &t
	case Junction:
		env.Junction = &t
	case JunctionList:
		env.JunctionList = &t
	default:
		return nil, fmt.Errorf("value: unsupported type %T", v)
	}
	return json.Marshal(env)
}

// Unmarshal decodes a Value encoded by Marshal.
func Unmarshal(data []byte) (Value, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	switch env.Kind {
	case KindColumn:
		if env.Column != nil {
			return *env.Column, nil
		}
	case KindJunction:
		if env.Junction != nil {
			return *env.Junction, nil
		}
	case KindJunctionList:
		if env.JunctionList != nil {
			return *env.JunctionList, nil
		}
	}
	return nil, fmt.Errorf("value: malformed %q payload", env.Kind)
}

// Envelope adapts a Value to json.Marshaler/Unmarshaler for generic caches.
type Envelope struct {
	Value Value
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.Value == nil {
		return []byte("null"), nil
	}
	return Marshal(e.Value)
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		e.Value = nil
		return nil
	}
	v, err := Unmarshal(data)
	if err != nil {
		return err
	}
	e.Value = v
	return nil
}

// UnmarshalJSON keeps integral numbers as int64 so cached columns compare
// equal to freshly fetched ones.
func (c *Column) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name  string `json:"name"`
		Value any    `json:"value"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	c.Name, c.Value = raw.Name, number(raw.Value)
	return nil
}

func number(v any) any {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		f, _ := t.Float64()
		return f
	case []any:
		for i := range t {
			t[i] = number(t[i])
		}
	}
	return v
}
