package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"iter"
)

// Member is one named entry of a Struct.
type Member struct {
	Name  string
	Value Value
}

// Struct is an ordered mapping from string keys to Values. Keys are unique and
// iteration follows insertion order. The zero value is an empty struct, and a
// nil *Struct reads as one.
type Struct struct {
	keys    []string
	members map[string]Value
}

// NewStruct builds a Struct from members in order. A repeated name replaces the
// earlier value but keeps its original position.
func NewStruct(members ...Member) *Struct {
	s := &Struct{members: make(map[string]Value, len(members))}
	for _, m := range members {
		s.Set(m.Name, m.Value)
	}
	return s
}

func (*Struct) Kind() Kind { return KindStruct }
func (*Struct) isValue()   {}

// Set inserts or replaces the member name.
func (s *Struct) Set(name string, v Value) *Struct {
	if s.members == nil {
		s.members = make(map[string]Value)
	}
	if _, ok := s.members[name]; !ok {
		s.keys = append(s.keys, name)
	}
	s.members[name] = v
	return s
}

// Get returns the member called name.
func (s *Struct) Get(name string) (Value, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: struct member %q", ErrNotFound, name)
	}
	v, ok := s.members[name]
	if !ok {
		return nil, fmt.Errorf("%w: struct member %q", ErrNotFound, name)
	}
	return v, nil
}

// Has reports whether name is a member.
func (s *Struct) Has(name string) bool {
	if s == nil {
		return false
	}
	_, ok := s.members[name]
	return ok
}

func (s *Struct) Len() int {
	if s == nil {
		return 0
	}
	return len(s.keys)
}

// Keys returns member names in insertion order.
func (s *Struct) Keys() []string {
	if s == nil {
		return []string{}
	}
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out
}

// All iterates members in insertion order.
func (s *Struct) All() iter.Seq2[string, Value] {
	return func(yield func(string, Value) bool) {
		if s == nil {
			return
		}
		for _, k := range s.keys {
			if !yield(k, s.members[k]) {
				return
			}
		}
	}
}

// MarshalJSON writes the struct as a JSON object, keeping member order.
func (s *Struct) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("{}"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range s.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		elem, err := json.Marshal(s.members[k])
		if err != nil {
			return nil, err
		}
		buf.Write(elem)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
