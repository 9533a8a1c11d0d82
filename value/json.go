package value

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// ISO8601 is the XML-RPC dateTime layout. It carries no zone; times are read as UTC.
const ISO8601 = "20060102T15:04:05"

func (d DateTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Time().Format(ISO8601))
}

// ParseDateTime reads the ISO8601 layout, falling back to RFC 3339.
func ParseDateTime(s string) (DateTime, error) {
	t, err := time.Parse(ISO8601, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, s)
	}
	if err != nil {
		return DateTime{}, fmt.Errorf("%w: datetime %q", ErrTypeMismatch, s)
	}
	return DateTime(t), nil
}

// ParseJSON reads one JSON document into a Value. Object member order is
// preserved. Numbers without fraction or exponent become Int, others Double.
// JSON null has no Value representation and is rejected.
func ParseJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := parseJSON(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("value: trailing data after JSON value")
	}
	return v, nil
}

// ParseJSONArray reads a JSON array into a slice of Values, as used for
// positional call parameters.
func ParseJSONArray(data []byte) ([]Value, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	v, err := ParseJSON(data)
	if err != nil {
		return nil, err
	}
	arr, ok := v.(Array)
	if !ok {
		return nil, mismatch(KindArray.String(), v)
	}
	return []Value(arr), nil
}

func parseJSON(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '[':
			arr := Array{}
			for dec.More() {
				e, err := parseJSON(dec)
				if err != nil {
					return nil, err
				}
				arr = append(arr, e)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return arr, nil
		case '{':
			s := NewStruct()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("value: object key %v is not a string", keyTok)
				}
				e, err := parseJSON(dec)
				if err != nil {
					return nil, fmt.Errorf("member %q: %w", key, err)
				}
				s.Set(key, e)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return s, nil
		}
		return nil, fmt.Errorf("value: unexpected delimiter %v", t)
	case json.Number:
		if !strings.ContainsAny(t.String(), ".eE") {
			if i, err := t.Int64(); err == nil {
				return Int(i), nil
			}
		}
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("value: number %s: %w", t, err)
		}
		return Double(f), nil
	case bool:
		return Boolean(t), nil
	case string:
		return String(t), nil
	case nil:
		return nil, fmt.Errorf("%w: null", ErrUnsupported)
	}
	return nil, fmt.Errorf("value: unexpected token %v", tok)
}
