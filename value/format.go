package value

import (
	"encoding/base64"
	"strconv"
	"strings"
)

// Format renders v in a compact, human-readable notation for logs and
// diagnostics, e.g. {name: string("Dave"), ages: [int(35), int(45)]}.
func Format(v Value) string {
	var sb strings.Builder
	format(&sb, v)
	return sb.String()
}

func format(sb *strings.Builder, v Value) {
	switch x := v.(type) {
	case Int:
		sb.WriteString("int(")
		sb.WriteString(strconv.FormatInt(int64(x), 10))
		sb.WriteByte(')')
	case Double:
		sb.WriteString("double(")
		sb.WriteString(strconv.FormatFloat(float64(x), 'g', -1, 64))
		sb.WriteByte(')')
	case Boolean:
		sb.WriteString("boolean(")
		sb.WriteString(strconv.FormatBool(bool(x)))
		sb.WriteByte(')')
	case String:
		sb.WriteString("string(")
		sb.WriteString(strconv.Quote(string(x)))
		sb.WriteByte(')')
	case Base64:
		sb.WriteString("base64(")
		sb.WriteString(base64.StdEncoding.EncodeToString(x))
		sb.WriteByte(')')
	case DateTime:
		sb.WriteString("datetime(")
		sb.WriteString(x.Time().Format(ISO8601))
		sb.WriteByte(')')
	case Array:
		sb.WriteByte('[')
		for i, e := range x {
			if i > 0 {
				sb.WriteString(", ")
			}
			format(sb, e)
		}
		sb.WriteByte(']')
	case *Struct:
		sb.WriteByte('{')
		i := 0
		for k, e := range x.All() {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(k)
			sb.WriteString(": ")
			format(sb, e)
			i++
		}
		sb.WriteByte('}')
	default:
		sb.WriteString("<nil>")
	}
}

// Kinds lists the kinds of vs, for diagnostics.
func Kinds(vs []Value) []Kind {
	out := make([]Kind, len(vs))
	for i, v := range vs {
		out[i] = KindOf(v)
	}
	return out
}
