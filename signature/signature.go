// Package signature describes the parameter and return types a method accepts
// and checks call parameters against them.
//
// A method may declare several alternative signatures (overload by arity or
// type). A parameter list is accepted when it matches at least one of them.
package signature

import (
	"errors"
	"fmt"
	"strings"

	"dispatch-rpc/value"
)

var ErrInvalidSignature = errors.New("signature: invalid")

// Signature is one declared call shape.
type Signature struct {
	Return value.Kind
	Params []value.Kind
}

// New builds a Signature returning ret and taking params in order.
func New(ret value.Kind, params ...value.Kind) Signature {
	return Signature{Return: ret, Params: params}
}

// FromTags reads an XML-RPC style tag list: the return tag first, then one tag
// per parameter.
func FromTags(tags ...string) (Signature, error) {
	if len(tags) == 0 {
		return Signature{}, fmt.Errorf("%w: missing return type", ErrInvalidSignature)
	}
	kinds := make([]value.Kind, len(tags))
	for i, tag := range tags {
		k, err := value.ParseKind(tag)
		if err != nil {
			return Signature{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		kinds[i] = k
	}
	return Signature{Return: kinds[0], Params: kinds[1:]}, nil
}

// MustFromTags is FromTags for static declarations.
func MustFromTags(tags ...string) Signature {
	s, err := FromTags(tags...)
	if err != nil {
		panic(err)
	}
	return s
}

// Tags is the inverse of FromTags.
func (s Signature) Tags() []string {
	out := make([]string, 0, len(s.Params)+1)
	out = append(out, s.Return.String())
	for _, p := range s.Params {
		out = append(out, p.String())
	}
	return out
}

// Arity is the number of declared parameters.
func (s Signature) Arity() int { return len(s.Params) }

// Matches reports whether params have the declared arity and each param's
// kind equals the declared tag at its position, or the tag is Any.
func (s Signature) Matches(params []value.Value) bool {
	if len(params) != len(s.Params) {
		return false
	}
	for i, want := range s.Params {
		if want != value.KindAny && value.KindOf(params[i]) != want {
			return false
		}
	}
	return true
}

// String renders the signature as "ret(p1, p2)".
func (s Signature) String() string {
	return s.Return.String() + "(" + joinKinds(s.Params) + ")"
}

// MismatchError reports a parameter list that matched no declared alternative.
type MismatchError struct {
	Expected []Signature
	Received []value.Kind
}

func (e *MismatchError) Error() string {
	var sb strings.Builder
	sb.WriteString("incorrect parameters passed to method: ")
	if len(e.Expected) == 1 {
		want := e.Expected[0]
		if want.Arity() != len(e.Received) {
			fmt.Fprintf(&sb, "signature permits %d parameters, received %d", want.Arity(), len(e.Received))
			return sb.String()
		}
		for i, k := range want.Params {
			if k != value.KindAny && k != e.Received[i] {
				fmt.Fprintf(&sb, "wanted %s, got %s at param %d", k, e.Received[i], i+1)
				return sb.String()
			}
		}
	}
	sb.WriteString("received (")
	sb.WriteString(joinKinds(e.Received))
	sb.WriteString("), expected ")
	for i, s := range e.Expected {
		if i > 0 {
			sb.WriteString(" or ")
		}
		sb.WriteString("(" + joinKinds(s.Params) + ")")
	}
	return sb.String()
}

// Check validates params against the alternatives. No alternatives means any
// parameter list is accepted.
func Check(params []value.Value, alternatives []Signature) error {
	if len(alternatives) == 0 {
		return nil
	}
	for _, s := range alternatives {
		if s.Matches(params) {
			return nil
		}
	}
	return &MismatchError{Expected: alternatives, Received: value.Kinds(params)}
}

func joinKinds(kinds []value.Kind) string {
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = k.String()
	}
	return strings.Join(parts, ", ")
}
