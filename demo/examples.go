package demo

import (
	"cmp"
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"dispatch-rpc/message"
	"dispatch-rpc/server"
	"dispatch-rpc/value"
)

var stateNames = [...]string{
	"Alabama", "Alaska", "Arizona", "Arkansas", "California",
	"Colorado", "Columbia", "Connecticut", "Delaware", "Florida",
	"Georgia", "Hawaii", "Idaho", "Illinois", "Indiana", "Iowa", "Kansas",
	"Kentucky", "Louisiana", "Maine", "Maryland", "Massachusetts", "Michigan",
	"Minnesota", "Mississippi", "Missouri", "Montana", "Nebraska", "Nevada",
	"New Hampshire", "New Jersey", "New Mexico", "New York", "North Carolina",
	"North Dakota", "Ohio", "Oklahoma", "Oregon", "Pennsylvania", "Rhode Island",
	"South Carolina", "South Dakota", "Tennessee", "Texas", "Utah", "Vermont",
	"Virginia", "Washington", "West Virginia", "Wisconsin", "Wyoming",
}

const findStateDoc = `When passed an integer between 1 and 51 returns the
name of a US state, where the integer is the index of that state name
in an alphabetic order.`

const sortByAgeDoc = `Send this method an array of [string, int] structs, eg:
 Dave   35
 Edd    45
 Fred   23
 Barney 37
And the array will be returned with the entries sorted by their numbers.`

func exampleMethods() []server.Method {
	return []server.Method{
		{Name: "examples.getStateName", Handler: getStateName, Signatures: sigs("string", "int"), Doc: findStateDoc},
		{Name: "examples.sortByAge", Handler: sortByAge, Signatures: sigs("array", "array"), Doc: sortByAgeDoc},
		{Name: "examples.addtwo", Handler: addTwo, Signatures: sigs("int", "int", "int"),
			Doc: "Add two integers together and return the result"},
		{Name: "examples.addtwodouble", Handler: addTwoDouble, Signatures: sigs("double", "double", "double"),
			Doc: "Add two doubles together and return the result"},
		{Name: "examples.add", Handler: add,
			Signatures: append(sigs("int", "int", "int"), sigs("double", "double", "double")...),
			Doc:        "Add two integers or two doubles together and return the result"},
		{Name: "examples.stringecho", Handler: stringEcho, Signatures: sigs("string", "string"),
			Doc: "Accepts a string parameter, returns the string."},
		{Name: "examples.echo", Handler: echoBack, Signatures: sigs("string", "string"),
			Doc: "Accepts a string parameter, returns the entire incoming payload"},
		{Name: "examples.decode64", Handler: decode64, Signatures: sigs("string", "base64"),
			Doc: "Accepts a base64 parameter and returns it decoded as a string"},
		{Name: "examples.invertBooleans", Handler: invertBooleans, Signatures: sigs("array", "array"),
			Doc: "Accepts an array of booleans, and returns them inverted"},
		{Name: "examples.getallheaders", Handler: getAllHeaders, Signatures: sigs("struct"),
			Doc: "Returns a struct containing all the HTTP headers received with the request"},
		{Name: "examples.setcookies", Handler: setCookies, Signatures: sigs("int", "struct"),
			Doc: "Sends to client a response containing a single '1' digit, and sets to it http cookies as received in the request (struct of structs describing a cookie)"},
		{Name: "examples.getcookies", Handler: getCookies, Signatures: sigs("struct"),
			Doc: "Sends to client a response containing all http cookies as received in the request (as struct)"},
	}
}

// findState returns the name of state n, or a complaint when there is none.
func findState(n int64) string {
	if n < 1 || n > int64(len(stateNames)) {
		return fmt.Sprintf("I don't have a state for the index '%d'", n)
	}
	return stateNames[n-1]
}

func getStateName(ctx context.Context, req *message.Request) (message.Response, error) {
	n, err := value.AsInt(req.Params[0])
	if err != nil {
		return badParams(err)
	}
	if n < 1 || n > int64(len(stateNames)) {
		return userFault("I don't have a state for the index '%d'", n)
	}
	return success(value.String(stateNames[n-1]))
}

// byAgeDesc orders names by the ages they map to, oldest first. The ages
// are captured by the comparator; nothing is shared between calls.
func byAgeDesc(ages map[string]int64) func(a, b string) int {
	return func(a, b string) int {
		return cmp.Compare(ages[b], ages[a])
	}
}

func sortByAge(ctx context.Context, req *message.Request) (message.Response, error) {
	server.DebugMsg(ctx, "Entering 'agesorter'")
	arr, ok := req.Params[0].(value.Array)
	if !ok {
		return badParams(fmt.Errorf("expected array, got %s", req.Params[0].Kind()))
	}
	server.DebugMsg(ctx, fmt.Sprintf("Found %d array elements", len(arr)))

	ages := make(map[string]int64, len(arr))
	var names []string
	for i, rec := range arr {
		if rec.Kind() != value.KindStruct {
			return userFault("Found non-struct in array at element %d", i)
		}
		nv, err := value.StructMember(rec, "name")
		if err != nil {
			return userFault("element %d: %v", i, err)
		}
		av, err := value.StructMember(rec, "age")
		if err != nil {
			return userFault("element %d: %v", i, err)
		}
		name, err := value.AsString(nv)
		if err != nil {
			return userFault("element %d name: %v", i, err)
		}
		age, err := value.AsInt(av)
		if err != nil {
			return userFault("element %d age: %v", i, err)
		}
		// a repeated name keeps its first position and its last age
		if _, seen := ages[name]; !seen {
			names = append(names, name)
		}
		ages[name] = age
	}

	slices.SortStableFunc(names, byAgeDesc(ages))
	out := make(value.Array, len(names))
	for i, name := range names {
		out[i] = value.NewStruct(
			value.Member{Name: "name", Value: value.String(name)},
			value.Member{Name: "age", Value: value.Int(ages[name])},
		)
	}
	return success(out)
}

func addTwo(ctx context.Context, req *message.Request) (message.Response, error) {
	a, _ := value.AsInt(req.Params[0])
	b, _ := value.AsInt(req.Params[1])
	return success(value.Int(a + b))
}

func addTwoDouble(ctx context.Context, req *message.Request) (message.Response, error) {
	a, _ := value.AsDouble(req.Params[0])
	b, _ := value.AsDouble(req.Params[1])
	return success(value.Double(a + b))
}

// add serves both of its signatures; the dispatcher guarantees the params
// are either two ints or two doubles.
func add(ctx context.Context, req *message.Request) (message.Response, error) {
	if req.Params[0].Kind() == value.KindInt {
		return addTwo(ctx, req)
	}
	return addTwoDouble(ctx, req)
}

func stringEcho(ctx context.Context, req *message.Request) (message.Response, error) {
	return success(req.Params[0])
}

func echoBack(ctx context.Context, req *message.Request) (message.Response, error) {
	msg := fmt.Sprintf("I got the following message:\n%s(%s)", req.Method, value.Format(value.Array(req.Params)))
	return success(value.String(msg))
}

func decode64(ctx context.Context, req *message.Request) (message.Response, error) {
	b, ok := req.Params[0].(value.Base64)
	if !ok {
		return badParams(fmt.Errorf("expected base64, got %s", req.Params[0].Kind()))
	}
	return success(value.String(b))
}

func invertBooleans(ctx context.Context, req *message.Request) (message.Response, error) {
	arr := req.Params[0].(value.Array)
	out := make(value.Array, len(arr))
	for i, e := range arr {
		b, err := value.AsBool(e)
		if err != nil {
			return userFault("element %d: %v", i, err)
		}
		out[i] = value.Boolean(!b)
	}
	return success(out)
}

// getAllHeaders returns the HTTP request headers, each with its values
// joined by ", ". Calls over other transports have no headers.
func getAllHeaders(ctx context.Context, req *message.Request) (message.Response, error) {
	h, _ := server.RequestHeader(ctx)
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := value.NewStruct()
	for _, k := range keys {
		out.Set(k, value.String(strings.Join(h[k], ", ")))
	}
	return success(out)
}

// cookieSpec is the description of one cookie sent to examples.setcookies.
type cookieSpec struct {
	Value   string `rpc:"value"`
	Expires int64  `rpc:"expires"`
	Path    string `rpc:"path"`
	Domain  string `rpc:"domain"`
	Secure  bool   `rpc:"secure"`
}

func setCookies(ctx context.Context, req *message.Request) (message.Response, error) {
	s := req.Params[0].(*value.Struct)
	for name, desc := range s.All() {
		var spec cookieSpec
		if err := value.DecodeInto(desc, &spec); err != nil {
			return userFault("cookie %s: %v", name, err)
		}
		c := &http.Cookie{
			Name:   name,
			Value:  spec.Value,
			Path:   spec.Path,
			Domain: spec.Domain,
			Secure: spec.Secure,
		}
		if spec.Expires > 0 {
			c.Expires = time.Unix(spec.Expires, 0)
		}
		if err := server.SetCookie(ctx, c); err != nil {
			return message.Response{}, fmt.Errorf("set cookie %s: %w", name, err)
		}
	}
	return success(value.Int(1))
}

func getCookies(ctx context.Context, req *message.Request) (message.Response, error) {
	out := value.NewStruct()
	for _, c := range server.RequestCookies(ctx) {
		out.Set(c.Name, value.String(c.Value))
	}
	return success(out)
}
