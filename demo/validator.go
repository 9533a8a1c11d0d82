package demo

import (
	"context"
	"fmt"

	"dispatch-rpc/message"
	"dispatch-rpc/server"
	"dispatch-rpc/value"
)

func validatorMethods() []server.Method {
	return []server.Method{
		{Name: "validator1.arrayOfStructsTest", Handler: arrayOfStructs, Signatures: sigs("int", "array"),
			Doc: "This handler takes a single parameter, an array of structs, each of which contains at least three elements named moe, larry and curly, all <i4>s. Your handler must add all the struct elements named curly and return the result."},
		{Name: "validator1.easyStructTest", Handler: easyStruct, Signatures: sigs("int", "struct"),
			Doc: "This handler takes a single parameter, a struct, containing at least three elements named moe, larry and curly, all <i4>s. Your handler must add the three numbers and return the result."},
		{Name: "validator1.echoStructTest", Handler: echoParam, Signatures: sigs("struct", "struct"),
			Doc: "This handler takes a single parameter, a struct. Your handler must return the struct."},
		{Name: "validator1.manyTypesTest", Handler: manyTypes,
			Signatures: sigs("array", "int", "boolean", "string", "double", "dateTime.iso8601", "base64"),
			Doc:        "This handler takes six parameters, and returns an array containing all the parameters."},
		{Name: "validator1.moderateSizeArrayCheck", Handler: moderateSizeArrayCheck, Signatures: sigs("string", "array"),
			Doc: "This handler takes a single parameter, which is an array containing between 100 and 200 elements. Each of the items is a string, your handler must return a string containing the concatenated text of the first and last elements."},
		{Name: "validator1.simpleStructReturnTest", Handler: simpleStructReturn, Signatures: sigs("struct", "int"),
			Doc: "This handler takes one parameter, and returns a struct containing three elements, times10, times100 and times1000, the result of multiplying the number by 10, 100 and 1000."},
		{Name: "validator1.nestedStructTest", Handler: nestedStruct, Signatures: sigs("int", "struct"),
			Doc: "This handler takes a single parameter, a struct, that models a daily calendar. At the top level, there is one struct for each year. Each year is broken down into months, and months into days. Most of the days are empty in the struct you receive, but the entry for April 1, 2000 contains a least three elements named moe, larry and curly, all <i4>s. Your handler must add the three numbers and return the result."},
		{Name: "validator1.countTheEntities", Handler: countTheEntities, Signatures: sigs("struct", "string"),
			Doc: `This handler takes a single parameter, a string, that contains any number of predefined entities, namely <, >, & ' and ". Your handler must return a struct that contains five fields, all numbers: ctLeftAngleBrackets, ctRightAngleBrackets, ctAmpersands, ctApostrophes, ctQuotes.`},
	}
}

// sumMembers adds the int members called names of s.
func sumMembers(s value.Value, names ...string) (int64, error) {
	var sum int64
	for _, name := range names {
		m, err := value.StructMember(s, name)
		if err != nil {
			return 0, err
		}
		n, err := value.AsInt(m)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", name, err)
		}
		sum += n
	}
	return sum, nil
}

func arrayOfStructs(ctx context.Context, req *message.Request) (message.Response, error) {
	arr := req.Params[0].(value.Array)
	var curly int64
	for i, e := range arr {
		s, ok := e.(*value.Struct)
		if !ok {
			return userFault("element %d is not a struct", i)
		}
		if !s.Has("curly") {
			continue
		}
		n, err := sumMembers(s, "curly")
		if err != nil {
			return userFault("element %d: %v", i, err)
		}
		curly += n
	}
	return success(value.Int(curly))
}

func easyStruct(ctx context.Context, req *message.Request) (message.Response, error) {
	sum, err := sumMembers(req.Params[0], "moe", "larry", "curly")
	if err != nil {
		return userFault("%v", err)
	}
	return success(value.Int(sum))
}

func manyTypes(ctx context.Context, req *message.Request) (message.Response, error) {
	return success(value.Of(req.Params...))
}

func moderateSizeArrayCheck(ctx context.Context, req *message.Request) (message.Response, error) {
	arr := req.Params[0].(value.Array)
	if len(arr) == 0 {
		return userFault("empty array")
	}
	first, err := value.AsString(arr[0])
	if err != nil {
		return userFault("first element: %v", err)
	}
	last, err := value.AsString(arr[len(arr)-1])
	if err != nil {
		return userFault("last element: %v", err)
	}
	return success(value.String(first + last))
}

func simpleStructReturn(ctx context.Context, req *message.Request) (message.Response, error) {
	n, _ := value.AsInt(req.Params[0])
	return success(value.NewStruct(
		value.Member{Name: "times10", Value: value.Int(n * 10)},
		value.Member{Name: "times100", Value: value.Int(n * 100)},
		value.Member{Name: "times1000", Value: value.Int(n * 1000)},
	))
}

func nestedStruct(ctx context.Context, req *message.Request) (message.Response, error) {
	day := req.Params[0]
	for _, key := range []string{"2000", "04", "01"} {
		next, err := value.StructMember(day, key)
		if err != nil {
			return userFault("%s: %v", key, err)
		}
		day = next
	}
	sum, err := sumMembers(day, "curly", "larry", "moe")
	if err != nil {
		return userFault("%v", err)
	}
	return success(value.Int(sum))
}

func countTheEntities(ctx context.Context, req *message.Request) (message.Response, error) {
	s, _ := value.AsString(req.Params[0])
	var lt, gt, amp, apos, quot int64
	for _, c := range s {
		switch c {
		case '<':
			lt++
		case '>':
			gt++
		case '&':
			amp++
		case '\'':
			apos++
		case '"':
			quot++
		}
	}
	return success(value.NewStruct(
		value.Member{Name: "ctLeftAngleBrackets", Value: value.Int(lt)},
		value.Member{Name: "ctRightAngleBrackets", Value: value.Int(gt)},
		value.Member{Name: "ctAmpersands", Value: value.Int(amp)},
		value.Member{Name: "ctApostrophes", Value: value.Int(apos)},
		value.Member{Name: "ctQuotes", Value: value.Int(quot)},
	))
}
