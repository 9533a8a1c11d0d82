package codec

import (
	"encoding/json"
	"fmt"

	"dispatch-rpc/message"
	"dispatch-rpc/value"
)

// JSONCodec writes envelopes as JSON objects:
//
//	{"method":"examples.add","params":[3,4]}
//	{"method":"examples.add","result":7}
//	{"method":"x","fault":{"faultCode":1,"faultString":"unknown method x"}}
//
// Human-readable but lossy: base64 and dateTime values come back as strings
// and integral doubles come back as ints.
type JSONCodec struct{}

type jsonMessage struct {
	Method string        `json:"method"`
	Params []value.Value `json:"params,omitempty"`
	Result value.Value   `json:"result,omitempty"`
	Fault  *jsonFault    `json:"fault,omitempty"`
}

type jsonFault struct {
	Code   int    `json:"faultCode"`
	String string `json:"faultString"`
}

type jsonWire struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Fault  *jsonFault      `json:"fault"`
}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	msg, err := asMessage(v)
	if err != nil {
		return nil, err
	}
	out := jsonMessage{Method: msg.Method, Params: msg.Params, Result: msg.Result}
	if msg.Fault != nil {
		out.Fault = &jsonFault{Code: msg.Fault.Code, String: msg.Fault.String}
	}
	return json.Marshal(out)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	msg, err := asMessage(v)
	if err != nil {
		return err
	}
	var in jsonWire
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("JSONCodec: %w", err)
	}

	*msg = message.RPCMessage{Method: in.Method}
	if len(in.Params) > 0 && string(in.Params) != "null" {
		if msg.Params, err = value.ParseJSONArray(in.Params); err != nil {
			return fmt.Errorf("JSONCodec: params: %w", err)
		}
	}
	if len(in.Result) > 0 && string(in.Result) != "null" {
		if msg.Result, err = value.ParseJSON(in.Result); err != nil {
			return fmt.Errorf("JSONCodec: result: %w", err)
		}
	}
	if in.Fault != nil {
		msg.Fault = message.NewFault(in.Fault.Code, in.Fault.String)
	}
	return nil
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
