package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gorilla/rpc/v2/json2"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"dispatch-rpc/message"
	"dispatch-rpc/signature"
	"dispatch-rpc/value"
)

func newHTTPServer(t *testing.T, cfg Config) (*Server, *httptest.Server) {
	t.Helper()
	svr := NewServer(WithConfig(cfg))
	require.NoError(t, svr.Register(Method{
		Name:       "examples.addtwo",
		Handler:    countingAdd(new(atomic.Int32)),
		Signatures: []signature.Signature{sig("int", "int", "int")},
	}))
	require.NoError(t, svr.Register(Method{
		Name: "examples.stringecho",
		Handler: func(ctx context.Context, req *message.Request) (message.Response, error) {
			DebugMsg(ctx, "echoing")
			return message.Success(req.Params[0]), nil
		},
		Signatures: []signature.Signature{sig("string", "string")},
	}))
	require.NoError(t, svr.Register(raising(errors.New("boom"))))
	ts := httptest.NewServer(svr.HTTPHandler())
	t.Cleanup(ts.Close)
	return svr, ts
}

func post(t *testing.T, url string, body []byte, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		req.Header[k] = vs
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func callHTTP(t *testing.T, url, method string, params ...any) *http.Response {
	t.Helper()
	body, err := json2.EncodeClientRequest(method, params)
	require.NoError(t, err)
	return post(t, url, body, nil)
}

func TestHTTPSuccess(t *testing.T) {
	_, ts := newHTTPServer(t, DefaultConfig())

	resp := callHTTP(t, ts.URL, "examples.addtwo", 3, 4)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json; charset=utf-8", resp.Header.Get("Content-Type"))

	var raw json.RawMessage
	require.NoError(t, json2.DecodeClientResponse(resp.Body, &raw))
	assert.Equal(t, "7", string(raw))
}

func TestHTTPFaults(t *testing.T) {
	_, ts := newHTTPServer(t, DefaultConfig())

	cases := map[string]struct {
		resp *http.Response
		code int
	}{
		"signature":     {callHTTP(t, ts.URL, "examples.addtwo", "a", 4), message.CodeIncorrectParams},
		"unknown":       {callHTTP(t, ts.URL, "no.such.method"), message.CodeUnknownMethod},
		"raised":        {callHTTP(t, ts.URL, "tests.raiseException"), message.CodeServerError},
		"null param":    {post(t, ts.URL, []byte(`{"jsonrpc":"2.0","method":"examples.addtwo","params":[null,1],"id":1}`), nil), message.CodeInvalidRequest},
		"scalar params": {post(t, ts.URL, []byte(`{"jsonrpc":"2.0","method":"examples.addtwo","params":7,"id":1}`), nil), message.CodeInvalidRequest},
	}
	for name, tc := range cases {
		assert.Equal(t, http.StatusOK, tc.resp.StatusCode, name)
		err := json2.DecodeClientResponse(tc.resp.Body, new(json.RawMessage))
		var jerr *json2.Error
		require.ErrorAs(t, err, &jerr, name)
		assert.EqualValues(t, tc.code, jerr.Code, name)
	}
}

func TestHTTPMalformedRequest(t *testing.T) {
	_, ts := newHTTPServer(t, DefaultConfig())

	resp := post(t, ts.URL, []byte(`{"jsonrpc":"2.0","method":`), nil)
	err := json2.DecodeClientResponse(resp.Body, new(json.RawMessage))
	var jerr *json2.Error
	require.ErrorAs(t, err, &jerr)
	assert.Equal(t, json2.E_PARSE, jerr.Code)

	resp, err = http.Get(ts.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHTTPRethrowIsInternalError(t *testing.T) {
	_, ts := newHTTPServer(t, Config{ExceptionHandling: ExceptionRethrow})

	resp := callHTTP(t, ts.URL, "tests.raiseException")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	err := json2.DecodeClientResponse(resp.Body, new(json.RawMessage))
	var jerr *json2.Error
	require.ErrorAs(t, err, &jerr)
	assert.Equal(t, json2.E_INTERNAL, jerr.Code)
}

func TestHTTPCompression(t *testing.T) {
	_, ts := newHTTPServer(t, Config{CompressResponse: true})

	body, err := json2.EncodeClientRequest("examples.stringecho", []any{"compress me"})
	require.NoError(t, err)
	zipped, err := gzipBytes(body)
	require.NoError(t, err)

	resp := post(t, ts.URL, zipped, http.Header{
		"Content-Encoding": {"gzip"},
		"Accept-Encoding":  {"gzip"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "gzip", resp.Header.Get("Content-Encoding"))

	zr, err := gzip.NewReader(resp.Body)
	require.NoError(t, err)
	var raw json.RawMessage
	require.NoError(t, json2.DecodeClientResponse(zr, &raw))
	assert.Equal(t, `"compress me"`, string(raw))

	// no Accept-Encoding, no compression
	resp = post(t, ts.URL, body, http.Header{"Accept-Encoding": {"identity"}})
	assert.Empty(t, resp.Header.Get("Content-Encoding"))

	resp = post(t, ts.URL, body, http.Header{"Content-Encoding": {"br"}})
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestHTTPResponseCharset(t *testing.T) {
	_, ts := newHTTPServer(t, Config{ResponseCharset: "ISO-8859-1"})

	resp := callHTTP(t, ts.URL, "examples.stringecho", "café ☃")
	assert.Equal(t, "application/json; charset=ISO-8859-1", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "caf\xe9 \\u2603")

	utf8Body, err := charmap.ISO8859_1.NewDecoder().Bytes(body)
	require.NoError(t, err)
	var got string
	require.NoError(t, json2.DecodeClientResponse(bytes.NewReader(utf8Body), &got))
	assert.Equal(t, "café ☃", got)
}

func TestTranscodeJSON(t *testing.T) {
	enc, err := lookupCharset("ISO-8859-1")
	require.NoError(t, err)
	assert.Equal(t, "\"\xe9\\u2603\\ud83d\\ude00\\ufffd\"", string(transcodeJSON([]byte("\"é☃😀\xff\""), enc)))

	enc, err = lookupCharset("utf-8")
	require.NoError(t, err)
	assert.Nil(t, enc)
	assert.Equal(t, `"é"`, string(transcodeJSON([]byte(`"é"`), enc)))

	_, err = lookupCharset("no-such-charset")
	assert.Error(t, err)
}

func TestHTTPDebugHeadersAndContext(t *testing.T) {
	svr, ts := newHTTPServer(t, Config{DebugLevel: 1})
	require.NoError(t, svr.Register(Method{
		Name: "examples.getcookies",
		Handler: func(ctx context.Context, req *message.Request) (message.Response, error) {
			h, ok := RequestHeader(ctx)
			if !ok {
				return message.FaultResponse(message.CodeUser, "not http"), nil
			}
			s := value.NewStruct(value.Member{Name: "agent", Value: value.String(h.Get("X-Agent"))})
			for _, c := range RequestCookies(ctx) {
				s.Set(c.Name, value.String(c.Value))
			}
			if err := SetCookie(ctx, &http.Cookie{Name: "seen", Value: "yes"}); err != nil {
				return message.Response{}, err
			}
			return message.Success(s), nil
		},
	}))

	resp := callHTTP(t, ts.URL, "examples.stringecho", "hi")
	assert.Equal(t, []string{"echoing"}, resp.Header.Values(DebugHeader))

	body, err := json2.EncodeClientRequest("examples.getcookies", []any{})
	require.NoError(t, err)
	resp = post(t, ts.URL, body, http.Header{
		"X-Agent": {"tester"},
		"Cookie":  {"flavour=oatmeal"},
	})
	var raw json.RawMessage
	require.NoError(t, json2.DecodeClientResponse(resp.Body, &raw))
	assert.JSONEq(t, `{"agent":"tester","flavour":"oatmeal"}`, string(raw))
	require.Len(t, resp.Cookies(), 1)
	assert.Equal(t, "seen", resp.Cookies()[0].Name)

	assert.ErrorIs(t, SetCookie(context.Background(), &http.Cookie{Name: "x"}), ErrNotHTTP)
}
