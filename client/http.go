package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/gorilla/rpc/v2/json2"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"

	"dispatch-rpc/message"
	"dispatch-rpc/transport"
	"dispatch-rpc/value"
)

// HTTPClient calls a server's JSON-RPC 2.0 endpoint.
type HTTPClient struct {
	url      string
	hc       *http.Client
	compress bool
	header   http.Header
}

type HTTPOption func(*HTTPClient)

// WithHTTPClient sets the underlying *http.Client.
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(c *HTTPClient) { c.hc = hc }
}

// WithHTTPCompression gzips request bodies and asks for gzipped responses.
func WithHTTPCompression() HTTPOption {
	return func(c *HTTPClient) { c.compress = true }
}

// WithHeader adds a header to every request.
func WithHeader(key, val string) HTTPOption {
	return func(c *HTTPClient) { c.header.Add(key, val) }
}

func NewHTTPClient(url string, opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{url: url, hc: http.DefaultClient, header: make(http.Header)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call posts one JSON-RPC request. JSON-RPC error objects come back as
// faults carrying the error code; an HTTP 500 is a *transport.RemoteError.
func (c *HTTPClient) Call(ctx context.Context, method string, params ...value.Value) (message.Response, error) {
	if params == nil {
		params = []value.Value{}
	}
	body, err := json2.EncodeClientRequest(method, params)
	if err != nil {
		return message.Response{}, err
	}
	if c.compress {
		if body, err = gzipBody(body); err != nil {
			return message.Response{}, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return message.Response{}, err
	}
	for k, vs := range c.header {
		req.Header[k] = vs
	}
	req.Header.Set("Content-Type", "application/json")
	if c.compress {
		req.Header.Set("Content-Encoding", "gzip")
		req.Header.Set("Accept-Encoding", "gzip")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return message.Response{}, err
	}
	defer resp.Body.Close()

	r, err := responseReader(resp)
	if err != nil {
		return message.Response{}, err
	}
	var raw json.RawMessage
	err = json2.DecodeClientResponse(r, &raw)

	var jerr *json2.Error
	switch {
	case errors.As(err, &jerr) && resp.StatusCode == http.StatusInternalServerError:
		return message.Response{}, &transport.RemoteError{Method: method, Message: jerr.Message}
	case errors.As(err, &jerr):
		return message.FaultResponse(int(jerr.Code), jerr.Message), nil
	case err != nil:
		return message.Response{}, fmt.Errorf("%s: HTTP %d: %w", method, resp.StatusCode, err)
	}

	v, err := value.ParseJSON(raw)
	if err != nil {
		return message.Response{}, fmt.Errorf("%s: result: %w", method, err)
	}
	return message.Success(v), nil
}

// responseReader undoes the response's gzip content coding and charset.
func responseReader(resp *http.Response) (io.Reader, error) {
	var r io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		r = zr
	}

	_, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return r, nil
	}
	charset := params["charset"]
	if charset == "" || strings.EqualFold(charset, "utf-8") {
		return r, nil
	}
	enc, err := ianaindex.MIME.Encoding(charset)
	if err != nil || enc == nil {
		return nil, fmt.Errorf("response charset %q is not supported", charset)
	}
	return transform.NewReader(r, enc.NewDecoder()), nil
}

func gzipBody(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(body); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
