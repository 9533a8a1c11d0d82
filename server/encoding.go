package server

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
)

// lookupCharset resolves an IANA charset name. UTF-8 resolves to a nil
// encoding: the body is sent as is.
func lookupCharset(name string) (encoding.Encoding, error) {
	switch strings.ToLower(name) {
	case "", "utf-8", "utf8":
		return nil, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return nil, fmt.Errorf("charset %q is not supported", name)
	}
	return enc, nil
}

// canonicalCharset returns the IANA name used in Content-Type.
func canonicalCharset(name string, enc encoding.Encoding) string {
	if enc == nil {
		return "utf-8"
	}
	if n, err := ianaindex.MIME.Name(enc); err == nil && n != "" {
		return n
	}
	return name
}

// transcodeJSON re-encodes UTF-8 JSON text into enc. Runes enc cannot
// represent are written as \uXXXX escapes, which JSON accepts because
// non-ASCII text can only occur inside strings.
func transcodeJSON(body []byte, enc encoding.Encoding) []byte {
	if enc == nil {
		return body
	}
	e := enc.NewEncoder()
	out := make([]byte, 0, len(body))
	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		chunk := body[:size]
		body = body[size:]
		if r == utf8.RuneError && size == 1 {
			out = append(out, `\ufffd`...)
			continue
		}
		encoded, err := e.Bytes(chunk)
		if err == nil {
			out = append(out, encoded...)
			continue
		}
		if r1, r2 := utf16.EncodeRune(r); r1 != utf8.RuneError {
			out = fmt.Appendf(out, `\u%04x\u%04x`, r1, r2)
		} else {
			out = fmt.Appendf(out, `\u%04x`, r)
		}
	}
	return out
}

func acceptsGzip(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		coding, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if strings.EqualFold(strings.TrimSpace(coding), "gzip") && strings.TrimSpace(params) != "q=0" {
			return true
		}
	}
	return false
}

func gzipBytes(body []byte) ([]byte, error) {
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

// requestBody returns the request body, inflating it when the client sent
// it gzip-compressed.
func requestBody(r *http.Request) (io.ReadCloser, error) {
	switch strings.ToLower(r.Header.Get("Content-Encoding")) {
	case "", "identity":
		return r.Body, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip request body: %w", err)
		}
		return zr, nil
	}
	return nil, fmt.Errorf("unsupported content encoding %q", r.Header.Get("Content-Encoding"))
}
