package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/rpc/v2/json2"
	"go.uber.org/zap"

	"dispatch-rpc/message"
	"dispatch-rpc/value"
)

// ErrNotHTTP is returned by SetCookie outside of an HTTP request.
var ErrNotHTTP = errors.New("server: not an HTTP request")

// DebugHeader carries the messages recorded with DebugMsg back to the client.
const DebugHeader = "X-Debug-Message"

// HTTPHandler returns an http.Handler serving JSON-RPC 2.0 over POST.
//
// Faults become JSON-RPC error objects whose code is the fault code. A
// handler error in rethrow mode becomes an HTTP 500.
func (svr *Server) HTTPHandler() http.Handler {
	return &httpHandler{svr: svr, codec: json2.NewCodec()}
}

type httpHandler struct {
	svr   *Server
	codec *json2.Codec
}

// httpCall exposes the HTTP request to handlers and collects the cookies
// they set.
type httpCall struct {
	header  http.Header
	cookies []*http.Cookie

	mu         sync.Mutex
	setCookies []*http.Cookie
}

type httpCallKey struct{}

func httpCallFrom(ctx context.Context) *httpCall {
	hc, _ := ctx.Value(httpCallKey{}).(*httpCall)
	return hc
}

// RequestHeader returns the headers of the HTTP request being served.
func RequestHeader(ctx context.Context) (http.Header, bool) {
	hc := httpCallFrom(ctx)
	if hc == nil {
		return nil, false
	}
	return hc.header, true
}

// RequestCookies returns the cookies sent with the HTTP request being served.
func RequestCookies(ctx context.Context) []*http.Cookie {
	if hc := httpCallFrom(ctx); hc != nil {
		return hc.cookies
	}
	return nil
}

// SetCookie adds a cookie to the HTTP response.
func SetCookie(ctx context.Context, c *http.Cookie) error {
	hc := httpCallFrom(ctx)
	if hc == nil {
		return ErrNotHTTP
	}
	if err := c.Valid(); err != nil {
		return err
	}
	hc.mu.Lock()
	hc.setCookies = append(hc.setCookies, c)
	hc.mu.Unlock()
	return nil
}

// bufferedWriter captures what the codec writes so that the body can be
// transcoded and compressed before it is sent.
type bufferedWriter struct {
	header http.Header
	buf    bytes.Buffer
}

func (b *bufferedWriter) Header() http.Header         { return b.header }
func (b *bufferedWriter) Write(p []byte) (int, error) { return b.buf.Write(p) }
func (b *bufferedWriter) WriteHeader(int)             {}

func (h *httpHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "rpc: POST method required, received "+r.Method, http.StatusMethodNotAllowed)
		return
	}
	body, err := requestBody(r)
	if err != nil {
		http.Error(w, "rpc: "+err.Error(), http.StatusUnsupportedMediaType)
		return
	}
	defer body.Close()
	r.Body = body

	svr := h.svr
	creq := h.codec.NewRequest(r)
	out := &bufferedWriter{header: make(http.Header)}

	method, err := creq.Method()
	if err != nil {
		creq.WriteError(out, http.StatusBadRequest, err)
		h.flush(w, r, svr.Config(), nil, nil, http.StatusOK, out)
		return
	}

	c := svr.newCall(method)
	hc := &httpCall{header: r.Header.Clone(), cookies: r.Cookies()}
	ctx := context.WithValue(withCall(r.Context(), c), httpCallKey{}, hc)

	var raw json.RawMessage
	var resp message.Response
	if err := creq.ReadRequest(&raw); err != nil {
		resp = message.FaultResponse(message.CodeInvalidRequest, "invalid request: "+err.Error())
	} else if params, err := decodeParams(raw); err != nil {
		resp = message.FaultResponse(message.CodeInvalidRequest, "invalid params: "+err.Error())
	} else {
		resp, err = svr.Dispatch(ctx, message.NewRequest(method, params...))
		if err != nil {
			c.logger.Error("call failed", zap.Error(err))
			creq.WriteError(out, http.StatusInternalServerError, &json2.Error{
				Code:    json2.E_INTERNAL,
				Message: err.Error(),
			})
			h.flush(w, r, c.cfg, c, hc, http.StatusInternalServerError, out)
			return
		}
	}

	if f, ok := resp.Fault(); ok {
		creq.WriteError(out, http.StatusOK, &json2.Error{Code: json2.ErrorCode(f.Code), Message: f.String})
	} else {
		v, _ := resp.Value()
		creq.WriteResponse(out, v)
	}
	h.flush(w, r, c.cfg, c, hc, http.StatusOK, out)
}

// flush writes the buffered response: cookies and debug headers first, then
// the body in the configured charset, gzip-compressed when enabled and
// accepted.
func (h *httpHandler) flush(w http.ResponseWriter, r *http.Request, cfg Config, c *call, hc *httpCall, status int, out *bufferedWriter) {
	if hc != nil {
		hc.mu.Lock()
		for _, ck := range hc.setCookies {
			http.SetCookie(w, ck)
		}
		hc.mu.Unlock()
	}
	if c != nil && cfg.DebugLevel >= 1 {
		for _, msg := range c.snapshot() {
			w.Header().Add(DebugHeader, sanitizeHeader(msg))
		}
	}

	body := out.buf.Bytes()
	if len(body) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	enc, err := lookupCharset(cfg.ResponseCharset)
	if err != nil {
		h.svr.logger.Warn("response charset", zap.String("charset", cfg.ResponseCharset), zap.Error(err))
	}
	body = transcodeJSON(body, enc)
	w.Header().Set("Content-Type", "application/json; charset="+canonicalCharset(cfg.ResponseCharset, enc))

	if cfg.CompressResponse && acceptsGzip(r) {
		if zipped, err := gzipBytes(body); err == nil {
			body = zipped
			w.Header().Set("Content-Encoding", "gzip")
			w.Header().Add("Vary", "Accept-Encoding")
		} else {
			h.svr.logger.Warn("gzip response", zap.Error(err))
		}
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		h.svr.logger.Debug("write response", zap.Error(err))
	}
}

// decodeParams reads positional params from a JSON array. A JSON object is
// passed as a single struct param.
func decodeParams(raw json.RawMessage) ([]value.Value, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil, nil
	}
	if trimmed[0] == '{' {
		v, err := value.ParseJSON(trimmed)
		if err != nil {
			return nil, err
		}
		return []value.Value{v}, nil
	}
	return value.ParseJSONArray(trimmed)
}

func sanitizeHeader(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\r' || r == '\n' {
			return ' '
		}
		return r
	}, s)
}
