package durablehost

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/golemcloud/golemrt/pkg/apperror"
	"github.com/golemcloud/golemrt/pkg/oplog"
)

// HTTPDoer is the seam outgoing HTTP calls are made through, narrow
// enough to fake in tests (§3 "sockets/http (ReadRemote/WriteRemote)").
// A guest's outgoing-http binding resolves to an *http.Client in
// production.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPRequest is the durable, serializable request shape recorded in
// the oplog; it stands in for the wasi outgoing-http request record.
type HTTPRequest struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    []byte            `json:"body,omitempty"`
}

// HTTPResponse is the durable, serializable response shape.
type HTTPResponse struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    []byte            `json:"body,omitempty"`
}

// HTTP wraps an HTTPDoer as the outgoing-http host-function group.
// Every call is WriteRemote and non-idempotent: a crash mid-request
// leaves no guarantee the remote side didn't already observe it, so
// replay must never resend it (§4.3).
type HTTP struct {
	wrapper *Wrapper
	doer    HTTPDoer
}

// NewHTTP binds a durability wrapper to an HTTPDoer.
func NewHTTP(w *Wrapper, doer HTTPDoer) *HTTP {
	return &HTTP{wrapper: w, doer: doer}
}

// Send performs req and returns the durably-recorded response.
func (h *HTTP) Send(ctx context.Context, req HTTPRequest) (*HTTPResponse, error) {
	response, err := h.wrapper.Do(ctx, "http::send", Options{Kind: oplog.WriteRemote, NonIdempotentRemote: true}, func(ctx context.Context) ([]byte, error) {
		httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
		if err != nil {
			return nil, apperror.Wrap(err, apperror.CodeInvalidRequest, "http: build outgoing request")
		}
		for k, v := range req.Headers {
			httpReq.Header.Set(k, v)
		}

		httpResp, err := h.doer.Do(httpReq)
		if err != nil {
			return nil, apperror.Transient(err, "http: outgoing request failed")
		}
		defer httpResp.Body.Close()

		body, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return nil, apperror.Transient(err, "http: read response body")
		}

		headers := make(map[string]string, len(httpResp.Header))
		for k := range httpResp.Header {
			headers[k] = httpResp.Header.Get(k)
		}

		return json.Marshal(HTTPResponse{Status: httpResp.StatusCode, Headers: headers, Body: body})
	})
	if err != nil {
		return nil, err
	}

	var result HTTPResponse
	if err := json.Unmarshal(response, &result); err != nil {
		return nil, apperror.New(apperror.CodeOplogCorruption, "http: decode recorded response")
	}
	return &result, nil
}
