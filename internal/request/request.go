// Package request provides utilities for making HTTP requests.
package request

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fluffy-critter/rss2discord/internal/version"
)

// DefaultClient is a [http.Client] with nice defaults.
var DefaultClient = &http.Client{
	Timeout: 30 * time.Second,
}

// Params defines the parameters needed for making an HTTP request.
type Params struct {
	// Method is the HTTP method (GET, POST, etc.) for the request.
	Method string
	// URL is the target URL of the request.
	URL string
	// Headers is a map of key-value pairs for additional request headers.
	Headers map[string]string
	// Body is any data to be sent in the request body. A []byte is sent as-is,
	// everything else is marshaled to JSON.
	Body any
	// WantStatusCode is the expected response status code. If zero, any 2xx
	// status is accepted.
	WantStatusCode int
	// HTTPClient is an optional custom HTTP client object to use for the
	// request. If not provided, DefaultClient will be used.
	HTTPClient *http.Client
	// Scrubber is an optional strings.Replacer that scrubs unwanted data from
	// error messages.
	Scrubber *strings.Replacer
}

// IgnoreResponse is a response type for [Make] that discards the response
// body.
type IgnoreResponse struct{}

// StatusError is returned when the response status code doesn't match the
// expected one. Body holds the (possibly truncated) response body, Header
// the response headers.
type StatusError struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

type scrubbedError struct {
	err      error
	scrubber *strings.Replacer
}

func (se *scrubbedError) Error() string {
	if se.scrubber != nil {
		return se.scrubber.Replace(se.err.Error())
	}
	return se.err.Error()
}

func (se *scrubbedError) Unwrap() error { return se.err }

func scrubErr(err error, scrubber *strings.Replacer) error {
	return &scrubbedError{err: err, scrubber: scrubber}
}

const maxErrorBody = 16384 // 16 KB is enough for error messages (probably)

// Make makes an HTTP request with the provided parameters, decoding the
// response into R: [IgnoreResponse] discards the body, any other type is
// unmarshaled from JSON.
func Make[R any](ctx context.Context, p Params) (R, error) {
	var resp R

	var data []byte
	if p.Body != nil {
		if raw, ok := p.Body.([]byte); ok {
			data = raw
		} else {
			var err error
			data, err = json.Marshal(p.Body)
			if err != nil {
				return resp, scrubErr(err, p.Scrubber)
			}
		}
	}

	var br io.Reader
	if data != nil {
		br = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, p.Method, p.URL, br)
	if err != nil {
		return resp, scrubErr(err, p.Scrubber)
	}

	req.Header.Set("User-Agent", version.UserAgent())
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}
	if data != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	httpc := DefaultClient
	if p.HTTPClient != nil {
		httpc = p.HTTPClient
	}

	res, err := httpc.Do(req)
	if err != nil {
		return resp, scrubErr(err, p.Scrubber)
	}
	defer res.Body.Close()

	statusOK := res.StatusCode >= 200 && res.StatusCode < 300
	if p.WantStatusCode != 0 {
		statusOK = res.StatusCode == p.WantStatusCode
	}
	if !statusOK {
		body, rerr := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		if rerr != nil {
			body = []byte("unable to read body")
		}
		return resp, scrubErr(&StatusError{StatusCode: res.StatusCode, Body: body, Header: res.Header}, p.Scrubber)
	}

	if _, ok := any(&resp).(*IgnoreResponse); ok {
		return resp, nil
	}

	b, err := io.ReadAll(res.Body)
	if err != nil {
		return resp, scrubErr(err, p.Scrubber)
	}
	if err := json.Unmarshal(b, &resp); err != nil {
		return resp, scrubErr(err, p.Scrubber)
	}
	return resp, nil
}
