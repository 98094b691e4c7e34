// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package httpclient is the outbound HTTP helper used by device modules and
// the catalog client.
//
// A request can authenticate as a device: the device's OAuth2 access token is
// attached and a 401 answer triggers one credential refresh and one retry.
package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/devicekit/pkg/device"
	"github.com/holomush/devicekit/pkg/errutil"
)

// DefaultTimeout bounds a single request attempt.
const DefaultTimeout = 30 * time.Second

// maxErrorBody bounds how much of a failed response body is kept.
const maxErrorBody = 64 * 1024

// TransportError is a failed HTTP exchange. Status is zero when no response
// was received.
type TransportError struct {
	URL      string
	Status   int
	Location string
	Body     []byte
	Err      error
}

func (e *TransportError) Error() string {
	switch {
	case e.Status == 0:
		return fmt.Sprintf("request to %s failed: %v", e.URL, e.Err)
	case e.Location != "":
		return fmt.Sprintf("request to %s redirected (%d) to %s", e.URL, e.Status, e.Location)
	default:
		return fmt.Sprintf("request to %s failed with status %d", e.URL, e.Status)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsRedirect reports whether the error is an unfollowed redirect.
func (e *TransportError) IsRedirect() bool {
	return e.Status >= 300 && e.Status < 400 && e.Location != ""
}

// AsTransportError extracts a *TransportError from err's chain.
func AsTransportError(err error) (*TransportError, bool) {
	var te *TransportError
	ok := errors.As(err, &te)
	return te, ok
}

// Request describes an outbound request.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte

	// AuthAs authenticates the request with the device's OAuth2 credentials.
	AuthAs *device.Device
	// FollowRedirects follows 3xx answers. When false the redirect surfaces
	// as a *TransportError carrying the Location.
	FollowRedirects bool
}

// Response is a completed response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	URL    string
}

// StreamResponse is a response whose body has not been read.
type StreamResponse struct {
	Status int
	Header http.Header
	Body   io.ReadCloser
}

// Client sends requests.
type Client struct {
	http      *http.Client
	noFollow  *http.Client
	userAgent string
	logger    *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(cl *Client) { cl.userAgent = ua }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// New creates a client.
func New(opts ...Option) *Client {
	c := &Client{
		http:      &http.Client{Timeout: DefaultTimeout},
		userAgent: "devicekit/" + device.SDKVersion,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	noFollow := *c.http
	noFollow.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	c.noFollow = &noFollow
	return c
}

// HTTPClient returns the underlying HTTP client.
func (c *Client) HTTPClient() *http.Client { return c.http }

// RequestOption adjusts a Request built by Get or Post.
type RequestOption func(*Request)

// AuthAs authenticates the request as d.
func AuthAs(d *device.Device) RequestOption {
	return func(r *Request) { r.AuthAs = d }
}

// WithHeader sets a request header.
func WithHeader(key, value string) RequestOption {
	return func(r *Request) {
		if r.Header == nil {
			r.Header = make(http.Header)
		}
		r.Header.Set(key, value)
	}
}

// NoRedirects surfaces redirects instead of following them.
func NoRedirects() RequestOption {
	return func(r *Request) { r.FollowRedirects = false }
}

// Get sends a GET request. Redirects are followed unless NoRedirects is given.
func (c *Client) Get(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	req := Request{Method: http.MethodGet, URL: url, FollowRedirects: true}
	for _, opt := range opts {
		opt(&req)
	}
	return c.Do(ctx, req)
}

// Post sends a POST request with the given body.
func (c *Client) Post(ctx context.Context, url, contentType string, body []byte, opts ...RequestOption) (*Response, error) {
	req := Request{Method: http.MethodPost, URL: url, Body: body, FollowRedirects: true}
	WithHeader("Content-Type", contentType)(&req)
	for _, opt := range opts {
		opt(&req)
	}
	return c.Do(ctx, req)
}

// Do sends req and reads the whole response body.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	resp, err := c.send(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportErr(&TransportError{URL: req.URL, Status: resp.StatusCode, Err: err}, "read response body")
	}
	return &Response{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   body,
		URL:    resp.Request.URL.String(),
	}, nil
}

// Stream sends req and returns the unread body. The caller closes it.
func (c *Client) Stream(ctx context.Context, req Request) (*StreamResponse, error) {
	resp, err := c.send(ctx, req)
	if err != nil {
		return nil, err
	}
	return &StreamResponse{Status: resp.StatusCode, Header: resp.Header, Body: resp.Body}, nil
}

// send performs req, refreshing credentials and retrying once on 401. It
// returns only 2xx responses.
func (c *Client) send(ctx context.Context, req Request) (*http.Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	client := c.http
	if !req.FollowRedirects {
		client = c.noFollow
	}

	var creds device.Credentials
	if req.AuthAs != nil {
		creds, _ = device.CredentialsOf(req.AuthAs)
	}

	retried := false
	for {
		httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, bytes.NewReader(req.Body))
		if err != nil {
			return nil, oops.In("http").With("url", req.URL).Wrapf(err, "build request")
		}
		for key, values := range req.Header {
			for _, v := range values {
				httpReq.Header.Add(key, v)
			}
		}
		if c.userAgent != "" && httpReq.Header.Get("User-Agent") == "" {
			httpReq.Header.Set("User-Agent", c.userAgent)
		}
		if creds != nil && creds.AccessToken() != "" {
			httpReq.Header.Set("Authorization", creds.AuthScheme()+" "+creds.AccessToken())
		}

		resp, err := client.Do(httpReq)
		if err != nil {
			return nil, transportErr(&TransportError{URL: req.URL, Err: err}, "send request")
		}

		if resp.StatusCode == http.StatusUnauthorized && !retried && creds != nil && creds.RefreshToken() != "" {
			drain(resp.Body)
			c.logger.DebugContext(ctx, "access token rejected, refreshing credentials",
				"url", req.URL,
				"kind", req.AuthAs.Kind())
			if err := creds.RefreshCredentials(ctx); err != nil {
				return nil, err
			}
			retried = true
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			drain(resp.Body)
			return nil, transportErr(&TransportError{
				URL:      req.URL,
				Status:   resp.StatusCode,
				Location: resp.Header.Get("Location"),
				Body:     body,
			}, "unexpected status")
		}
		return resp, nil
	}
}

func transportErr(te *TransportError, msg string) error {
	return oops.In("http").
		Code(errutil.CodeTransport).
		With("url", te.URL).
		With("status", te.Status).
		Wrapf(te, "%s", msg)
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, maxErrorBody))
	_ = body.Close()
}
