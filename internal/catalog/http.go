// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package catalog

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/holomush/devicekit/internal/httpclient"
	"github.com/holomush/devicekit/pkg/errutil"
)

// Retry defaults for transient catalog failures.
const (
	DefaultRetries   = 3
	DefaultRetryBase = 200 * time.Millisecond
)

// HTTPCatalog talks to a remote catalog service.
type HTTPCatalog struct {
	base         *url.URL
	client       *httpclient.Client
	developerKey string
	retries      uint64
	retryBase    time.Duration
}

// HTTPOption configures an HTTPCatalog.
type HTTPOption func(*HTTPCatalog)

// WithDeveloperKey sends a developer key so unpublished modules resolve.
func WithDeveloperKey(key string) HTTPOption {
	return func(c *HTTPCatalog) { c.developerKey = key }
}

// WithRetries sets how often transient failures are retried and the base of
// the exponential backoff.
func WithRetries(n uint64, base time.Duration) HTTPOption {
	return func(c *HTTPCatalog) {
		c.retries = n
		c.retryBase = base
	}
}

// NewHTTPCatalog creates a catalog client for baseURL.
func NewHTTPCatalog(baseURL string, client *httpclient.Client, opts ...HTTPOption) (*HTTPCatalog, error) {
	base, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, oops.In("catalog").With("url", baseURL).Errorf("invalid catalog URL %q", baseURL)
	}
	if client == nil {
		client = httpclient.New()
	}
	c := &HTTPCatalog{
		base:      base,
		client:    client,
		retries:   DefaultRetries,
		retryBase: DefaultRetryBase,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *HTTPCatalog) endpoint(query url.Values, segments ...string) string {
	u := *c.base
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	u.Path = c.base.Path + "/" + strings.Join(segments, "/")
	u.RawPath = c.base.EscapedPath() + "/" + strings.Join(escaped, "/")
	if c.developerKey != "" {
		if query == nil {
			query = url.Values{}
		}
		query.Set("developer_key", c.developerKey)
	}
	u.RawQuery = query.Encode()
	return u.String()
}

// get fetches target, retrying transient failures. A 404 becomes a NotFound
// error for id.
func (c *HTTPCatalog) get(ctx context.Context, id, target string, opts ...httpclient.RequestOption) (*httpclient.Response, error) {
	backoff := retry.WithMaxRetries(c.retries, retry.NewExponential(c.retryBase))
	resp, err := retry.DoValue(ctx, backoff, func(ctx context.Context) (*httpclient.Response, error) {
		resp, err := c.client.Get(ctx, target, opts...)
		if err == nil {
			return resp, nil
		}
		if te, ok := httpclient.AsTransportError(err); ok && transient(te) {
			return nil, retry.RetryableError(err)
		}
		return nil, err
	})
	if err == nil {
		return resp, nil
	}
	if te, ok := httpclient.AsTransportError(err); ok && te.Status == http.StatusNotFound {
		return nil, errutil.NotFound("catalog", id)
	}
	return nil, err
}

func transient(te *httpclient.TransportError) bool {
	return te.Status == 0 || te.Status >= 500 || te.Status == http.StatusTooManyRequests
}

// GetDeviceCode implements Catalog.
func (c *HTTPCatalog) GetDeviceCode(ctx context.Context, id string) (string, error) {
	resp, err := c.get(ctx, id, c.endpoint(nil, "devices", "code", id))
	if err != nil {
		return "", err
	}
	return string(resp.Body), nil
}

// GetSchemas implements Catalog.
func (c *HTTPCatalog) GetSchemas(ctx context.Context, ids []string, withMetadata bool) (string, error) {
	query := url.Values{}
	if withMetadata {
		query.Set("meta", "1")
	}
	resp, err := c.get(ctx, strings.Join(ids, ","), c.endpoint(query, "schema", strings.Join(ids, ",")))
	if err != nil {
		return "", err
	}
	return string(resp.Body), nil
}

// GetModuleLocation implements Catalog. The catalog answers with a redirect
// to the archive, or with the archive URI as the body.
func (c *HTTPCatalog) GetModuleLocation(ctx context.Context, id string) (string, error) {
	target := c.endpoint(nil, "devices", "package", id)
	resp, err := c.get(ctx, id, target, httpclient.NoRedirects())
	if err != nil {
		te, ok := httpclient.AsTransportError(err)
		if !ok || !te.IsRedirect() {
			return "", err
		}
		return resolve(target, te.Location)
	}
	location := strings.TrimSpace(string(resp.Body))
	if location == "" {
		return "", oops.In("catalog").With("module", id).Errorf("catalog returned no module location")
	}
	return resolve(target, location)
}

func resolve(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", oops.In("catalog").Wrapf(err, "parse base URL")
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", oops.In("catalog").With("location", ref).Wrapf(err, "parse module location")
	}
	return b.ResolveReference(r).String(), nil
}
