// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package builtins

import (
	"context"

	"github.com/samber/oops"

	"github.com/holomush/devicekit/internal/httpclient"
	"github.com/holomush/devicekit/pkg/device"
)

// maxBodyText bounds the body text returned by fetch.
const maxBodyText = 4096

func web(client *httpclient.Client, o *options) *device.Implementation {
	if client == nil {
		client = httpclient.New()
	}
	return &device.Implementation{
		Functions: map[string]device.RawFunc{
			"get_fetch": func(ctx context.Context, d *device.Device, params device.Params) (any, error) {
				url, err := urlParam(params)
				if err != nil {
					return nil, err
				}
				resp, err := client.Get(ctx, url, httpclient.AuthAs(d))
				if err != nil {
					return nil, err
				}
				body := resp.Body
				if len(body) > maxBodyText {
					body = body[:maxBodyText]
				}
				return []device.Result{{
					"url":          resp.URL,
					"status":       resp.Status,
					"content_type": resp.Header.Get("Content-Type"),
					"size":         len(resp.Body),
					"text":         string(body),
				}}, nil
			},
			"get_random": func(context.Context, *device.Device, device.Params) (any, error) {
				return []device.Result{{"number": o.random()}}, nil
			},
			"do_post": func(ctx context.Context, d *device.Device, params device.Params) (any, error) {
				url, err := urlParam(params)
				if err != nil {
					return nil, err
				}
				body, _ := params["body"].(string)
				resp, err := client.Post(ctx, url, "text/plain; charset=utf-8", []byte(body), httpclient.AuthAs(d))
				if err != nil {
					return nil, err
				}
				return device.Result{"status": resp.Status}, nil
			},
		},
	}
}

func urlParam(params device.Params) (string, error) {
	url, _ := params["url"].(string)
	if url == "" {
		return "", oops.In("builtins").Errorf("url is required")
	}
	return url, nil
}
