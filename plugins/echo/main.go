// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package main implements an echo device as a binary devicekit module.
// The device repeats what it is told and remembers the last message.
//
// Build and package with:
//
//	go build -o echo ./plugins/echo
//	zip -j plugins/echo/catalog/com.example.echo.zip echo plugins/echo/package.yaml
//
// plugins/echo/catalog then serves as a directory catalog for the module.
package main

import (
	"context"
	"strings"
	"sync"

	"github.com/holomush/devicekit/pkg/devicesdk"
)

type echo struct {
	mu   sync.Mutex
	last string
}

func (e *echo) getEcho(_ context.Context, params map[string]any) (any, error) {
	text, _ := params["text"].(string)
	return []any{map[string]any{"text": text}}, nil
}

func (e *echo) getLast(context.Context, map[string]any) (any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return []any{map[string]any{"text": e.last}}, nil
}

func (e *echo) doSay(_ context.Context, params map[string]any) (any, error) {
	text, _ := params["text"].(string)
	e.mu.Lock()
	e.last = text
	e.mu.Unlock()
	return map[string]any{"text": "Echo: " + text}, nil
}

func doShout(_ context.Context, params map[string]any) (any, error) {
	text, _ := params["text"].(string)
	return map[string]any{"text": strings.ToUpper(text)}, nil
}

func main() {
	e := &echo{}
	devicesdk.Serve(&devicesdk.Module{
		Functions: map[string]devicesdk.Function{
			"get_echo": e.getEcho,
			"get_last": e.getLast,
			"do_say":   e.doSay,
		},
		Subdevices: map[string]map[string]devicesdk.Function{
			"com.example.echo.loud": {
				"do_shout": doShout,
			},
		},
	})
}
