// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package module

import (
	"context"
	"log/slog"
	"time"

	"github.com/holomush/devicekit/pkg/device"
)

// MaxPollItems caps how many results one poll flushes.
const MaxPollItems = 50

// PollStateKey is the device state key holding the last poll time of query.
func PollStateKey(query string) string { return "$poll:" + query }

// pollSubscribe synthesizes a subscription that runs query every interval.
func pollSubscribe(name string, interval time.Duration, query device.QueryFunc, logger *slog.Logger) device.SubscribeFunc {
	return func(ctx context.Context, d *device.Device, params device.Params) (device.Stream, error) {
		return newPollStream(ctx, d, name, params, interval, query, logger), nil
	}
}

// newPollStream starts the poll loop. The first poll runs one interval after
// the last persisted poll, or immediately when that is already past.
func newPollStream(ctx context.Context, d *device.Device, name string, params device.Params, interval time.Duration, query device.QueryFunc, logger *slog.Logger) device.Stream {
	ctx, cancel := context.WithCancel(ctx)
	exited := make(chan struct{})
	stream := device.NewChanStream(0, func() {
		cancel()
		<-exited
	})
	key := PollStateKey(name)

	go func() {
		defer close(exited)
		defer stream.Close()
		defer cancel()

		for {
			wait := time.Duration(0)
			if last, ok := d.State().Time(key); ok {
				wait = min(max(time.Until(last.Add(interval)), 0), interval)
			}

			timer := time.NewTimer(wait)
			select {
			case <-stream.Done():
				timer.Stop()
				return
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}

			ts := time.Now()
			d.State().Set(key, ts)

			seq, err := query(ctx, d, params)
			if err != nil {
				logger.Warn("poll failed",
					"kind", d.Kind(),
					"query", name,
					"error", err)
				if !stream.Emit(device.Event{Err: err, Timestamp: ts}) {
					return
				}
				continue
			}

			n := 0
			for result := range seq {
				if n == MaxPollItems {
					logger.Debug("poll result truncated",
						"kind", d.Kind(),
						"query", name,
						"limit", MaxPollItems)
					break
				}
				n++
				if !stream.Emit(device.Event{Result: result, Timestamp: ts}) {
					return
				}
			}
		}
	}()
	return stream
}
