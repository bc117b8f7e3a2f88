package client

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// drainLimit bounds how many stale messages a self test discards first.
const drainLimit = 100000

// Check is the outcome of one self-test scenario.
type Check struct {
	Name     string        `json:"name"`
	Passed   bool          `json:"passed"`
	Detail   string        `json:"detail,omitempty"`
	Duration time.Duration `json:"duration"`
}

type Report struct {
	Drained int     `json:"drained"`
	Checks  []Check `json:"checks"`
}

func (r Report) Passed() bool {
	for _, c := range r.Checks {
		if !c.Passed {
			return false
		}
	}
	return len(r.Checks) > 0
}

// SelfTest empties the queue, then runs the round-trip, small-buffer,
// oversized and sequential scenarios against tr. n is the number of
// sequential messages. Transport errors abort the run.
func SelfTest(ctx context.Context, tr Transport, n int) (Report, error) {
	var rep Report
	drained, err := Drain(ctx, tr)
	if err != nil {
		return rep, err
	}
	rep.Drained = drained

	scenarios := []struct {
		name string
		run  func(context.Context, Transport) (string, error)
	}{
		{"round_trip", roundTrip},
		{"small_buffer", smallBuffer},
		{"oversized_write", oversizedWrite},
		{"sequential", func(ctx context.Context, tr Transport) (string, error) {
			return sequential(ctx, tr, n)
		}},
	}
	for _, sc := range scenarios {
		start := time.Now()
		detail, err := sc.run(ctx, tr)
		if err != nil {
			return rep, fmt.Errorf("selftest %s: %w", sc.name, err)
		}
		check := Check{Name: sc.name, Passed: detail == "", Detail: detail, Duration: time.Since(start)}
		rep.Checks = append(rep.Checks, check)
		log.Info().
			Str("component", "selftest").
			Str("check", check.Name).
			Bool("passed", check.Passed).
			Str("detail", check.Detail).
			Dur("duration", check.Duration).
			Msg("check done")
		if !check.Passed {
			if _, err := Drain(ctx, tr); err != nil {
				return rep, err
			}
		}
	}
	return rep, nil
}

// Drain reads until the queue reports empty and returns how many messages
// it discarded.
func Drain(ctx context.Context, tr Transport) (int, error) {
	for i := 0; i < drainLimit; i++ {
		res, err := tr.Read(ctx, 0)
		if err != nil {
			return i, err
		}
		if res.Empty {
			return i, nil
		}
	}
	return drainLimit, fmt.Errorf("client: queue not empty after %d reads", drainLimit)
}

func roundTrip(ctx context.Context, tr Transport) (string, error) {
	const msg = "Hello world!"
	if _, err := tr.Write(ctx, []byte(msg)); err != nil {
		return "", err
	}
	res, err := tr.Read(ctx, 1024)
	if err != nil {
		return "", err
	}
	if string(res.Payload) != msg {
		return fmt.Sprintf("read %q, want %q", res.Payload, msg), nil
	}
	return "", nil
}

func smallBuffer(ctx context.Context, tr Transport) (string, error) {
	if _, err := tr.Write(ctx, []byte("Hello world!")); err != nil {
		return "", err
	}
	res, err := tr.Read(ctx, 3)
	if err != nil {
		return "", err
	}
	if string(res.Payload) != "Hel" || !res.Truncated {
		return fmt.Sprintf("read %q truncated=%v, want \"Hel\" truncated", res.Payload, res.Truncated), nil
	}
	res, err = tr.Read(ctx, 1024)
	if err != nil {
		return "", err
	}
	if !res.Empty {
		return fmt.Sprintf("remainder resurfaced: %q", res.Payload), nil
	}
	return "", nil
}

func oversizedWrite(ctx context.Context, tr Transport) (string, error) {
	payload := bytes.Repeat([]byte("abcdefghij"), 200)
	w, err := tr.Write(ctx, payload)
	if err != nil {
		return "", err
	}
	if w.Stored <= 0 || w.Stored > len(payload) {
		return fmt.Sprintf("stored %d of %d bytes", w.Stored, len(payload)), nil
	}
	if w.Truncated != (w.Stored < len(payload)) {
		return fmt.Sprintf("truncated=%v with stored %d of %d", w.Truncated, w.Stored, len(payload)), nil
	}
	res, err := tr.Read(ctx, 0)
	if err != nil {
		return "", err
	}
	if !bytes.Equal(res.Payload, payload[:w.Stored]) {
		return fmt.Sprintf("read %d bytes, not the stored %d-byte prefix", len(res.Payload), w.Stored), nil
	}
	return "", nil
}

func sequential(ctx context.Context, tr Transport, n int) (string, error) {
	for i := 0; i < n; i++ {
		if _, err := tr.Write(ctx, []byte(fmt.Sprintf("Hello world #%d", i))); err != nil {
			return "", err
		}
	}
	for i := 0; i < n; i++ {
		want := fmt.Sprintf("Hello world #%d", i)
		res, err := tr.Read(ctx, 1024)
		if err != nil {
			return "", err
		}
		if string(res.Payload) != want {
			return fmt.Sprintf("message %d: read %q, want %q", i, res.Payload, want), nil
		}
	}
	return "", nil
}
