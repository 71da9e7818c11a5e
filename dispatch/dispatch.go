// Package dispatch guarantees at most one outstanding execution request per
// key. A key is Idle until EnqueueIfNotQueued submits a request for it,
// stays Queued while the backend holds that request, and returns to Idle
// when the backend reports that execution started or the submit failed.
// Requests accepted by a HandoffBackend leave this process, so their keys
// return to Idle as soon as the backend acknowledges them.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/chorus/jobs/errors"
	"github.com/chorus/jobs/logger"
)

// Key builds a dispatch key such as "JobPlan.run:42".
func Key(prefix, id string) string {
	return prefix + ":" + id
}

// SplitKey is the inverse of Key.
func SplitKey(key string) (prefix, id string, ok bool) {
	return strings.Cut(key, ":")
}

// Request is one execution request handed to a Backend.
type Request struct {
	Key     string          `json:"key"`
	JobName string          `json:"job_name"`
	Payload json.RawMessage `json:"payload"`
}

// Backend accepts execution requests. Submit returns once the request is
// durably accepted; execution happens later and elsewhere.
type Backend interface {
	Submit(ctx context.Context, req Request) error
}

// HandoffBackend is a Backend whose executors run outside this process and
// never report a start back. An acknowledged Submit is the last the
// dispatcher hears of the request.
type HandoffBackend interface {
	Backend
	HandsOff() bool
}

// handsOff reports whether b releases keys on acceptance.
func handsOff(b Backend) bool {
	h, ok := b.(HandoffBackend)
	return ok && h.HandsOff()
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, req Request) error

func (f BackendFunc) Submit(ctx context.Context, req Request) error {
	return f(ctx, req)
}

// State of a key.
type State string

const (
	Idle   State = "idle"
	Queued State = "queued"
)

// Stats counts dispatcher outcomes since start.
type Stats struct {
	Accepted uint64 `json:"accepted"`
	Absorbed uint64 `json:"absorbed"`
	Failed   uint64 `json:"failed"`
	Started  uint64 `json:"started"`
}

// Dispatcher submits requests to a backend, dropping duplicates for keys
// that are already queued.
type Dispatcher struct {
	backend Backend
	handoff bool
	tokens  TokenStore
	log     *zap.SugaredLogger

	accepted atomic.Uint64
	absorbed atomic.Uint64
	failed   atomic.Uint64
	started  atomic.Uint64
}

// New creates a Dispatcher. A nil token store gets a fresh MemoryTokens.
func New(backend Backend, tokens TokenStore, log *zap.SugaredLogger) *Dispatcher {
	if tokens == nil {
		tokens = NewMemoryTokens()
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Dispatcher{
		backend: backend,
		handoff: handsOff(backend),
		tokens:  tokens,
		log:     logger.AddPulseSymbol(log),
	}
}

// EnqueueIfNotQueued submits payload under key unless a request for key is
// already outstanding. It reports whether a new request was submitted.
// Backend failures release the key and come back marked retryable.
func (d *Dispatcher) EnqueueIfNotQueued(ctx context.Context, key, jobName string, payload any) (bool, error) {
	if key == "" {
		return false, errors.Wrap(errors.ErrInvalidRequest, "dispatch key is empty")
	}

	raw, err := encodePayload(payload)
	if err != nil {
		return false, errors.Wrapf(err, "failed to encode payload for %s", key)
	}

	if !d.tokens.TryAcquire(key) {
		d.absorbed.Add(1)
		d.log.Debugw("Dispatch absorbed, key already queued",
			logger.FieldDispatchKey, key,
			logger.FieldJobName, jobName,
		)
		return false, nil
	}

	if err := d.backend.Submit(ctx, Request{Key: key, JobName: jobName, Payload: raw}); err != nil {
		d.tokens.Release(key)
		d.failed.Add(1)
		err = errors.MarkRetryable(err, fmt.Sprintf("failed to enqueue %s", key))
		d.log.Warnw("Dispatch failed, key released",
			logger.FieldDispatchKey, key,
			logger.FieldJobName, jobName,
			logger.FieldRetryable, true,
			logger.FieldError, err,
		)
		return false, err
	}

	d.accepted.Add(1)
	if d.handoff {
		d.tokens.Release(key)
		d.log.Infow("Dispatched to external executor, key released",
			logger.FieldDispatchKey, key,
			logger.FieldJobName, jobName,
		)
		return true, nil
	}
	d.log.Infow("Dispatched",
		logger.FieldDispatchKey, key,
		logger.FieldJobName, jobName,
	)
	return true, nil
}

// MarkStarted returns key to Idle. The execution side calls it when a
// request begins running, so the next legitimate run can be queued.
func (d *Dispatcher) MarkStarted(key string) {
	if key == "" {
		return
	}
	if d.tokens.Has(key) {
		d.started.Add(1)
	}
	d.tokens.Release(key)
}

// MarkQueued puts key back to Queued when the execution side returns a
// started request to its queue for another attempt. It reports false when
// a newer request already holds the key.
func (d *Dispatcher) MarkQueued(key string) bool {
	if key == "" {
		return false
	}
	if d.tokens.TryAcquire(key) {
		return true
	}
	d.log.Warnw("Re-queued request shares its key with a newer request",
		logger.FieldDispatchKey, key,
	)
	return false
}

// HandsOff reports whether accepted requests leave this process.
func (d *Dispatcher) HandsOff() bool {
	return d.handoff
}

// Pending reports whether a request for key is outstanding.
func (d *Dispatcher) Pending(key string) bool {
	return d.tokens.Has(key)
}

// StateOf returns the current state of key.
func (d *Dispatcher) StateOf(key string) State {
	if d.Pending(key) {
		return Queued
	}
	return Idle
}

// Stats returns outcome counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Accepted: d.accepted.Load(),
		Absorbed: d.absorbed.Load(),
		Failed:   d.failed.Load(),
		Started:  d.started.Load(),
	}
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		if !json.Valid(p) {
			return nil, errors.New("payload is not valid JSON")
		}
		return p, nil
	case []byte:
		if !json.Valid(p) {
			return nil, errors.New("payload is not valid JSON")
		}
		return json.RawMessage(p), nil
	}
	return json.Marshal(payload)
}
