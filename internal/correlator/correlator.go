// Package correlator matches relying-party requests with the mobile
// responses that arrive on the Coupling API.
//
// A request is stored durably as a pending transaction for the mobile client
// to poll, while the waiting API handler parks on an in-memory handle. The
// matching callback completes the handle and wakes the waiter.
package correlator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openmobilesign/linkrelay/internal/envelope"
	"github.com/openmobilesign/linkrelay/internal/relay"
	"github.com/openmobilesign/linkrelay/internal/storage"
)

const (
	// fetchWindow bounds how old a pending transaction may be before a
	// poll stops seeing it.
	fetchWindow = 2 * time.Minute

	// DefaultAwaitTimeout is how long a handle waits for its callback
	// before giving up.
	DefaultAwaitTimeout = 180 * time.Second
)

// Handle is the wait side of one pending transaction. Exactly one completion
// wins; later completions are ignored.
type Handle struct {
	done chan struct{}
	once sync.Once

	resp *envelope.Message
	err  error
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

func (h *Handle) complete(resp *envelope.Message, err error) {
	h.once.Do(func() {
		h.resp = resp
		h.err = err
		close(h.done)
	})
}

// Await blocks until the handle is completed, the timeout elapses or ctx is
// done.
func (h *Handle) Await(ctx context.Context, timeout time.Duration) (*envelope.Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-h.done:
		return h.resp, h.err
	case <-timer.C:
		return nil, relay.NewError(relay.CodeTimedOut, "timed out waiting for mobile response")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Correlator owns the pending-transaction store and the in-memory callback
// handles.
type Correlator struct {
	txns     storage.TransactionStore
	lifetime time.Duration

	mu      sync.Mutex
	handles map[string]*Handle

	now func() time.Time
}

// New creates a Correlator. lifetime bounds how long swept transactions
// survive in storage.
func New(txns storage.TransactionStore, lifetime time.Duration) *Correlator {
	return &Correlator{
		txns:     txns,
		lifetime: lifetime,
		handles:  make(map[string]*Handle),
		now:      time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (c *Correlator) SetClock(now func() time.Time) {
	c.now = now
}

// StoreRequest persists msg as a pending transaction for linkID and returns
// the handle its response will complete.
func (c *Correlator) StoreRequest(ctx context.Context, linkID string, msg *envelope.Message) (*Handle, error) {
	if msg.TransID == "" {
		return nil, relay.NewError(relay.CodeInternalError, "request message has no transid")
	}

	request, err := json.Marshal(msg)
	if err != nil {
		return nil, relay.WrapError(relay.CodeInternalError, err, "failed to serialize request")
	}

	if err := c.txns.Insert(ctx, &storage.PendingTransaction{
		TransID: msg.TransID,
		LinkID:  linkID,
		Request: request,
		Created: c.now(),
	}); err != nil {
		return nil, relay.WrapError(relay.CodeInternalError, err, "failed to store pending transaction")
	}

	handle := newHandle()
	c.mu.Lock()
	c.handles[msg.TransID] = handle
	c.mu.Unlock()
	return handle, nil
}

// GetSignReq pops the newest pending request across the given linkids. Each
// request is handed out once: the backing row is deleted before the request
// is returned. A nil message means nothing is pending.
func (c *Correlator) GetSignReq(ctx context.Context, linkIDs []string) (*envelope.Message, error) {
	cutoff := c.now().Add(-fetchWindow)

	for _, linkID := range linkIDs {
		txn, err := c.txns.FindNewestPending(ctx, linkID, cutoff)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("failed to fetch pending transaction: %w", err)
		}

		if err := c.txns.Delete(ctx, txn.TransID); err != nil {
			return nil, fmt.Errorf("failed to pop pending transaction: %w", err)
		}

		var msg envelope.Message
		if err := json.Unmarshal(txn.Request, &msg); err != nil {
			return nil, fmt.Errorf("stored request is not a valid message: %w", err)
		}
		msg.SetRelayOriginated(true)
		return &msg, nil
	}
	return nil, nil
}

// StoreResponse completes the handle waiting on transID with the mobile
// response. Responses for unknown or already-completed transactions are
// dropped.
func (c *Correlator) StoreResponse(transID string, resp *envelope.Message) {
	c.mu.Lock()
	handle, ok := c.handles[transID]
	c.mu.Unlock()
	if !ok {
		slog.Debug("response for unknown transaction", slog.String("transid", transID))
		return
	}
	handle.complete(resp, nil)
}

// StoreError completes the handle waiting on transID with an error.
func (c *Correlator) StoreError(transID string, err error) {
	c.mu.Lock()
	handle, ok := c.handles[transID]
	c.mu.Unlock()
	if !ok {
		return
	}
	handle.complete(nil, err)
}

// DeleteTransaction removes the pending row and the callback handle. Waiting
// API handlers call this once their wait resolves either way.
func (c *Correlator) DeleteTransaction(ctx context.Context, transID string) {
	c.mu.Lock()
	delete(c.handles, transID)
	c.mu.Unlock()

	if err := c.txns.Delete(ctx, transID); err != nil {
		slog.Warn("failed to delete transaction",
			slog.String("transid", transID),
			slog.String("error", err.Error()))
	}
}

// CountPending returns the number of stored pending transactions.
func (c *Correlator) CountPending(ctx context.Context) (int64, error) {
	return c.txns.Count(ctx)
}

// Sweep deletes stored transactions older than the configured lifetime and
// returns how many were removed.
func (c *Correlator) Sweep(ctx context.Context) (int64, error) {
	return c.txns.DeleteOlderThan(ctx, c.now().Add(-c.lifetime))
}
