package correlator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openmobilesign/linkrelay/internal/envelope"
	"github.com/openmobilesign/linkrelay/internal/relay"
	"github.com/openmobilesign/linkrelay/internal/storage"
)

func newTestCorrelator(t *testing.T) *Correlator {
	t.Helper()
	return New(storage.NewMemoryStore().Transactions, 10*time.Minute)
}

func newSignRequest(t *testing.T, transID string) *envelope.Message {
	t.Helper()
	msg, err := envelope.NewRequest(envelope.TypeSignature, transID, &envelope.BasePayload{Status: "pending"})
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	return msg
}

func TestStoreRequestAndPoll(t *testing.T) {
	c := newTestCorrelator(t)
	ctx := context.Background()

	if _, err := c.StoreRequest(ctx, "link-1", newSignRequest(t, "trans-1")); err != nil {
		t.Fatalf("StoreRequest() error = %v", err)
	}

	msg, err := c.GetSignReq(ctx, []string{"link-1"})
	if err != nil {
		t.Fatalf("GetSignReq() error = %v", err)
	}
	if msg == nil || msg.TransID != "trans-1" {
		t.Fatalf("GetSignReq() = %v, want trans-1", msg)
	}

	// The request is handed out exactly once.
	msg, err = c.GetSignReq(ctx, []string{"link-1"})
	if err != nil {
		t.Fatalf("second GetSignReq() error = %v", err)
	}
	if msg != nil {
		t.Error("popped request should not be returned again")
	}
}

func TestGetSignReqIgnoresOtherLinks(t *testing.T) {
	c := newTestCorrelator(t)
	ctx := context.Background()

	if _, err := c.StoreRequest(ctx, "link-1", newSignRequest(t, "trans-1")); err != nil {
		t.Fatalf("StoreRequest() error = %v", err)
	}

	msg, err := c.GetSignReq(ctx, []string{"link-2"})
	if err != nil {
		t.Fatalf("GetSignReq() error = %v", err)
	}
	if msg != nil {
		t.Error("request for link-1 must not be visible to link-2")
	}
}

func TestGetSignReqHonorsFetchWindow(t *testing.T) {
	c := newTestCorrelator(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	c.SetClock(func() time.Time { return base })
	if _, err := c.StoreRequest(ctx, "link-1", newSignRequest(t, "trans-1")); err != nil {
		t.Fatalf("StoreRequest() error = %v", err)
	}

	c.SetClock(func() time.Time { return base.Add(fetchWindow + time.Second) })
	msg, err := c.GetSignReq(ctx, []string{"link-1"})
	if err != nil {
		t.Fatalf("GetSignReq() error = %v", err)
	}
	if msg != nil {
		t.Error("request older than the fetch window should not be returned")
	}
}

func TestAwaitResolvedByResponse(t *testing.T) {
	c := newTestCorrelator(t)
	ctx := context.Background()

	req := newSignRequest(t, "trans-1")
	handle, err := c.StoreRequest(ctx, "link-1", req)
	if err != nil {
		t.Fatalf("StoreRequest() error = %v", err)
	}

	resp, err := req.NewResponse(&envelope.BasePayload{Status: "success"})
	if err != nil {
		t.Fatalf("NewResponse() error = %v", err)
	}
	go c.StoreResponse("trans-1", resp)

	got, err := handle.Await(ctx, time.Second)
	if err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if got.TransID != "trans-1" {
		t.Errorf("Await() transid = %q, want trans-1", got.TransID)
	}
}

func TestAwaitResolvedByError(t *testing.T) {
	c := newTestCorrelator(t)
	ctx := context.Background()

	handle, err := c.StoreRequest(ctx, "link-1", newSignRequest(t, "trans-1"))
	if err != nil {
		t.Fatalf("StoreRequest() error = %v", err)
	}

	go c.StoreError("trans-1", relay.NewError(relay.CodeUserCancel, "user cancelled"))

	_, err = handle.Await(ctx, time.Second)
	var relayErr *relay.RelayError
	if !errors.As(err, &relayErr) || relayErr.Code() != relay.CodeUserCancel {
		t.Errorf("Await() error = %v, want user_cancel", err)
	}
}

func TestAwaitTimesOut(t *testing.T) {
	c := newTestCorrelator(t)
	ctx := context.Background()

	handle, err := c.StoreRequest(ctx, "link-1", newSignRequest(t, "trans-1"))
	if err != nil {
		t.Fatalf("StoreRequest() error = %v", err)
	}

	_, err = handle.Await(ctx, 10*time.Millisecond)
	var relayErr *relay.RelayError
	if !errors.As(err, &relayErr) || relayErr.Code() != relay.CodeTimedOut {
		t.Errorf("Await() error = %v, want timed_out", err)
	}
}

func TestResponsesAreIsolatedPerTransaction(t *testing.T) {
	c := newTestCorrelator(t)
	ctx := context.Background()

	reqA := newSignRequest(t, "trans-a")
	reqB := newSignRequest(t, "trans-b")
	handleA, err := c.StoreRequest(ctx, "link-1", reqA)
	if err != nil {
		t.Fatalf("StoreRequest() error = %v", err)
	}
	handleB, err := c.StoreRequest(ctx, "link-1", reqB)
	if err != nil {
		t.Fatalf("StoreRequest() error = %v", err)
	}

	respB, err := reqB.NewResponse(&envelope.BasePayload{Status: "success"})
	if err != nil {
		t.Fatalf("NewResponse() error = %v", err)
	}
	c.StoreResponse("trans-b", respB)

	got, err := handleB.Await(ctx, time.Second)
	if err != nil {
		t.Fatalf("Await(trans-b) error = %v", err)
	}
	if got.TransID != "trans-b" {
		t.Errorf("handle B got transid %q", got.TransID)
	}

	// Handle A must still be pending.
	if _, err := handleA.Await(ctx, 10*time.Millisecond); err == nil {
		t.Error("handle A should not have been completed by trans-b's response")
	}
}

func TestSweepRemovesExpiredTransactions(t *testing.T) {
	store := storage.NewMemoryStore()
	c := New(store.Transactions, 10*time.Minute)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	c.SetClock(func() time.Time { return base })
	if _, err := c.StoreRequest(ctx, "link-1", newSignRequest(t, "trans-old")); err != nil {
		t.Fatalf("StoreRequest() error = %v", err)
	}

	c.SetClock(func() time.Time { return base.Add(11 * time.Minute) })
	if _, err := c.StoreRequest(ctx, "link-1", newSignRequest(t, "trans-new")); err != nil {
		t.Fatalf("StoreRequest() error = %v", err)
	}

	removed, err := c.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("Sweep() removed %d rows, want 1", removed)
	}

	count, err := c.CountPending(ctx)
	if err != nil {
		t.Fatalf("CountPending() error = %v", err)
	}
	if count != 1 {
		t.Errorf("CountPending() = %d, want 1", count)
	}
}
