package link

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/openmobilesign/linkrelay/internal/correlator"
	"github.com/openmobilesign/linkrelay/internal/coupling"
	"github.com/openmobilesign/linkrelay/internal/couplingcode"
	"github.com/openmobilesign/linkrelay/internal/envelope"
	"github.com/openmobilesign/linkrelay/internal/push"
	"github.com/openmobilesign/linkrelay/internal/relay"
	"github.com/openmobilesign/linkrelay/internal/storage"
)

type linkRig struct {
	store      *storage.Store
	correlator *correlator.Correlator
	service    *Service
}

func newLinkRig(t *testing.T, listKeysEnabled bool) *linkRig {
	t.Helper()
	store := storage.NewMemoryStore()
	corr := correlator.New(store.Transactions, 10*time.Minute)
	svc := NewService(
		store,
		corr,
		couplingcode.NewGenerator(store.Couplings),
		push.NoopNotifier{},
		make(chan struct{}, 10),
		listKeysEnabled,
	)
	svc.SetTimeouts(2*time.Second, 2*time.Second)
	return &linkRig{store: store, correlator: corr, service: svc}
}

func (rig *linkRig) addAccount(t *testing.T, musapID, linkID string) {
	t.Helper()
	err := rig.store.Accounts.InsertAccount(context.Background(), &storage.Account{
		MusapID: musapID,
		LinkIDs: []string{linkID},
	})
	if err != nil {
		t.Fatalf("InsertAccount() error = %v", err)
	}
}

func postJSON(t *testing.T, handler http.HandlerFunc, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal error = %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(data))
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) relay.ErrorResponse {
	t.Helper()
	var resp relay.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return resp
}

// respondToPending simulates the mobile side: it pops the pending request
// for linkID and completes it with the given callback payload.
func (rig *linkRig) respondToPending(t *testing.T, linkID string, payload any) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		msg, err := rig.correlator.GetSignReq(context.Background(), []string{linkID})
		if err != nil {
			t.Errorf("GetSignReq() error = %v", err)
			return
		}
		if msg != nil {
			resp, err := msg.NewResponse(payload)
			if err != nil {
				t.Errorf("NewResponse() error = %v", err)
				return
			}
			resp.Type = envelope.TypeSignatureCallback
			rig.correlator.StoreResponse(msg.TransID, resp)
			return
		}
		if time.Now().After(deadline) {
			t.Error("no pending request appeared")
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHandleLink(t *testing.T) {
	rig := newLinkRig(t, false)

	rec := postJSON(t, rig.service.HandleLink, struct{}{})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp LinkResp
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.LinkID == "" || len(resp.CouplingCode) != 6 {
		t.Errorf("response = %+v, want linkid and 6-char code", resp)
	}
	if !strings.HasPrefix(resp.QRCode, "data:image/png;base64,") {
		t.Error("qrcode is not a PNG data URL")
	}

	// The code must resolve back to the linkid.
	linkID, err := rig.store.Couplings.FindLinkID(context.Background(), resp.CouplingCode)
	if err != nil {
		t.Fatalf("FindLinkID() error = %v", err)
	}
	if linkID != resp.LinkID {
		t.Errorf("code resolves to %q, want %q", linkID, resp.LinkID)
	}
}

func TestHandleSignSuccess(t *testing.T) {
	rig := newLinkRig(t, false)
	rig.addAccount(t, "musap-1", "link-1")

	go rig.respondToPending(t, "link-1", &coupling.SignatureCallbackReq{
		Signature: base64.StdEncoding.EncodeToString([]byte("sig")),
		KeyID:     "key-1",
		KeyName:   "auth",
	})

	rec := postJSON(t, rig.service.HandleSign, &SignReq{
		LinkID: "link-1",
		Data:   base64.StdEncoding.EncodeToString([]byte("dtbs")),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp SignResp
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Signature == "" {
		t.Errorf("response = %+v, want a signature", resp)
	}

	// Key details from the callback are recorded.
	key, err := rig.store.Keys.FindByKeyID(context.Background(), "musap-1", "key-1")
	if err != nil {
		t.Fatalf("FindByKeyID() error = %v", err)
	}
	if key.KeyName != "auth" {
		t.Errorf("key name = %q, want auth", key.KeyName)
	}
}

func TestHandleSignUnknownLink(t *testing.T) {
	rig := newLinkRig(t, false)

	rec := postJSON(t, rig.service.HandleSign, &SignReq{LinkID: "nobody", Data: "ZHRicw=="})
	resp := decodeError(t, rec)
	if resp.ErrorCode != relay.CodeUnknownUser {
		t.Errorf("errorcode = %d, want %d", resp.ErrorCode, relay.CodeUnknownUser)
	}
}

func TestHandleSignMissingFields(t *testing.T) {
	rig := newLinkRig(t, false)

	rec := postJSON(t, rig.service.HandleSign, &SignReq{LinkID: "link-1"})
	resp := decodeError(t, rec)
	if resp.ErrorCode != relay.CodeMissingParam {
		t.Errorf("errorcode = %d, want %d", resp.ErrorCode, relay.CodeMissingParam)
	}
}

func TestHandleSignUnknownKeyName(t *testing.T) {
	rig := newLinkRig(t, false)
	rig.addAccount(t, "musap-1", "link-1")

	rec := postJSON(t, rig.service.HandleSign, &SignReq{
		LinkID:  "link-1",
		Data:    "ZHRicw==",
		KeyName: "missing",
	})
	resp := decodeError(t, rec)
	if resp.ErrorCode != relay.CodeUnknownKey {
		t.Errorf("errorcode = %d, want %d", resp.ErrorCode, relay.CodeUnknownKey)
	}
}

func TestHandleSignTimesOut(t *testing.T) {
	rig := newLinkRig(t, false)
	rig.addAccount(t, "musap-1", "link-1")
	rig.service.SetTimeouts(50*time.Millisecond, 20*time.Millisecond)

	rec := postJSON(t, rig.service.HandleSign, &SignReq{LinkID: "link-1", Data: "ZHRicw=="})
	resp := decodeError(t, rec)
	if resp.ErrorName != "timed_out" {
		t.Errorf("errorname = %q, want timed_out", resp.ErrorName)
	}
}

func TestHandleDocSignRequiresDataChoice(t *testing.T) {
	rig := newLinkRig(t, false)
	rig.addAccount(t, "musap-1", "link-1")

	rec := postJSON(t, rig.service.HandleDocSign, &DocSignReq{LinkID: "link-1"})
	resp := decodeError(t, rec)
	if resp.ErrorCode != relay.CodeMissingParam {
		t.Errorf("errorcode = %d, want %d", resp.ErrorCode, relay.CodeMissingParam)
	}
}

func TestHandleDocSignResolvesKeyNames(t *testing.T) {
	rig := newLinkRig(t, false)
	rig.addAccount(t, "musap-1", "link-1")
	ctx := context.Background()

	if err := rig.store.Keys.Upsert(ctx, "musap-1", &storage.KeyDetails{KeyID: "key-1", KeyName: "auth"}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	go rig.respondToPending(t, "link-1", &coupling.SignatureCallbackReq{
		Signature: base64.StdEncoding.EncodeToString([]byte("sig")),
	})

	rec := postJSON(t, rig.service.HandleDocSign, &DocSignReq{
		LinkID: "link-1",
		DataChoice: []DocSignEntry{
			{Data: "ZHRicw==", KeyName: "auth"},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp SignResp
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Signature == "" {
		t.Error("expected a signature")
	}
}

func TestHandleGenerateKeyCollision(t *testing.T) {
	rig := newLinkRig(t, false)
	rig.addAccount(t, "musap-1", "link-1")
	ctx := context.Background()

	if err := rig.store.Keys.Upsert(ctx, "musap-1", &storage.KeyDetails{KeyID: "key-1", KeyName: "auth"}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	rec := postJSON(t, rig.service.HandleGenerateKey, &GenerateKeyReq{LinkID: "link-1", KeyName: "auth"})
	resp := decodeError(t, rec)
	if resp.ErrorCode != relay.CodeWrongParam {
		t.Errorf("errorcode = %d, want %d", resp.ErrorCode, relay.CodeWrongParam)
	}
}

func TestHandleGenerateKeySuccess(t *testing.T) {
	rig := newLinkRig(t, false)
	rig.addAccount(t, "musap-1", "link-1")

	go rig.respondToPending(t, "link-1", &coupling.GenerateKeyCallbackReq{
		KeyID:   "key-9",
		KeyName: "fresh",
	})

	rec := postJSON(t, rig.service.HandleGenerateKey, &GenerateKeyReq{LinkID: "link-1", KeyName: "fresh"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp GenerateKeyResp
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.KeyID != "key-9" {
		t.Errorf("keyid = %q, want key-9", resp.KeyID)
	}

	key, err := rig.store.Keys.FindByKeyName(context.Background(), "musap-1", "fresh")
	if err != nil {
		t.Fatalf("FindByKeyName() error = %v", err)
	}
	if key.KeyID != "key-9" {
		t.Errorf("stored keyid = %q, want key-9", key.KeyID)
	}
}

func TestHandleUpdateKey(t *testing.T) {
	rig := newLinkRig(t, false)
	rig.addAccount(t, "musap-1", "link-1")
	ctx := context.Background()

	if err := rig.store.Keys.Upsert(ctx, "musap-1", &storage.KeyDetails{KeyID: "key-1", KeyName: "old"}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	rec := postJSON(t, rig.service.HandleUpdateKey, &UpdateKeyReq{
		LinkID:  "link-1",
		KeyID:   "key-1",
		KeyName: "renamed",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	key, err := rig.store.Keys.FindByKeyID(ctx, "musap-1", "key-1")
	if err != nil {
		t.Fatalf("FindByKeyID() error = %v", err)
	}
	if key.KeyName != "renamed" {
		t.Errorf("key name = %q, want renamed", key.KeyName)
	}
}

func TestHandleUpdateKeyUnknownKey(t *testing.T) {
	rig := newLinkRig(t, false)
	rig.addAccount(t, "musap-1", "link-1")

	rec := postJSON(t, rig.service.HandleUpdateKey, &UpdateKeyReq{
		LinkID:  "link-1",
		KeyID:   "missing",
		KeyName: "renamed",
	})
	resp := decodeError(t, rec)
	if resp.ErrorCode != relay.CodeUnknownKey {
		t.Errorf("errorcode = %d, want %d", resp.ErrorCode, relay.CodeUnknownKey)
	}
}

func TestHandleListKeysDisabled(t *testing.T) {
	rig := newLinkRig(t, false)
	rig.addAccount(t, "musap-1", "link-1")

	rec := postJSON(t, rig.service.HandleListKeys, &ListKeysReq{LinkID: "link-1"})
	resp := decodeError(t, rec)
	if resp.ErrorCode != relay.CodeConfigError {
		t.Errorf("errorcode = %d, want %d", resp.ErrorCode, relay.CodeConfigError)
	}
}

func TestHandleListKeysEnabled(t *testing.T) {
	rig := newLinkRig(t, true)
	rig.addAccount(t, "musap-1", "link-1")
	ctx := context.Background()

	for _, key := range []storage.KeyDetails{
		{KeyID: "key-1", KeyName: "auth"},
		{KeyID: "key-2", KeyName: "sign"},
	} {
		if err := rig.store.Keys.Upsert(ctx, "musap-1", &key); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
	}

	rec := postJSON(t, rig.service.HandleListKeys, &ListKeysReq{LinkID: "link-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp ListKeysResp
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Keys) != 2 {
		t.Errorf("got %d keys, want 2", len(resp.Keys))
	}
}
