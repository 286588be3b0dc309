package extsig

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRESTClientSign(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req restRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if req.MSISDN != "+358401234567" {
			t.Errorf("msisdn = %q", req.MSISDN)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Authorization = %q", auth)
		}

		json.NewEncoder(w).Encode(&restResponse{
			Signature: base64.StdEncoding.EncodeToString([]byte("sig-bytes")),
			Status:    "signed",
		})
	}))
	defer srv.Close()

	c := NewRESTClient(srv.URL, "test-key", time.Second)
	resp, err := c.Sign(context.Background(), &Request{
		MSISDN:      "+358401234567",
		DisplayText: "Sign the agreement",
		DTBS:        []byte("data to be signed"),
	})
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if string(resp.Signature) != "sig-bytes" {
		t.Errorf("signature = %q, want sig-bytes", resp.Signature)
	}
	if resp.Status != "signed" {
		t.Errorf("status = %q, want signed", resp.Status)
	}
}

func TestRESTClientRejectsBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewRESTClient(srv.URL, "", time.Second)
	if _, err := c.Sign(context.Background(), &Request{MSISDN: "+358401234567"}); err == nil {
		t.Error("expected error for backend failure")
	}
}

type fakeSigner struct{ id string }

func (f *fakeSigner) Sign(context.Context, *Request) (*Response, error) {
	return nil, fmt.Errorf("fake %s", f.id)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register("client-a", &fakeSigner{id: "a"})

	if _, err := r.Get("client-a"); err != nil {
		t.Errorf("Get(client-a) error = %v", err)
	}
	if _, err := r.Get("client-b"); err == nil {
		t.Error("Get(client-b) should fail for unregistered client")
	}
}
