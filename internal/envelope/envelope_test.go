package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

var (
	testEncKey = []byte("0123456789abcdef")                 // 16 bytes
	testMacKey = []byte("0123456789abcdef0123456789abcdef") // 32 bytes
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	msg, err := NewRequest(TypeGetData, "", map[string]string{"nonce": "n-1"})
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	msg.MusapID = "musap-1"

	original := msg.Payload

	if err := msg.Encrypt(testEncKey); err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if !msg.IsEncrypted() {
		t.Fatal("message should be marked encrypted")
	}
	if msg.Payload == original {
		t.Fatal("ciphertext should differ from plaintext payload")
	}
	if msg.IV == "" {
		t.Fatal("Encrypt should have generated an IV")
	}

	if err := msg.Decrypt(testEncKey); err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if msg.IsEncrypted() {
		t.Fatal("message should no longer be marked encrypted")
	}
	if msg.Payload != original {
		t.Errorf("round-trip payload = %q, want %q", msg.Payload, original)
	}
}

func TestEncryptIsIdempotent(t *testing.T) {
	msg, err := NewRequest(TypeGetData, "trans-1", &BasePayload{Status: "ok"})
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	if err := msg.Encrypt(testEncKey); err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	ciphertext := msg.Payload

	// A second Encrypt must not double-encrypt.
	if err := msg.Encrypt(testEncKey); err != nil {
		t.Fatalf("second Encrypt() error = %v", err)
	}
	if msg.Payload != ciphertext {
		t.Error("second Encrypt changed the ciphertext")
	}
}

func TestCalculateMACDeterministic(t *testing.T) {
	msg, err := NewRequest(TypeSignature, "trans-1", &BasePayload{Status: "pending"})
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}

	mac1, err := msg.CalculateMAC(testMacKey)
	if err != nil {
		t.Fatalf("CalculateMAC() error = %v", err)
	}
	mac2, err := msg.CalculateMAC(testMacKey)
	if err != nil {
		t.Fatalf("CalculateMAC() error = %v", err)
	}
	if mac1 != mac2 {
		t.Errorf("MAC is not deterministic: %s != %s", mac1, mac2)
	}
	if len(mac1) != 64 {
		t.Errorf("MAC length = %d hex chars, want 64", len(mac1))
	}
}

func TestCalculateMACSubjectRules(t *testing.T) {
	tests := []struct {
		name    string
		transID string
		musapID string
		wantErr bool
	}{
		{"transid only", "trans-1", "", false},
		{"musapid only", "", "musap-1", false},
		{"both set", "trans-1", "musap-1", true},
		{"neither set", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := &Message{Type: TypeGetData, relayOriginated: true}
			msg.TransID = tt.transID
			msg.MusapID = tt.musapID
			if err := msg.SetPayload(&BasePayload{}); err != nil {
				t.Fatalf("SetPayload() error = %v", err)
			}

			_, err := msg.CalculateMAC(testMacKey)
			if (err != nil) != tt.wantErr {
				t.Errorf("CalculateMAC() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCalculateMACMobileOriginatedNeedsIV(t *testing.T) {
	body := []byte(`{"type":"getdata","musapid":"musap-1","payload":"e30="}`)
	msg, err := Parse(body)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	_, err = msg.CalculateMAC(testMacKey)
	if err == nil {
		t.Fatal("expected error for mobile-originated message without IV")
	}
	var envErr *EnvelopeError
	if !errors.As(err, &envErr) || envErr.Code() != ErrCodeFormat {
		t.Errorf("error = %v, want format error", err)
	}
}

func TestParseMarksEncryptedWhenIVPresent(t *testing.T) {
	tests := []struct {
		name          string
		body          string
		wantEncrypted bool
	}{
		{"with iv", `{"type":"getdata","musapid":"m","payload":"xx","iv":"aXY="}`, true},
		{"without iv", `{"type":"getdata","musapid":"m","payload":"e30="}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Parse([]byte(tt.body))
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if msg.IsEncrypted() != tt.wantEncrypted {
				t.Errorf("IsEncrypted() = %v, want %v", msg.IsEncrypted(), tt.wantEncrypted)
			}
			if msg.IsRelayOriginated() {
				t.Error("parsed message should be mobile-originated")
			}
		})
	}
}

func TestParseRejectsBadBody(t *testing.T) {
	if _, err := Parse(nil); err == nil {
		t.Error("expected error for empty body")
	}
	if _, err := Parse([]byte("{not json")); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestDecodePayloadRefusesEncrypted(t *testing.T) {
	msg, err := NewRequest(TypeGetData, "trans-1", &BasePayload{Status: "ok"})
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	if err := msg.Encrypt(testEncKey); err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	var out BasePayload
	if err := msg.DecodePayload(&out); err == nil {
		t.Error("DecodePayload should fail on an encrypted message")
	}
}

func TestNewErrorResponseChangesType(t *testing.T) {
	req := &Message{Type: TypeLinkAccount, MusapID: "musap-1"}
	resp, err := req.NewErrorResponse(&ErrorPayload{ErrorCode: "405", ErrorName: "coupling_error"})
	if err != nil {
		t.Fatalf("NewErrorResponse() error = %v", err)
	}
	if resp.Type != TypeError {
		t.Errorf("response type = %q, want %q", resp.Type, TypeError)
	}
	if resp.MusapID != "musap-1" {
		t.Error("response should echo the subject id")
	}

	var payload ErrorPayload
	if err := resp.DecodePayload(&payload); err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	if payload.ErrorCode != "405" {
		t.Errorf("errorcode = %q, want 405", payload.ErrorCode)
	}
}

func TestIsInternal(t *testing.T) {
	tests := []struct {
		msgType string
		want    bool
	}{
		{"enrollsrp6a", true},
		{"somedata_b", true},
		{"getdata", false},
		{"linkaccount", false},
		{"", false},
	}

	for _, tt := range tests {
		msg := &Message{Type: tt.msgType}
		if got := msg.IsInternal(); got != tt.want {
			t.Errorf("IsInternal(%q) = %v, want %v", tt.msgType, got, tt.want)
		}
	}
}

func TestPkcs7RoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 15, 16, 17, 32} {
		data := bytes.Repeat([]byte{0xAB}, n)
		padded := pkcs7Pad(data, 16)
		if len(padded)%16 != 0 {
			t.Errorf("padded length %d not a multiple of block size", len(padded))
		}
		unpadded, err := pkcs7Unpad(padded, 16)
		if err != nil {
			t.Fatalf("pkcs7Unpad() error = %v for input length %d", err, n)
		}
		if !bytes.Equal(unpadded, data) {
			t.Errorf("round trip failed for input length %d", n)
		}
	}
}

func TestWireShape(t *testing.T) {
	msg, err := NewRequest(TypeSignature, "trans-9", &BasePayload{Status: "pending"})
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal error = %v", err)
	}

	var wire map[string]any
	if err := json.Unmarshal(data, &wire); err != nil {
		t.Fatalf("unmarshal error = %v", err)
	}
	if wire["type"] != TypeSignature || wire["transid"] != "trans-9" {
		t.Errorf("unexpected wire fields: %v", wire)
	}
	if _, present := wire["mac"]; present {
		t.Error("unset mac should be omitted from the wire")
	}
}
