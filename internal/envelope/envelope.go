// Package envelope implements the Coupling API wire message and its
// cryptographic primitives.
//
// A message consists of a type, a base64 payload, exactly one subject
// identifier (transid or musapid), and an optional MAC + IV pair. The payload
// is always base64 relative to its current state: base64 of JSON when the
// message is plaintext, base64 of ciphertext when it is encrypted.
package envelope

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"
)

// Message types accepted on the Coupling API endpoint. TypeSignature is
// outbound only: it is the request shape the relay hands to a polling mobile
// client.
const (
	TypeEnrollData          = "enrolldata"
	TypeUpdateData          = "updatedata"
	TypeLinkAccount         = "linkaccount"
	TypeGetData             = "getdata"
	TypeError               = "error"
	TypeExternalSignature   = "externalsignature"
	TypeSignature           = "signature"
	TypeSignatureCallback   = "signaturecallback"
	TypeGenerateKey         = "generatekey"
	TypeGenerateKeyCallback = "generatekeycallback"
)

// Message is a Coupling API wire message.
type Message struct {
	Type    string `json:"type"`
	Payload string `json:"payload,omitempty"`
	MusapID string `json:"musapid,omitempty"`
	TransID string `json:"transid,omitempty"`
	MAC     string `json:"mac,omitempty"`
	IV      string `json:"iv,omitempty"`

	// relayOriginated distinguishes messages built by the relay from
	// messages parsed off the wire. A relay-originated message may generate
	// its own IV; a mobile-originated one must carry its own.
	relayOriginated bool

	// encrypted tracks whether Payload currently holds ciphertext.
	encrypted bool
}

// BasePayload holds the fields common to every mobile-originated payload.
// Nonce and Timestamp back the replay defense in internal/transport.
type BasePayload struct {
	OS        string `json:"os,omitempty"`
	OSVersion string `json:"osversion,omitempty"`
	Version   string `json:"version,omitempty"`
	Model     string `json:"model,omitempty"`
	Status    string `json:"status,omitempty"`
	Nonce     string `json:"nonce,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// ParsedTimestamp returns the payload timestamp as a time, or false when the
// field is absent or not RFC 3339.
func (p *BasePayload) ParsedTimestamp() (time.Time, bool) {
	if p.Timestamp == "" {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, p.Timestamp)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// ErrorPayload is the payload of a type "error" message.
type ErrorPayload struct {
	ErrorCode string `json:"errorcode"`
	ErrorName string `json:"errorname,omitempty"`
}

// Parse decodes a mobile-originated message from a JSON body. A message with
// an IV is assumed to be encrypted.
func Parse(body []byte) (*Message, error) {
	if len(body) == 0 {
		return nil, NewFormatError("missing request body")
	}
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, WrapFormatError(err, "invalid request body")
	}
	msg.encrypted = msg.IV != ""
	msg.relayOriginated = false
	return &msg, nil
}

// NewRequest creates a relay-originated message with the given payload.
func NewRequest(msgType, transID string, payload any) (*Message, error) {
	msg := &Message{
		Type:            msgType,
		TransID:         transID,
		relayOriginated: true,
	}
	if payload != nil {
		if err := msg.SetPayload(payload); err != nil {
			return nil, err
		}
	}
	return msg, nil
}

// NewResponse creates a relay-originated response to this message, echoing
// its type and subject identifiers.
func (m *Message) NewResponse(payload any) (*Message, error) {
	resp := &Message{
		Type:            m.Type,
		TransID:         m.TransID,
		MusapID:         m.MusapID,
		relayOriginated: true,
	}
	if payload != nil {
		if err := resp.SetPayload(payload); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// NewSuccessResponse creates a response with a bare {"status":"success"}
// payload.
func (m *Message) NewSuccessResponse() (*Message, error) {
	return m.NewResponse(&BasePayload{Status: "success"})
}

// NewErrorResponse creates a response of type "error" carrying the given
// error payload.
func (m *Message) NewErrorResponse(payload *ErrorPayload) (*Message, error) {
	resp, err := m.NewResponse(payload)
	if err != nil {
		return nil, err
	}
	resp.Type = TypeError
	return resp, nil
}

// SetPayload serializes v to JSON and stores it base64-encoded.
func (m *Message) SetPayload(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return WrapFormatError(err, "failed to serialize payload")
	}
	m.Payload = base64.StdEncoding.EncodeToString(data)
	m.encrypted = false
	return nil
}

// MarkPlaintext clears the transport fields and marks the payload as
// plaintext. Decrypt-exempt messages arriving with gratuitous transport
// fields are normalized through this before handling.
func (m *Message) MarkPlaintext() {
	m.IV = ""
	m.MAC = ""
	m.encrypted = false
}

// PayloadBytes returns the base64-decoded payload. For a plaintext message
// this is the JSON document; for an encrypted one it is ciphertext.
func (m *Message) PayloadBytes() ([]byte, error) {
	if m.Payload == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(m.Payload)
	if err != nil {
		return nil, WrapFormatError(err, "payload is not valid base64")
	}
	return data, nil
}

// DecodePayload unmarshals the plaintext payload into v. It fails on an
// encrypted message: the caller must decrypt first.
func (m *Message) DecodePayload(v any) error {
	if m.encrypted {
		return NewFormatError("cannot decode an encrypted payload")
	}
	data, err := m.PayloadBytes()
	if err != nil {
		return err
	}
	if data == nil {
		return NewFormatError("message has no payload")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return WrapFormatError(err, "failed to parse payload")
	}
	return nil
}

// BasePayload decodes the common payload fields, returning nil when the
// message has no decodable payload.
func (m *Message) BasePayload() *BasePayload {
	if m.encrypted || m.Payload == "" {
		return nil
	}
	var base BasePayload
	if err := m.DecodePayload(&base); err != nil {
		return nil
	}
	return &base
}

// SubjectID returns the message's subject identifier after verifying that
// exactly one of transid and musapid is set.
func (m *Message) SubjectID() (string, error) {
	if m.TransID == "" && m.MusapID == "" {
		return "", NewFormatError("message is missing both transid and musapid")
	}
	if m.TransID != "" && m.MusapID != "" {
		return "", NewFormatError("message has both transid and musapid")
	}
	if m.TransID != "" {
		return m.TransID, nil
	}
	return m.MusapID, nil
}

// IsEncrypted reports whether the payload currently holds ciphertext.
func (m *Message) IsEncrypted() bool {
	return m.encrypted
}

// IsRelayOriginated reports whether this message was constructed by the
// relay rather than parsed off the wire.
func (m *Message) IsRelayOriginated() bool {
	return m.relayOriginated
}

// SetRelayOriginated overrides the origin flag. Normally set by the
// construction functions; tests use this to simulate inbound traffic.
func (m *Message) SetRelayOriginated(relayOriginated bool) {
	m.relayOriginated = relayOriginated
}

// IsError reports whether the message type is "error".
func (m *Message) IsError() bool {
	return m.Type == TypeError
}

// NormalizedType returns the lowercased message type.
func (m *Message) NormalizedType() string {
	return strings.ToLower(m.Type)
}

// IsInternal reports whether the message is an internal operation that is
// never transport-encrypted: reserved suffix types and the SRP enrollment
// bootstrap.
func (m *Message) IsInternal() bool {
	t := m.NormalizedType()
	if t == "" {
		return false
	}
	if strings.HasSuffix(t, "_b") || strings.HasSuffix(t, "b") {
		return true
	}
	return t == "enrollsrp6a"
}
