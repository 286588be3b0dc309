// Package transport implements the transport security layer of the Coupling
// API: per-account key derivation, MAC verification, payload encryption and
// the nonce ledger that backs the replay defense.
package transport

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/openmobilesign/linkrelay/internal/envelope"
	"github.com/openmobilesign/linkrelay/internal/expiry"
	"github.com/openmobilesign/linkrelay/internal/storage"
)

const (
	macKeySize = 32
	encKeySize = 16

	// keyCacheTTL bounds how long resolved transport keys stay in memory
	// before the next use reloads them from storage.
	keyCacheTTL = 10 * time.Minute

	// nonceTTL is how long a seen nonce is remembered. A message timestamp
	// older than this window is rejected outright, so remembering nonces
	// longer serves no purpose.
	nonceTTL = 60 * time.Minute
)

// Keys holds one account's transport key pair.
type Keys struct {
	MAC []byte
	Enc []byte
}

// DeriveKeys expands shared secret material into a transport key pair using
// HKDF-SHA256: the first 32 bytes become the MAC key, the next 16 the
// encryption key.
func DeriveKeys(secret []byte) (*Keys, error) {
	if len(secret) == 0 {
		return nil, NewError(ErrCodeMissingKeys, "missing key material")
	}
	r := hkdf.New(sha256.New, secret, nil, nil)
	material := make([]byte, macKeySize+encKeySize)
	if _, err := io.ReadFull(r, material); err != nil {
		return nil, WrapError(ErrCodeMissingKeys, err, "key derivation failed")
	}
	return &Keys{
		MAC: material[:macKeySize],
		Enc: material[macKeySize : macKeySize+encKeySize],
	}, nil
}

// Security verifies, decrypts and encrypts Coupling API messages for
// enrolled accounts. Resolved keys are cached briefly; seen nonces are
// remembered for the replay window.
type Security struct {
	accounts storage.AccountStore

	mu       sync.Mutex
	keyCache *expiry.Cache[string, *Keys]
	nonces   *expiry.Set[string]

	now func() time.Time
}

// NewSecurity creates a Security service reading transport keys through
// accounts.
func NewSecurity(accounts storage.AccountStore) *Security {
	return &Security{
		accounts: accounts,
		keyCache: expiry.NewCache[string, *Keys](keyCacheTTL),
		nonces:   expiry.NewSet[string](nonceTTL),
		now:      time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (s *Security) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	s.keyCache.SetClock(now)
	s.nonces.SetClock(now)
}

// ResolveKeys returns the transport keys for the account identified by
// musapID, consulting the cache before storage.
func (s *Security) ResolveKeys(ctx context.Context, musapID string) (*Keys, error) {
	s.mu.Lock()
	if keys, ok := s.keyCache.Get(musapID); ok {
		s.mu.Unlock()
		return keys, nil
	}
	s.mu.Unlock()

	account, err := s.accounts.FindByMusapID(ctx, musapID)
	if err != nil {
		return nil, WrapError(ErrCodeUnknownAccount, err, fmt.Sprintf("no account for musapid %s", musapID))
	}
	if !account.HasTransportKeys() {
		return nil, NewError(ErrCodeMissingKeys, "account has no transport keys")
	}
	keys := &Keys{MAC: account.MACKey, Enc: account.EncKey}

	s.mu.Lock()
	s.keyCache.Put(musapID, keys)
	s.mu.Unlock()
	return keys, nil
}

// CacheKeys stores freshly derived keys, typically right after enrollment so
// the account's first encrypted message does not need a storage round trip.
func (s *Security) CacheKeys(musapID string, keys *Keys) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keyCache.Put(musapID, keys)
}

// InvalidateKeys drops any cached keys for the account.
func (s *Security) InvalidateKeys(musapID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keyCache.Remove(musapID)
}

// Decrypt authenticates and decrypts an inbound message in place.
//
// Decrypt-exempt message types pass through with their iv and mac cleared.
// For all other types the MAC is verified in constant time before the
// payload is decrypted.
func (s *Security) Decrypt(msg *envelope.Message, keys *Keys) error {
	if msg.IsInternal() {
		msg.MarkPlaintext()
		return nil
	}
	if !msg.IsEncrypted() {
		return nil
	}
	if keys == nil {
		return NewError(ErrCodeMissingKeys, "no transport keys for encrypted message")
	}

	expected, err := msg.CalculateMAC(keys.MAC)
	if err != nil {
		return err
	}
	if !macEqual(expected, msg.MAC) {
		return NewError(ErrCodeMACMismatch, "message MAC verification failed")
	}

	if err := msg.Decrypt(keys.Enc); err != nil {
		return err
	}
	msg.IV = ""
	msg.MAC = ""
	return nil
}

// Encrypt encrypts and MACs an outbound message in place. Decrypt-exempt
// types and already-encrypted messages are left alone.
func (s *Security) Encrypt(msg *envelope.Message, keys *Keys) error {
	if msg.IsInternal() || msg.IsEncrypted() {
		return nil
	}
	if keys == nil {
		return NewError(ErrCodeMissingKeys, "no transport keys for outbound message")
	}

	if err := msg.Encrypt(keys.Enc); err != nil {
		return err
	}
	mac, err := msg.CalculateMAC(keys.MAC)
	if err != nil {
		return err
	}
	msg.MAC = mac
	return nil
}

// ValidateNonce enforces the replay defense on a decrypted payload. A
// message carrying no base payload or no nonce passes trivially; a carried
// nonce must be fresh and its timestamp no older than the acceptance window.
//
// The nonce is recorded even when the timestamp check fails, so a stale
// message cannot be retried inside the window.
func (s *Security) ValidateNonce(payload *envelope.BasePayload) error {
	if payload == nil || payload.Nonce == "" {
		return nil
	}

	s.mu.Lock()
	seen := s.nonces.Contains(payload.Nonce)
	s.nonces.Add(payload.Nonce)
	now := s.now()
	s.mu.Unlock()

	if seen {
		return NewError(ErrCodeReplay, "message nonce was already used")
	}

	ts, ok := payload.ParsedTimestamp()
	if !ok {
		return NewError(ErrCodeReplay, "message payload has no valid timestamp")
	}
	if ts.Before(now.Add(-nonceTTL)) {
		return NewError(ErrCodeReplay, "message timestamp is older than the acceptance window")
	}
	return nil
}

// macEqual compares two hex-encoded MACs in constant time.
func macEqual(a, b string) bool {
	ab, err := hex.DecodeString(a)
	if err != nil {
		return false
	}
	bb, err := hex.DecodeString(b)
	if err != nil {
		return false
	}
	return hmac.Equal(ab, bb)
}
