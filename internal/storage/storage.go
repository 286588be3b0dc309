// Package storage defines the persistence interfaces used by the relay and
// provides Postgres and in-memory implementations.
//
// The relay accesses durable state only through these interfaces: accounts
// and their transport keys, linkid bindings, key details, coupling codes and
// pending transactions.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Account is a single mobile-credential account known to the relay.
type Account struct {
	MusapID   string
	LinkIDs   []string
	FCMToken  string
	APNSToken string

	// Transport keys, set once at enrollment. MACKey is 32 bytes,
	// EncKey 16; both nil when the account enrolled without transport
	// encryption.
	MACKey []byte
	EncKey []byte
}

// HasTransportKeys reports whether the account enrolled with transport
// encryption.
func (a *Account) HasTransportKeys() bool {
	return len(a.MACKey) > 0 && len(a.EncKey) > 0
}

// KeyDetails describes one key held by a mobile credential app.
type KeyDetails struct {
	KeyID       string
	KeyName     string
	Certificate []byte
	PublicKey   []byte
}

// PendingTransaction is a stored relying-party request awaiting its mobile
// response.
type PendingTransaction struct {
	TransID string
	LinkID  string
	Request []byte
	Created time.Time
}

// AccountStore persists accounts, their linkid bindings and transport keys.
type AccountStore interface {
	InsertAccount(ctx context.Context, account *Account) error
	UpdateTokens(ctx context.Context, musapID, fcmToken, apnsToken string) error
	FindByMusapID(ctx context.Context, musapID string) (*Account, error)
	FindByLinkID(ctx context.Context, linkID string) (*Account, error)
	AddLinkID(ctx context.Context, musapID, linkID string) error
}

// TransactionStore persists pending transactions.
type TransactionStore interface {
	Insert(ctx context.Context, txn *PendingTransaction) error

	// FindNewestPending returns the most recent transaction for linkID
	// created after cutoff, or ErrNotFound.
	FindNewestPending(ctx context.Context, linkID string, cutoff time.Time) (*PendingTransaction, error)

	Delete(ctx context.Context, transID string) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	Count(ctx context.Context) (int64, error)
}

// CouplingStore persists coupling codes issued by the Link API.
type CouplingStore interface {
	Insert(ctx context.Context, code, linkID string) error

	// FindLinkID returns the linkid bound to code, or ErrNotFound.
	FindLinkID(ctx context.Context, code string) (string, error)

	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// KeyStore persists key details per account.
type KeyStore interface {
	Upsert(ctx context.Context, musapID string, key *KeyDetails) error
	FindByKeyName(ctx context.Context, musapID, keyName string) (*KeyDetails, error)
	FindByKeyID(ctx context.Context, musapID, keyID string) (*KeyDetails, error)
	List(ctx context.Context, musapID string) ([]*KeyDetails, error)
}

// Store bundles the relay's persistence interfaces.
type Store struct {
	Accounts     AccountStore
	Transactions TransactionStore
	Couplings    CouplingStore
	Keys         KeyStore
}
