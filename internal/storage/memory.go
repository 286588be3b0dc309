package storage

// memory.go provides mutex-guarded in-memory implementations of the storage
// interfaces, used by unit tests and by local development without Postgres.

import (
	"context"
	"slices"
	"sync"
	"time"
)

// NewMemoryStore returns a Store backed by in-memory maps.
func NewMemoryStore() *Store {
	return &Store{
		Accounts:     &memoryAccounts{accounts: make(map[string]*Account)},
		Transactions: &memoryTransactions{txns: make(map[string]*PendingTransaction)},
		Couplings:    &memoryCouplings{codes: make(map[string]couplingRow)},
		Keys:         &memoryKeys{keys: make(map[string][]*KeyDetails)},
	}
}

type memoryAccounts struct {
	mu       sync.Mutex
	accounts map[string]*Account
}

func (s *memoryAccounts) InsertAccount(_ context.Context, account *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[account.MusapID] = cloneAccount(account)
	return nil
}

func (s *memoryAccounts) UpdateTokens(_ context.Context, musapID, fcmToken, apnsToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[musapID]
	if !ok {
		return ErrNotFound
	}
	account.FCMToken = fcmToken
	account.APNSToken = apnsToken
	return nil
}

func (s *memoryAccounts) FindByMusapID(_ context.Context, musapID string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[musapID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAccount(account), nil
}

func (s *memoryAccounts) FindByLinkID(_ context.Context, linkID string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, account := range s.accounts {
		if slices.Contains(account.LinkIDs, linkID) {
			return cloneAccount(account), nil
		}
	}
	return nil, ErrNotFound
}

func (s *memoryAccounts) AddLinkID(_ context.Context, musapID, linkID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[musapID]
	if !ok {
		return ErrNotFound
	}
	if !slices.Contains(account.LinkIDs, linkID) {
		account.LinkIDs = append(account.LinkIDs, linkID)
	}
	return nil
}

func cloneAccount(a *Account) *Account {
	clone := *a
	clone.LinkIDs = slices.Clone(a.LinkIDs)
	clone.MACKey = slices.Clone(a.MACKey)
	clone.EncKey = slices.Clone(a.EncKey)
	return &clone
}

type memoryTransactions struct {
	mu   sync.Mutex
	txns map[string]*PendingTransaction
}

func (s *memoryTransactions) Insert(_ context.Context, txn *PendingTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *txn
	s.txns[txn.TransID] = &clone
	return nil
}

func (s *memoryTransactions) FindNewestPending(_ context.Context, linkID string, cutoff time.Time) (*PendingTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var newest *PendingTransaction
	for _, txn := range s.txns {
		if txn.LinkID != linkID || txn.Created.Before(cutoff) {
			continue
		}
		if newest == nil || txn.Created.After(newest.Created) {
			newest = txn
		}
	}
	if newest == nil {
		return nil, ErrNotFound
	}
	clone := *newest
	return &clone, nil
}

func (s *memoryTransactions) Delete(_ context.Context, transID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.txns, transID)
	return nil
}

func (s *memoryTransactions) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for id, txn := range s.txns {
		if txn.Created.Before(cutoff) {
			delete(s.txns, id)
			removed++
		}
	}
	return removed, nil
}

func (s *memoryTransactions) Count(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.txns)), nil
}

type couplingRow struct {
	linkID  string
	created time.Time
}

type memoryCouplings struct {
	mu    sync.Mutex
	codes map[string]couplingRow
}

func (s *memoryCouplings) Insert(_ context.Context, code, linkID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[code] = couplingRow{linkID: linkID, created: time.Now()}
	return nil
}

func (s *memoryCouplings) FindLinkID(_ context.Context, code string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.codes[code]
	if !ok {
		return "", ErrNotFound
	}
	return row.linkID, nil
}

func (s *memoryCouplings) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for code, row := range s.codes {
		if row.created.Before(cutoff) {
			delete(s.codes, code)
			removed++
		}
	}
	return removed, nil
}

type memoryKeys struct {
	mu   sync.Mutex
	keys map[string][]*KeyDetails
}

func (s *memoryKeys) Upsert(_ context.Context, musapID string, key *KeyDetails) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.keys[musapID] {
		if existing.KeyID == key.KeyID {
			clone := *key
			s.keys[musapID][i] = &clone
			return nil
		}
	}
	clone := *key
	s.keys[musapID] = append(s.keys[musapID], &clone)
	return nil
}

func (s *memoryKeys) FindByKeyName(_ context.Context, musapID, keyName string) (*KeyDetails, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range s.keys[musapID] {
		if key.KeyName == keyName {
			clone := *key
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memoryKeys) FindByKeyID(_ context.Context, musapID, keyID string) (*KeyDetails, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range s.keys[musapID] {
		if key.KeyID == keyID {
			clone := *key
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memoryKeys) List(_ context.Context, musapID string) ([]*KeyDetails, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]*KeyDetails, 0, len(s.keys[musapID]))
	for _, key := range s.keys[musapID] {
		clone := *key
		keys = append(keys, &clone)
	}
	return keys, nil
}
