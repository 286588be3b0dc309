package storage

// postgres.go implements the storage interfaces on a pgx connection pool.

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPostgresStore returns a Store backed by the given connection pool.
func NewPostgresStore(pool *pgxpool.Pool) *Store {
	return &Store{
		Accounts:     &pgAccounts{pool: pool},
		Transactions: &pgTransactions{pool: pool},
		Couplings:    &pgCouplings{pool: pool},
		Keys:         &pgKeys{pool: pool},
	}
}

type pgAccounts struct {
	pool *pgxpool.Pool
}

func (s *pgAccounts) InsertAccount(ctx context.Context, account *Account) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO musap_accounts (musapid, fcm_token, apns_token, mac_key, enc_key, created_at)
		VALUES ($1, $2, $3, $4, $5, now())`,
		account.MusapID, account.FCMToken, account.APNSToken, account.MACKey, account.EncKey)
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}

	for _, linkID := range account.LinkIDs {
		_, err = tx.Exec(ctx, `
			INSERT INTO link_ids (musapid, linkid)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING`,
			account.MusapID, linkID)
		if err != nil {
			return fmt.Errorf("failed to insert link id: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (s *pgAccounts) UpdateTokens(ctx context.Context, musapID, fcmToken, apnsToken string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE musap_accounts
		SET fcm_token = $2, apns_token = $3
		WHERE musapid = $1`,
		musapID, fcmToken, apnsToken)
	if err != nil {
		return fmt.Errorf("failed to update tokens: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgAccounts) FindByMusapID(ctx context.Context, musapID string) (*Account, error) {
	account := &Account{}
	err := s.pool.QueryRow(ctx, `
		SELECT musapid, fcm_token, apns_token, mac_key, enc_key
		FROM musap_accounts
		WHERE musapid = $1`,
		musapID).Scan(&account.MusapID, &account.FCMToken, &account.APNSToken, &account.MACKey, &account.EncKey)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find account: %w", err)
	}

	account.LinkIDs, err = s.linkIDs(ctx, musapID)
	if err != nil {
		return nil, err
	}
	return account, nil
}

func (s *pgAccounts) FindByLinkID(ctx context.Context, linkID string) (*Account, error) {
	var musapID string
	err := s.pool.QueryRow(ctx, `
		SELECT musapid
		FROM link_ids
		WHERE linkid = $1`,
		linkID).Scan(&musapID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to resolve link id: %w", err)
	}
	return s.FindByMusapID(ctx, musapID)
}

func (s *pgAccounts) AddLinkID(ctx context.Context, musapID, linkID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO link_ids (musapid, linkid)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`,
		musapID, linkID)
	if err != nil {
		return fmt.Errorf("failed to add link id: %w", err)
	}
	return nil
}

func (s *pgAccounts) linkIDs(ctx context.Context, musapID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT linkid
		FROM link_ids
		WHERE musapid = $1
		ORDER BY linkid`,
		musapID)
	if err != nil {
		return nil, fmt.Errorf("failed to list link ids: %w", err)
	}
	defer rows.Close()

	var linkIDs []string
	for rows.Next() {
		var linkID string
		if err := rows.Scan(&linkID); err != nil {
			return nil, fmt.Errorf("failed to scan link id: %w", err)
		}
		linkIDs = append(linkIDs, linkID)
	}
	return linkIDs, rows.Err()
}

type pgTransactions struct {
	pool *pgxpool.Pool
}

func (s *pgTransactions) Insert(ctx context.Context, txn *PendingTransaction) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO transactions (transid, linkid, request, created_at)
		VALUES ($1, $2, $3, $4)`,
		txn.TransID, txn.LinkID, txn.Request, txn.Created)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func (s *pgTransactions) FindNewestPending(ctx context.Context, linkID string, cutoff time.Time) (*PendingTransaction, error) {
	txn := &PendingTransaction{}
	err := s.pool.QueryRow(ctx, `
		SELECT transid, linkid, request, created_at
		FROM transactions
		WHERE linkid = $1 AND created_at >= $2
		ORDER BY created_at DESC
		LIMIT 1`,
		linkID, cutoff).Scan(&txn.TransID, &txn.LinkID, &txn.Request, &txn.Created)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find pending transaction: %w", err)
	}
	return txn, nil
}

func (s *pgTransactions) Delete(ctx context.Context, transID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM transactions WHERE transid = $1`, transID)
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	return nil
}

func (s *pgTransactions) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM transactions WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep transactions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *pgTransactions) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM transactions`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}

type pgCouplings struct {
	pool *pgxpool.Pool
}

func (s *pgCouplings) Insert(ctx context.Context, code, linkID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO coupling_codes (code, linkid, created_at)
		VALUES ($1, $2, now())`,
		code, linkID)
	if err != nil {
		return fmt.Errorf("failed to insert coupling code: %w", err)
	}
	return nil
}

func (s *pgCouplings) FindLinkID(ctx context.Context, code string) (string, error) {
	var linkID string
	err := s.pool.QueryRow(ctx, `
		SELECT linkid
		FROM coupling_codes
		WHERE code = $1`,
		code).Scan(&linkID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to find coupling code: %w", err)
	}
	return linkID, nil
}

func (s *pgCouplings) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM coupling_codes WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep coupling codes: %w", err)
	}
	return tag.RowsAffected(), nil
}

type pgKeys struct {
	pool *pgxpool.Pool
}

func (s *pgKeys) Upsert(ctx context.Context, musapID string, key *KeyDetails) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO key_details (musapid, keyid, keyname, certificate, public_key, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (musapid, keyid) DO UPDATE
		SET keyname = EXCLUDED.keyname,
		    certificate = EXCLUDED.certificate,
		    public_key = EXCLUDED.public_key`,
		musapID, key.KeyID, key.KeyName, key.Certificate, key.PublicKey)
	if err != nil {
		return fmt.Errorf("failed to upsert key details: %w", err)
	}
	return nil
}

func (s *pgKeys) FindByKeyName(ctx context.Context, musapID, keyName string) (*KeyDetails, error) {
	return s.findKey(ctx, `
		SELECT keyid, keyname, certificate, public_key
		FROM key_details
		WHERE musapid = $1 AND keyname = $2`,
		musapID, keyName)
}

func (s *pgKeys) FindByKeyID(ctx context.Context, musapID, keyID string) (*KeyDetails, error) {
	return s.findKey(ctx, `
		SELECT keyid, keyname, certificate, public_key
		FROM key_details
		WHERE musapid = $1 AND keyid = $2`,
		musapID, keyID)
}

func (s *pgKeys) findKey(ctx context.Context, query string, args ...any) (*KeyDetails, error) {
	key := &KeyDetails{}
	err := s.pool.QueryRow(ctx, query, args...).Scan(&key.KeyID, &key.KeyName, &key.Certificate, &key.PublicKey)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find key details: %w", err)
	}
	return key, nil
}

func (s *pgKeys) List(ctx context.Context, musapID string) ([]*KeyDetails, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT keyid, keyname, certificate, public_key
		FROM key_details
		WHERE musapid = $1
		ORDER BY keyname`,
		musapID)
	if err != nil {
		return nil, fmt.Errorf("failed to list key details: %w", err)
	}
	defer rows.Close()

	var keys []*KeyDetails
	for rows.Next() {
		key := &KeyDetails{}
		if err := rows.Scan(&key.KeyID, &key.KeyName, &key.Certificate, &key.PublicKey); err != nil {
			return nil, fmt.Errorf("failed to scan key details: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
