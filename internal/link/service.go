// Package link implements the Link API: the relying-party surface for
// coupling accounts and requesting signatures through the relay.
package link

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/openmobilesign/linkrelay/internal/correlator"
	"github.com/openmobilesign/linkrelay/internal/coupling"
	"github.com/openmobilesign/linkrelay/internal/couplingcode"
	"github.com/openmobilesign/linkrelay/internal/envelope"
	"github.com/openmobilesign/linkrelay/internal/push"
	"github.com/openmobilesign/linkrelay/internal/relay"
	"github.com/openmobilesign/linkrelay/internal/storage"
)

const (
	// outerTimeout bounds how long an API handler holds its HTTP request
	// open waiting for the mobile response.
	outerTimeout = 120 * time.Second

	// innerTimeout bounds the pooled wait on the callback handle. It is
	// deliberately longer than outerTimeout: the slot outlives the HTTP
	// request so a late callback still lands in the correlator.
	innerTimeout = correlator.DefaultAwaitTimeout
)

// Service implements the Link API operations.
type Service struct {
	store      *storage.Store
	correlator *correlator.Correlator
	codes      *couplingcode.Generator
	notifier   push.Notifier
	validate   *validator.Validate

	// pool is the bounded worker pool shared with external signature
	// dispatches.
	pool chan struct{}

	listKeysEnabled bool

	outer time.Duration
	inner time.Duration
}

// NewService wires a Service from its collaborators.
func NewService(
	store *storage.Store,
	corr *correlator.Correlator,
	codes *couplingcode.Generator,
	notifier push.Notifier,
	pool chan struct{},
	listKeysEnabled bool,
) *Service {
	return &Service{
		store:           store,
		correlator:      corr,
		codes:           codes,
		notifier:        notifier,
		validate:        validator.New(),
		pool:            pool,
		listKeysEnabled: listKeysEnabled,
		outer:           outerTimeout,
		inner:           innerTimeout,
	}
}

// SetTimeouts overrides the wait timeouts. Tests only.
func (s *Service) SetTimeouts(outer, inner time.Duration) {
	s.outer = outer
	s.inner = inner
}

// account resolves the account behind a linkid.
func (s *Service) account(ctx context.Context, linkID string) (*storage.Account, error) {
	account, err := s.store.Accounts.FindByLinkID(ctx, linkID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, relay.NewErrorf(relay.CodeUnknownUser, "no account linked to %s", linkID)
		}
		return nil, relay.WrapError(relay.CodeInternalError, err, "failed to resolve linkid")
	}
	return account, nil
}

// resolveKeyID maps a keyname to its keyid for the account.
func (s *Service) resolveKeyID(ctx context.Context, musapID, keyName string) (string, error) {
	key, err := s.store.Keys.FindByKeyName(ctx, musapID, keyName)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", relay.NewErrorf(relay.CodeUnknownKey, "no key named %s", keyName)
		}
		return "", relay.WrapError(relay.CodeInternalError, err, "failed to resolve key name")
	}
	return key.KeyID, nil
}

type awaitResult struct {
	msg *envelope.Message
	err error
}

// dispatchAndAwait stores the request for the app to poll, wakes the app up
// and waits for the correlated response.
//
// The wait runs on a pooled worker with the longer inner timeout while the
// HTTP handler observes the shorter outer one, so a response arriving after
// the relying party gave up still completes the handle.
func (s *Service) dispatchAndAwait(ctx context.Context, account *storage.Account, linkID string, msg *envelope.Message) (*envelope.Message, error) {
	handle, err := s.correlator.StoreRequest(ctx, linkID, msg)
	if err != nil {
		return nil, err
	}

	push.NotifyBestEffort(ctx, s.notifier, account, "Signature request waiting")

	resultCh := make(chan awaitResult, 1)
	go func() {
		s.pool <- struct{}{}
		defer func() { <-s.pool }()

		resp, err := handle.Await(context.Background(), s.inner)
		s.correlator.DeleteTransaction(context.Background(), msg.TransID)
		resultCh <- awaitResult{msg: resp, err: err}
	}()

	outer := time.NewTimer(s.outer)
	defer outer.Stop()

	select {
	case result := <-resultCh:
		return result.msg, result.err
	case <-outer.C:
		return nil, relay.NewError(relay.CodeRequestTimeout, "timed out waiting for mobile response")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// upsertKeyFromCallback records key details reported by a mobile callback.
func (s *Service) upsertKeyFromCallback(ctx context.Context, musapID string, cb *coupling.SignatureCallbackReq) {
	if cb.KeyID == "" {
		return
	}
	_ = s.store.Keys.Upsert(ctx, musapID, &storage.KeyDetails{
		KeyID:       cb.KeyID,
		KeyName:     cb.KeyName,
		Certificate: []byte(cb.Certificate),
		PublicKey:   []byte(cb.PublicKey),
	})
}
