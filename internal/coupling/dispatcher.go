// Package coupling implements the Coupling API: the single endpoint the
// mobile credential app talks to. Every operation arrives as an envelope
// message whose type selects a handler from the dispatch table.
package coupling

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/openmobilesign/linkrelay/internal/correlator"
	"github.com/openmobilesign/linkrelay/internal/envelope"
	"github.com/openmobilesign/linkrelay/internal/expiry"
	"github.com/openmobilesign/linkrelay/internal/extsig"
	"github.com/openmobilesign/linkrelay/internal/relay"
	"github.com/openmobilesign/linkrelay/internal/storage"
	"github.com/openmobilesign/linkrelay/internal/transport"
)

const (
	// txnBindingTTL is how long a handed-out transaction remembers which
	// account it belongs to, so the callback's transport keys can be
	// resolved from its transid.
	txnBindingTTL = 10 * time.Minute

	// extResultTTL bounds how long a finished external signature result
	// waits to be polled.
	extResultTTL = 10 * time.Minute

	// extSignTimeout bounds one external signature round trip.
	extSignTimeout = 180 * time.Second
)

type handlerFunc func(ctx context.Context, msg *envelope.Message) (*envelope.Message, error)

// Dispatcher routes Coupling API messages to their handlers and applies the
// transport security sequence around them.
type Dispatcher struct {
	store      *storage.Store
	security   *transport.Security
	correlator *correlator.Correlator
	signers    *extsig.Registry
	validate   *validator.Validate

	// requireEncryption rejects plaintext messages from enrolled
	// accounts when set.
	requireEncryption bool

	mu          sync.Mutex
	txnAccounts *expiry.Cache[string, string]
	extResults  *expiry.Cache[string, *ExternalSignatureResp]

	extPool chan struct{}

	handlers map[string]handlerFunc
}

// NewDispatcher wires a Dispatcher from its collaborators. pool is the
// bounded worker pool shared with the Link API waits.
func NewDispatcher(
	store *storage.Store,
	security *transport.Security,
	corr *correlator.Correlator,
	signers *extsig.Registry,
	pool chan struct{},
	requireEncryption bool,
) *Dispatcher {
	d := &Dispatcher{
		store:             store,
		security:          security,
		correlator:        corr,
		signers:           signers,
		validate:          validator.New(),
		requireEncryption: requireEncryption,
		txnAccounts:       expiry.NewCache[string, string](txnBindingTTL),
		extResults:        expiry.NewCache[string, *ExternalSignatureResp](extResultTTL),
		extPool:           pool,
	}

	d.handlers = map[string]handlerFunc{
		envelope.TypeEnrollData:          d.handleEnrollData,
		envelope.TypeUpdateData:          d.handleUpdateData,
		envelope.TypeLinkAccount:         d.handleLinkAccount,
		envelope.TypeGetData:             d.handleGetData,
		envelope.TypeSignatureCallback:   d.handleSignatureCallback,
		envelope.TypeGenerateKeyCallback: d.handleGenerateKeyCallback,
		envelope.TypeExternalSignature:   d.handleExternalSignature,
		envelope.TypeError:               d.handleErrorMessage,
	}
	return d
}

// Handle runs one Coupling API message through the security sequence and its
// handler, returning the response message ready for the wire.
func (d *Dispatcher) Handle(ctx context.Context, body []byte) (*envelope.Message, error) {
	msg, err := envelope.Parse(body)
	if err != nil {
		return nil, err
	}

	handler, ok := d.handlers[msg.NormalizedType()]
	if !ok {
		return nil, relay.NewErrorf(relay.CodeWrongParam, "unknown message type %s", msg.Type)
	}

	var keys *transport.Keys

	switch {
	case msg.NormalizedType() == envelope.TypeEnrollData:
		// No account exists yet so there is nothing to decrypt with.
		// Transport fields on an enrollment are dropped, not rejected.
		msg.MarkPlaintext()

	case msg.IsEncrypted():
		musapID, err := d.subjectAccount(ctx, msg)
		if err != nil {
			return nil, err
		}
		keys, err = d.security.ResolveKeys(ctx, musapID)
		if err != nil {
			return nil, err
		}
		if err := d.security.Decrypt(msg, keys); err != nil {
			return nil, err
		}
		if err := d.security.ValidateNonce(msg.BasePayload()); err != nil {
			return nil, err
		}

	case d.requireEncryption:
		return nil, transport.NewError(transport.ErrCodeEncryptionRequired,
			"transport encryption is required on this relay")
	}

	resp, err := handler(ctx, msg)
	if err != nil || resp == nil {
		return resp, err
	}

	if keys == nil {
		keys = d.responseKeys(ctx, msg, resp)
	}
	if keys != nil {
		if err := d.security.Encrypt(resp, keys); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// responseKeys makes the fresh key lookup for a response whose inbound leg
// was not decrypted. Enrollment responses pick up the freshly derived keys
// through the cache; plaintext messages from accounts holding transport keys
// still get encrypted answers. Nil means the response goes out as-is.
func (d *Dispatcher) responseKeys(ctx context.Context, msg, resp *envelope.Message) *transport.Keys {
	musapID := resp.MusapID
	if musapID == "" {
		id, err := d.subjectAccount(ctx, msg)
		if err != nil {
			return nil
		}
		musapID = id
	}
	keys, err := d.security.ResolveKeys(ctx, musapID)
	if err != nil {
		return nil
	}
	return keys
}

// ErrorMessage builds the error envelope for a failed message, echoing the
// original subject when one was parseable.
func (d *Dispatcher) ErrorMessage(body []byte, err error) *envelope.Message {
	wire := relay.MapErrorToResponse(err)
	payload := &envelope.ErrorPayload{
		ErrorCode: strconv.Itoa(wire.ErrorCode),
		ErrorName: wire.ErrorName,
	}

	msg, parseErr := envelope.Parse(body)
	if parseErr == nil {
		if resp, respErr := msg.NewErrorResponse(payload); respErr == nil {
			return resp
		}
	}

	resp := &envelope.Message{Type: envelope.TypeError}
	if setErr := resp.SetPayload(payload); setErr != nil {
		slog.Error("failed to build error message", slog.String("error", setErr.Error()))
	}
	return resp
}

// subjectAccount resolves the musapid behind a message's subject. Callback
// messages carry only a transid; the binding recorded when the request was
// handed out maps it back to the account.
func (d *Dispatcher) subjectAccount(ctx context.Context, msg *envelope.Message) (string, error) {
	if msg.MusapID != "" {
		return msg.MusapID, nil
	}
	if msg.TransID != "" {
		d.mu.Lock()
		musapID, ok := d.txnAccounts.Get(msg.TransID)
		d.mu.Unlock()
		if ok {
			return musapID, nil
		}
		return "", transport.NewError(transport.ErrCodeUnknownAccount,
			"no account bound to transid "+msg.TransID)
	}
	return "", relay.NewError(relay.CodeMissingParam, "message has no subject id")
}

// bindTransaction records which account a handed-out transaction belongs to.
func (d *Dispatcher) bindTransaction(transID, musapID string) {
	d.mu.Lock()
	d.txnAccounts.Put(transID, musapID)
	d.mu.Unlock()
}
