package coupling

// handlers.go implements the per-type Coupling API handlers invoked by the
// dispatcher. Each handler receives a parsed, decrypted message and returns
// the plaintext response; the dispatcher handles encryption both ways.

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/openmobilesign/linkrelay/internal/envelope"
	"github.com/openmobilesign/linkrelay/internal/extsig"
	"github.com/openmobilesign/linkrelay/internal/logger"
	"github.com/openmobilesign/linkrelay/internal/relay"
	"github.com/openmobilesign/linkrelay/internal/storage"
	"github.com/openmobilesign/linkrelay/internal/transport"
)

// simulatedCode is a reserved coupling code for app development: linking
// with it fabricates a synthetic linkid without a relying party present.
const simulatedCode = "SIMULATEDCOUPLING"

func (d *Dispatcher) handleEnrollData(ctx context.Context, msg *envelope.Message) (*envelope.Message, error) {
	var req EnrollDataReq
	if err := msg.DecodePayload(&req); err != nil {
		return nil, err
	}

	var macKey, encKey []byte
	if req.Secret != "" {
		secret, err := base64.StdEncoding.DecodeString(req.Secret)
		if err != nil {
			return nil, relay.NewWrongParam("secret")
		}
		keys, err := transport.DeriveKeys(secret)
		if err != nil {
			return nil, err
		}
		macKey, encKey = keys.MAC, keys.Enc
	} else if d.requireEncryption {
		return nil, transport.NewError(transport.ErrCodeMissingKeys,
			"missing transport security secret")
	}

	musapID := uuid.NewString()
	account := &storage.Account{
		MusapID:   musapID,
		FCMToken:  req.FCMToken,
		APNSToken: req.APNSToken,
		MACKey:    macKey,
		EncKey:    encKey,
	}
	if err := d.store.Accounts.InsertAccount(ctx, account); err != nil {
		return nil, relay.WrapError(relay.CodeInternalError, err, "failed to create account")
	}
	if account.HasTransportKeys() {
		d.security.CacheKeys(musapID, &transport.Keys{MAC: macKey, Enc: encKey})
	}

	logger.ContextRequestLogger(ctx).Info("account enrolled",
		slog.String("musapid", musapID),
		slog.Bool("transport_keys", account.HasTransportKeys()))

	resp, err := msg.NewResponse(&EnrollDataResp{MusapID: musapID, Status: "success"})
	if err != nil {
		return nil, err
	}
	// Subject on the envelope lets the dispatcher resolve the freshly
	// derived keys when encrypting the response leg.
	resp.MusapID = musapID
	return resp, nil
}

func (d *Dispatcher) handleUpdateData(ctx context.Context, msg *envelope.Message) (*envelope.Message, error) {
	if msg.MusapID == "" {
		return nil, relay.NewMissingParam("musapid")
	}
	var req UpdateDataReq
	if err := msg.DecodePayload(&req); err != nil {
		return nil, err
	}

	if err := d.store.Accounts.UpdateTokens(ctx, msg.MusapID, req.FCMToken, req.APNSToken); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, relay.NewErrorf(relay.CodeUnknownUser, "no account for musapid %s", msg.MusapID)
		}
		return nil, relay.WrapError(relay.CodeInternalError, err, "failed to update tokens")
	}
	return msg.NewSuccessResponse()
}

func (d *Dispatcher) handleLinkAccount(ctx context.Context, msg *envelope.Message) (*envelope.Message, error) {
	if msg.MusapID == "" {
		return nil, relay.NewMissingParam("musapid")
	}
	var req LinkAccountReq
	if err := msg.DecodePayload(&req); err != nil {
		return nil, err
	}
	if err := d.validate.Struct(&req); err != nil {
		return nil, relay.NewMissingParam("couplingcode")
	}

	code := normalizeCouplingCode(req.CouplingCode)

	var linkID string
	if code == simulatedCode {
		linkID = "SIMULATED-" + uuid.NewString()
	} else {
		var err error
		linkID, err = d.store.Couplings.FindLinkID(ctx, code)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, relay.NewError(relay.CodeCouplingError, "unknown or expired coupling code")
			}
			return nil, relay.WrapError(relay.CodeInternalError, err, "failed to look up coupling code")
		}
	}

	if err := d.store.Accounts.AddLinkID(ctx, msg.MusapID, linkID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, relay.NewErrorf(relay.CodeUnknownUser, "no account for musapid %s", msg.MusapID)
		}
		return nil, relay.WrapError(relay.CodeInternalError, err, "failed to bind linkid")
	}

	logger.ContextRequestLogger(ctx).Info("account linked",
		slog.String("musapid", msg.MusapID),
		slog.String("linkid", linkID))

	return msg.NewResponse(&LinkAccountResp{LinkID: linkID, Status: "success"})
}

// normalizeCouplingCode uppercases the code and strips the separators users
// type or copy along with it.
func normalizeCouplingCode(code string) string {
	code = strings.ToUpper(code)
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '-':
			return -1
		}
		return r
	}, code)
}

func (d *Dispatcher) handleGetData(ctx context.Context, msg *envelope.Message) (*envelope.Message, error) {
	if msg.MusapID == "" {
		return nil, relay.NewMissingParam("musapid")
	}
	account, err := d.store.Accounts.FindByMusapID(ctx, msg.MusapID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, relay.NewErrorf(relay.CodeUnknownUser, "no account for musapid %s", msg.MusapID)
		}
		return nil, relay.WrapError(relay.CodeInternalError, err, "failed to load account")
	}

	pending, err := d.correlator.GetSignReq(ctx, account.LinkIDs)
	if err != nil {
		return nil, relay.WrapError(relay.CodeInternalError, err, "failed to fetch pending request")
	}
	if pending == nil {
		return msg.NewSuccessResponse()
	}

	// Remember which account this transaction went to, so the callback's
	// transport keys can be resolved from its transid alone.
	d.bindTransaction(pending.TransID, account.MusapID)

	logger.ContextRequestLogger(ctx).Info("pending request handed out",
		slog.String("musapid", account.MusapID),
		slog.String("transid", pending.TransID))

	return pending, nil
}

func (d *Dispatcher) handleSignatureCallback(_ context.Context, msg *envelope.Message) (*envelope.Message, error) {
	if msg.TransID == "" {
		return nil, relay.NewMissingParam("transid")
	}
	var req SignatureCallbackReq
	if err := msg.DecodePayload(&req); err != nil {
		return nil, err
	}
	if err := d.validate.Struct(&req); err != nil {
		return nil, relay.NewMissingParam("signature")
	}

	d.correlator.StoreResponse(msg.TransID, msg)
	return msg.NewSuccessResponse()
}

func (d *Dispatcher) handleGenerateKeyCallback(_ context.Context, msg *envelope.Message) (*envelope.Message, error) {
	if msg.TransID == "" {
		return nil, relay.NewMissingParam("transid")
	}
	var req GenerateKeyCallbackReq
	if err := msg.DecodePayload(&req); err != nil {
		return nil, err
	}
	if err := d.validate.Struct(&req); err != nil {
		return nil, relay.NewMissingParam("keyid")
	}

	d.correlator.StoreResponse(msg.TransID, msg)
	return msg.NewSuccessResponse()
}

// handleErrorMessage routes a mobile-side failure to the waiting relying
// party. User cancellation arrives this way.
func (d *Dispatcher) handleErrorMessage(_ context.Context, msg *envelope.Message) (*envelope.Message, error) {
	if msg.TransID == "" {
		return nil, relay.NewMissingParam("transid")
	}
	var payload envelope.ErrorPayload
	if err := msg.DecodePayload(&payload); err != nil {
		return nil, err
	}

	code := relay.CodeInternalError
	if parsed, err := strconv.Atoi(payload.ErrorCode); err == nil {
		code = parsed
	}
	d.correlator.StoreError(msg.TransID, relay.NewErrorf(code, "mobile reported %s", relay.ErrorName(code)))

	return msg.NewSuccessResponse()
}

func (d *Dispatcher) handleExternalSignature(ctx context.Context, msg *envelope.Message) (*envelope.Message, error) {
	var req ExternalSignatureReq
	if err := msg.DecodePayload(&req); err != nil {
		return nil, err
	}
	if err := d.validate.Struct(&req); err != nil {
		return nil, relay.NewMissingParam("clientid")
	}

	// Poll for an earlier dispatch.
	if req.TransID != "" {
		d.mu.Lock()
		result, ok := d.extResults.Get(req.TransID)
		d.mu.Unlock()
		if ok {
			return msg.NewResponse(result)
		}
		return msg.NewResponse(&ExternalSignatureResp{TransID: req.TransID, Status: StatusPending})
	}

	signer, err := d.signers.Get(req.ClientID)
	if err != nil {
		return nil, relay.WrapError(relay.CodeConfigError, err, "unknown signature client")
	}

	dtbs, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		return nil, relay.NewWrongParam("data")
	}

	transID := uuid.NewString()
	d.dispatchExternalSignature(transID, signer, &req, dtbs)

	return msg.NewResponse(&ExternalSignatureResp{TransID: transID, Status: StatusPending})
}

// dispatchExternalSignature runs the backend call on the bounded pool and
// caches the outcome for the client's next poll.
func (d *Dispatcher) dispatchExternalSignature(transID string, signer extsig.Signer, req *ExternalSignatureReq, dtbs []byte) {
	go func() {
		d.extPool <- struct{}{}
		defer func() { <-d.extPool }()

		ctx, cancel := context.WithTimeout(context.Background(), extSignTimeout)
		defer cancel()

		resp, err := signer.Sign(ctx, &extsig.Request{
			MSISDN:      req.MSISDN,
			DisplayText: req.DisplayText,
			DTBS:        dtbs,
			Format:      req.Format,
			Attributes:  req.Attributes,
		})

		result := &ExternalSignatureResp{TransID: transID}
		if err != nil {
			slog.Warn("external signature failed",
				slog.String("transid", transID),
				slog.String("clientid", req.ClientID),
				slog.String("error", err.Error()))
			result.Status = StatusFailed
			result.ErrorDetail = err.Error()
		} else {
			result.Status = StatusSigned
			result.Signature = base64.StdEncoding.EncodeToString(resp.Signature)
			if len(resp.Certificate) > 0 {
				result.Certificate = base64.StdEncoding.EncodeToString(resp.Certificate)
			}
		}

		d.mu.Lock()
		d.extResults.Put(transID, result)
		d.mu.Unlock()
	}()
}
