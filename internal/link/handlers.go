package link

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/openmobilesign/linkrelay/internal/coupling"
	"github.com/openmobilesign/linkrelay/internal/couplingcode"
	"github.com/openmobilesign/linkrelay/internal/envelope"
	"github.com/openmobilesign/linkrelay/internal/logger"
	"github.com/openmobilesign/linkrelay/internal/relay"
	"github.com/openmobilesign/linkrelay/internal/storage"
)

// decodeBody parses and validates a request body.
func (s *Service) decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return relay.WrapError(relay.CodeWrongParam, err, "invalid request body")
	}
	if err := s.validate.Struct(v); err != nil {
		return relay.WrapError(relay.CodeMissingParam, err, "missing required fields")
	}
	return nil
}

// HandleLink godoc
//
//	@Summary	Create a new link
//	@Description	Issues a fresh linkid with a coupling code and QR image the
//	@Description	end user enters in their credential app.
//	@Tags		Link
//	@Produce	json
//	@Success	200	{object}	LinkResp
//	@Router		/link [post]
func (s *Service) HandleLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	linkID := uuid.NewString()
	code, err := s.codes.Issue(ctx, linkID)
	if err != nil {
		relay.RespondWithError(w, r, relay.WrapError(relay.CodeInternalError, err, "failed to issue coupling code"))
		return
	}
	qr, err := couplingcode.QRDataURL(code)
	if err != nil {
		relay.RespondWithError(w, r, relay.WrapError(relay.CodeInternalError, err, "failed to render coupling code"))
		return
	}

	logger.ContextRequestLogger(ctx).Info("link created", slog.String("linkid", linkID))

	relay.RespondWithJSON(w, http.StatusOK, &LinkResp{
		LinkID:       linkID,
		CouplingCode: code,
		QRCode:       qr,
	})
}

// HandleSign godoc
//
//	@Summary	Request a signature
//	@Description	Stores a signature request for the linked app, wakes it up
//	@Description	and waits for the signature or an error from the taxonomy.
//	@Tags		Link
//	@Accept		json
//	@Produce	json
//	@Success	200	{object}	SignResp
//	@Router		/sign [post]
func (s *Service) HandleSign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SignReq
	if err := s.decodeBody(r, &req); err != nil {
		relay.RespondWithError(w, r, err)
		return
	}

	account, err := s.account(ctx, req.LinkID)
	if err != nil {
		relay.RespondWithError(w, r, err)
		return
	}

	keyID := req.KeyID
	if keyID == "" && req.KeyName != "" && !req.GenerateNew {
		keyID, err = s.resolveKeyID(ctx, account.MusapID, req.KeyName)
		if err != nil {
			relay.RespondWithError(w, r, err)
			return
		}
	}

	mode := coupling.ModeSign
	if req.GenerateNew {
		mode = coupling.ModeGenSign
	}

	transID := uuid.NewString()
	msg, err := envelope.NewRequest(envelope.TypeSignature, transID, &coupling.SignatureReq{
		TransID:     transID,
		LinkID:      req.LinkID,
		Mode:        mode,
		KeyID:       keyID,
		KeyName:     req.KeyName,
		Data:        req.Data,
		DisplayText: req.DisplayText,
		Format:      req.Format,
	})
	if err != nil {
		relay.RespondWithError(w, r, err)
		return
	}

	resp, err := s.dispatchAndAwait(ctx, account, req.LinkID, msg)
	if err != nil {
		relay.RespondWithError(w, r, err)
		return
	}

	var cb coupling.SignatureCallbackReq
	if err := resp.DecodePayload(&cb); err != nil {
		relay.RespondWithError(w, r, err)
		return
	}
	s.upsertKeyFromCallback(ctx, account.MusapID, &cb)

	relay.RespondWithJSON(w, http.StatusOK, &SignResp{
		Signature:   cb.Signature,
		PublicKey:   cb.PublicKey,
		Certificate: cb.Certificate,
		KeyID:       cb.KeyID,
		KeyName:     cb.KeyName,
	})
}

// HandleDocSign godoc
//
//	@Summary	Request document signatures
//	@Description	Like /sign but for a list of documents, each signed with the
//	@Description	key named in its datachoice entry.
//	@Tags		Link
//	@Accept		json
//	@Produce	json
//	@Success	200	{object}	SignResp
//	@Router		/docsign [post]
func (s *Service) HandleDocSign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req DocSignReq
	if err := s.decodeBody(r, &req); err != nil {
		relay.RespondWithError(w, r, err)
		return
	}

	account, err := s.account(ctx, req.LinkID)
	if err != nil {
		relay.RespondWithError(w, r, err)
		return
	}

	choices := make([]coupling.DataChoiceEntry, 0, len(req.DataChoice))
	for _, entry := range req.DataChoice {
		keyID, err := s.resolveKeyID(ctx, account.MusapID, entry.KeyName)
		if err != nil {
			relay.RespondWithError(w, r, err)
			return
		}
		choices = append(choices, coupling.DataChoiceEntry{
			Data:        entry.Data,
			KeyID:       keyID,
			KeyName:     entry.KeyName,
			DisplayText: entry.DisplayText,
		})
	}

	transID := uuid.NewString()
	msg, err := envelope.NewRequest(envelope.TypeSignature, transID, &coupling.SignatureReq{
		TransID:     transID,
		LinkID:      req.LinkID,
		Mode:        coupling.ModeSign,
		DisplayText: req.DisplayText,
		Format:      req.Format,
		DataChoice:  choices,
	})
	if err != nil {
		relay.RespondWithError(w, r, err)
		return
	}

	resp, err := s.dispatchAndAwait(ctx, account, req.LinkID, msg)
	if err != nil {
		relay.RespondWithError(w, r, err)
		return
	}

	var cb coupling.SignatureCallbackReq
	if err := resp.DecodePayload(&cb); err != nil {
		relay.RespondWithError(w, r, err)
		return
	}
	s.upsertKeyFromCallback(ctx, account.MusapID, &cb)

	relay.RespondWithJSON(w, http.StatusOK, &SignResp{
		Signature:   cb.Signature,
		PublicKey:   cb.PublicKey,
		Certificate: cb.Certificate,
		KeyID:       cb.KeyID,
		KeyName:     cb.KeyName,
	})
}

// HandleGenerateKey godoc
//
//	@Summary	Generate a key
//	@Description	Asks the linked app to generate a fresh key under the given
//	@Description	name. Names are unique per account.
//	@Tags		Link
//	@Accept		json
//	@Produce	json
//	@Success	200	{object}	GenerateKeyResp
//	@Router		/generatekey [post]
func (s *Service) HandleGenerateKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req GenerateKeyReq
	if err := s.decodeBody(r, &req); err != nil {
		relay.RespondWithError(w, r, err)
		return
	}

	account, err := s.account(ctx, req.LinkID)
	if err != nil {
		relay.RespondWithError(w, r, err)
		return
	}

	if _, err := s.store.Keys.FindByKeyName(ctx, account.MusapID, req.KeyName); err == nil {
		relay.RespondWithError(w, r, relay.NewErrorf(relay.CodeWrongParam, "key %s already exists", req.KeyName))
		return
	}

	transID := uuid.NewString()
	msg, err := envelope.NewRequest(envelope.TypeGenerateKey, transID, &coupling.GenerateKeyReq{
		TransID: transID,
		LinkID:  req.LinkID,
		KeyName: req.KeyName,
	})
	if err != nil {
		relay.RespondWithError(w, r, err)
		return
	}

	resp, err := s.dispatchAndAwait(ctx, account, req.LinkID, msg)
	if err != nil {
		relay.RespondWithError(w, r, err)
		return
	}

	var cb coupling.GenerateKeyCallbackReq
	if err := resp.DecodePayload(&cb); err != nil {
		relay.RespondWithError(w, r, err)
		return
	}

	keyName := cb.KeyName
	if keyName == "" {
		keyName = req.KeyName
	}
	if err := s.store.Keys.Upsert(ctx, account.MusapID, &storage.KeyDetails{
		KeyID:       cb.KeyID,
		KeyName:     keyName,
		Certificate: []byte(cb.Certificate),
		PublicKey:   []byte(cb.PublicKey),
	}); err != nil {
		relay.RespondWithError(w, r, relay.WrapError(relay.CodeInternalError, err, "failed to store key details"))
		return
	}

	relay.RespondWithJSON(w, http.StatusOK, &GenerateKeyResp{KeyID: cb.KeyID, KeyName: keyName})
}

// HandleUpdateKey godoc
//
//	@Summary	Update key details
//	@Description	Renames a key identified by keyid.
//	@Tags		Link
//	@Accept		json
//	@Produce	json
//	@Success	200	{object}	StatusResp
//	@Router		/updatekey [post]
func (s *Service) HandleUpdateKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req UpdateKeyReq
	if err := s.decodeBody(r, &req); err != nil {
		relay.RespondWithError(w, r, err)
		return
	}

	account, err := s.account(ctx, req.LinkID)
	if err != nil {
		relay.RespondWithError(w, r, err)
		return
	}

	key, err := s.store.Keys.FindByKeyID(ctx, account.MusapID, req.KeyID)
	if err != nil {
		relay.RespondWithError(w, r, relay.NewErrorf(relay.CodeUnknownKey, "no key with keyid %s", req.KeyID))
		return
	}

	key.KeyName = req.KeyName
	if err := s.store.Keys.Upsert(ctx, account.MusapID, key); err != nil {
		relay.RespondWithError(w, r, relay.WrapError(relay.CodeInternalError, err, "failed to update key details"))
		return
	}

	relay.RespondWithJSON(w, http.StatusOK, &StatusResp{Status: "success"})
}

// HandleListKeys godoc
//
//	@Summary	List keys
//	@Description	Lists the keys of the linked account. Disabled unless the
//	@Description	relay is configured to expose key inventories.
//	@Tags		Link
//	@Accept		json
//	@Produce	json
//	@Success	200	{object}	ListKeysResp
//	@Router		/listkeys [post]
func (s *Service) HandleListKeys(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !s.listKeysEnabled {
		relay.RespondWithError(w, r, relay.NewError(relay.CodeConfigError, "listkeys is disabled on this relay"))
		return
	}

	var req ListKeysReq
	if err := s.decodeBody(r, &req); err != nil {
		relay.RespondWithError(w, r, err)
		return
	}

	account, err := s.account(ctx, req.LinkID)
	if err != nil {
		relay.RespondWithError(w, r, err)
		return
	}

	keys, err := s.store.Keys.List(ctx, account.MusapID)
	if err != nil {
		relay.RespondWithError(w, r, relay.WrapError(relay.CodeInternalError, err, "failed to list keys"))
		return
	}

	infos := make([]KeyInfo, 0, len(keys))
	for _, key := range keys {
		infos = append(infos, KeyInfo{KeyID: key.KeyID, KeyName: key.KeyName})
	}
	relay.RespondWithJSON(w, http.StatusOK, &ListKeysResp{Keys: infos})
}
