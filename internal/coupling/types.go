package coupling

// types.go defines the payload documents carried inside Coupling API
// envelope messages.

// EnrollDataReq is the payload of an enrolldata message: a new app instance
// registering itself with the relay.
type EnrollDataReq struct {
	FCMToken  string `json:"fcmtoken,omitempty"`
	APNSToken string `json:"apnstoken,omitempty"`

	// Secret is base64 shared-secret material for transport key
	// derivation. Optional unless the relay mandates transport
	// encryption.
	Secret string `json:"secret,omitempty"`
}

// EnrollDataResp answers an enrolldata message with the newly assigned
// musapid.
type EnrollDataResp struct {
	MusapID string `json:"musapid"`
	Status  string `json:"status"`
}

// UpdateDataReq is the payload of an updatedata message: refreshed push
// tokens for an enrolled account.
type UpdateDataReq struct {
	FCMToken  string `json:"fcmtoken,omitempty"`
	APNSToken string `json:"apnstoken,omitempty"`
}

// LinkAccountReq is the payload of a linkaccount message: the coupling code
// the user typed or scanned.
type LinkAccountReq struct {
	CouplingCode string `json:"couplingcode" validate:"required"`
}

// LinkAccountResp answers a linkaccount message with the linkid now bound to
// the account.
type LinkAccountResp struct {
	LinkID string `json:"linkid"`
	Status string `json:"status"`
}

// SignatureReq is the payload of an outbound signature request handed to a
// polling mobile client. Mode selects plain signing or generate-then-sign.
type SignatureReq struct {
	TransID     string            `json:"transid"`
	LinkID      string            `json:"linkid,omitempty"`
	Mode        string            `json:"mode"`
	KeyID       string            `json:"keyid,omitempty"`
	KeyName     string            `json:"keyname,omitempty"`
	Data        string            `json:"data,omitempty"`
	DisplayText string            `json:"display,omitempty"`
	Format      string            `json:"format,omitempty"`
	DataChoice  []DataChoiceEntry `json:"datachoice,omitempty"`
}

// DataChoiceEntry is one document of a document-signing request, each signed
// with its own key.
type DataChoiceEntry struct {
	Data        string `json:"data"`
	KeyID       string `json:"keyid,omitempty"`
	KeyName     string `json:"keyname,omitempty"`
	DisplayText string `json:"display,omitempty"`
}

// GenerateKeyReq is the payload of an outbound generatekey request.
type GenerateKeyReq struct {
	TransID string `json:"transid"`
	LinkID  string `json:"linkid,omitempty"`
	KeyName string `json:"keyname"`
}

// Signature request modes.
const (
	ModeSign    = "sign"
	ModeGenSign = "gensign"
)

// SignatureCallbackReq is the payload of a signaturecallback message: the
// mobile client returning a signature for a pending transaction.
type SignatureCallbackReq struct {
	Signature   string `json:"signature" validate:"required"`
	PublicKey   string `json:"publickey,omitempty"`
	Certificate string `json:"certificate,omitempty"`
	KeyID       string `json:"keyid,omitempty"`
	KeyName     string `json:"keyname,omitempty"`
	Status      string `json:"status,omitempty"`
}

// GenerateKeyCallbackReq is the payload of a generatekeycallback message: the
// mobile client reporting a freshly generated key.
type GenerateKeyCallbackReq struct {
	KeyID       string `json:"keyid" validate:"required"`
	KeyName     string `json:"keyname,omitempty"`
	PublicKey   string `json:"publickey,omitempty"`
	Certificate string `json:"certificate,omitempty"`
	Status      string `json:"status,omitempty"`
}

// ExternalSignatureReq is the payload of an externalsignature message. The
// first call dispatches the operation; later calls with the same transid poll
// for its result.
type ExternalSignatureReq struct {
	ClientID    string            `json:"clientid" validate:"required"`
	TransID     string            `json:"transid,omitempty"`
	MSISDN      string            `json:"msisdn,omitempty"`
	Data        string            `json:"data,omitempty"`
	DisplayText string            `json:"display,omitempty"`
	Format      string            `json:"format,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// ExternalSignatureResp is the payload answering an externalsignature
// message.
type ExternalSignatureResp struct {
	TransID     string `json:"transid"`
	Status      string `json:"status"`
	Signature   string `json:"signature,omitempty"`
	Certificate string `json:"certificate,omitempty"`
	ErrorDetail string `json:"errordetails,omitempty"`
}

// External signature statuses.
const (
	StatusPending = "pending"
	StatusSigned  = "signed"
	StatusFailed  = "failed"
)
