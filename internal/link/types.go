package link

// types.go defines the Link API request and response documents.

// LinkResp answers POST /link with a fresh linkid and the coupling code the
// end user enters in their app.
type LinkResp struct {
	LinkID       string `json:"linkid"`
	CouplingCode string `json:"couplingcode"`
	QRCode       string `json:"qrcode"`
}

// SignReq is the body of POST /sign.
type SignReq struct {
	LinkID      string `json:"linkid" validate:"required"`
	Data        string `json:"data" validate:"required"`
	DisplayText string `json:"display,omitempty"`
	Format      string `json:"format,omitempty"`
	KeyID       string `json:"keyid,omitempty"`
	KeyName     string `json:"keyname,omitempty"`

	// GenerateNew asks the app to generate a fresh key and sign with it
	// in one round trip.
	GenerateNew bool `json:"generatenew,omitempty"`
}

// SignResp answers POST /sign and POST /docsign.
type SignResp struct {
	Signature   string `json:"signature"`
	PublicKey   string `json:"publickey,omitempty"`
	Certificate string `json:"certificate,omitempty"`
	KeyID       string `json:"keyid,omitempty"`
	KeyName     string `json:"keyname,omitempty"`
}

// DocSignEntry is one document of a POST /docsign request.
type DocSignEntry struct {
	Data        string `json:"data" validate:"required"`
	KeyName     string `json:"keyname" validate:"required"`
	DisplayText string `json:"display,omitempty"`
}

// DocSignReq is the body of POST /docsign.
type DocSignReq struct {
	LinkID      string         `json:"linkid" validate:"required"`
	DataChoice  []DocSignEntry `json:"datachoice" validate:"required,min=1,dive"`
	DisplayText string         `json:"display,omitempty"`
	Format      string         `json:"format,omitempty"`
}

// GenerateKeyReq is the body of POST /generatekey.
type GenerateKeyReq struct {
	LinkID  string `json:"linkid" validate:"required"`
	KeyName string `json:"keyname" validate:"required"`
}

// GenerateKeyResp answers POST /generatekey.
type GenerateKeyResp struct {
	KeyID   string `json:"keyid"`
	KeyName string `json:"keyname"`
}

// UpdateKeyReq is the body of POST /updatekey.
type UpdateKeyReq struct {
	LinkID  string `json:"linkid" validate:"required"`
	KeyID   string `json:"keyid" validate:"required"`
	KeyName string `json:"keyname" validate:"required"`
}

// StatusResp is the generic success acknowledgement.
type StatusResp struct {
	Status string `json:"status"`
}

// KeyInfo describes one key in a POST /listkeys response.
type KeyInfo struct {
	KeyID   string `json:"keyid"`
	KeyName string `json:"keyname"`
}

// ListKeysReq is the body of POST /listkeys.
type ListKeysReq struct {
	LinkID string `json:"linkid" validate:"required"`
}

// ListKeysResp answers POST /listkeys.
type ListKeysResp struct {
	Keys []KeyInfo `json:"keys"`
}
