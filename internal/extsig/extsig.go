// Package extsig integrates external signature services: backends that sign
// on behalf of a user identified by MSISDN rather than through the mobile
// credential app.
package extsig

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Request describes one external signature operation.
type Request struct {
	MSISDN      string
	DisplayText string
	DTBS        []byte
	Format      string
	Attributes  map[string]string
}

// Response is the outcome of an external signature operation.
type Response struct {
	Signature   []byte
	Certificate []byte
	Status      string
}

// Signer performs signature operations against one external backend.
type Signer interface {
	Sign(ctx context.Context, req *Request) (*Response, error)
}

// RESTClient signs through a JSON-over-HTTP signature backend.
type RESTClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewRESTClient creates a client for the backend at endpoint. timeout bounds
// the whole signature round trip, including the user's confirmation on their
// device.
func NewRESTClient(endpoint, apiKey string, timeout time.Duration) *RESTClient {
	return &RESTClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

type restRequest struct {
	MSISDN      string            `json:"msisdn"`
	DisplayText string            `json:"displaytext,omitempty"`
	DTBS        string            `json:"dtbs"`
	Format      string            `json:"format,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

type restResponse struct {
	Signature   string `json:"signature"`
	Certificate string `json:"certificate,omitempty"`
	Status      string `json:"status"`
}

func (c *RESTClient) Sign(ctx context.Context, req *Request) (*Response, error) {
	body, err := json.Marshal(&restRequest{
		MSISDN:      req.MSISDN,
		DisplayText: req.DisplayText,
		DTBS:        base64.StdEncoding.EncodeToString(req.DTBS),
		Format:      req.Format,
		Attributes:  req.Attributes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build signature request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build signature request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("signature request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 300 {
		return nil, fmt.Errorf("signature backend returned status %d", httpResp.StatusCode)
	}

	var wire restResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("failed to decode signature response: %w", err)
	}

	signature, err := base64.StdEncoding.DecodeString(wire.Signature)
	if err != nil {
		return nil, fmt.Errorf("signature is not valid base64: %w", err)
	}
	var certificate []byte
	if wire.Certificate != "" {
		certificate, err = base64.StdEncoding.DecodeString(wire.Certificate)
		if err != nil {
			return nil, fmt.Errorf("certificate is not valid base64: %w", err)
		}
	}

	return &Response{
		Signature:   signature,
		Certificate: certificate,
		Status:      wire.Status,
	}, nil
}

// Registry holds the configured signature backends keyed by client id.
type Registry struct {
	signers map[string]Signer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{signers: make(map[string]Signer)}
}

// Register binds a signer to a client id, replacing any previous binding.
func (r *Registry) Register(clientID string, signer Signer) {
	r.signers[clientID] = signer
}

// Get returns the signer for clientID.
func (r *Registry) Get(clientID string) (Signer, error) {
	signer, ok := r.signers[clientID]
	if !ok {
		return nil, fmt.Errorf("no signature client configured for clientid %s", clientID)
	}
	return signer, nil
}
