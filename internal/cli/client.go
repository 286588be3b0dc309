package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/openmobilesign/linkrelay/internal/relay"
)

// Signature waits can take up to two minutes on the server side, give the
// client a little headroom on top.
const clientTimeout = 130 * time.Second

// postJSON sends one Link API request and decodes the response into out.
// The relay reports protocol failures with HTTP 200 and an error document,
// so the body is inspected before it is treated as a success response.
func postJSON(path string, reqBody any, out any) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	client := &http.Client{Timeout: clientTimeout}
	resp, err := client.Post(serverURL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s: %s", resp.Status, body)
	}

	var wireErr relay.ErrorResponse
	if err := json.Unmarshal(body, &wireErr); err == nil && wireErr.ErrorCode != 0 {
		return fmt.Errorf("relay error %d (%s): %s", wireErr.ErrorCode, wireErr.ErrorName, wireErr.ErrorDetails)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
