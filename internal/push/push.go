// Package push delivers best-effort wake-up notifications to mobile
// credential apps. Delivery is advisory only: the app polls for its pending
// request either way, a lost notification just makes it slower.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/openmobilesign/linkrelay/internal/storage"
)

// Notifier wakes up the mobile app bound to account.
type Notifier interface {
	Notify(ctx context.Context, account *storage.Account, message string) error
}

const requestTimeout = 10 * time.Second

// FCMClient sends notifications through Firebase Cloud Messaging.
type FCMClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewFCMClient creates an FCM notifier posting to endpoint with apiKey.
func NewFCMClient(endpoint, apiKey string) *FCMClient {
	return &FCMClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: requestTimeout},
	}
}

func (c *FCMClient) Notify(ctx context.Context, account *storage.Account, message string) error {
	if account.FCMToken == "" {
		return fmt.Errorf("account has no FCM token")
	}

	body, err := json.Marshal(map[string]any{
		"to": account.FCMToken,
		"notification": map[string]string{
			"body": message,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to build FCM request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build FCM request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("FCM request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("FCM returned status %d", resp.StatusCode)
	}
	return nil
}

// APNSClient sends notifications through the Apple Push Notification service.
type APNSClient struct {
	endpoint string
	topic    string
	client   *http.Client
}

// NewAPNSClient creates an APNs notifier posting to endpoint for the given
// app topic.
func NewAPNSClient(endpoint, topic string) *APNSClient {
	return &APNSClient{
		endpoint: endpoint,
		topic:    topic,
		client:   &http.Client{Timeout: requestTimeout},
	}
}

func (c *APNSClient) Notify(ctx context.Context, account *storage.Account, message string) error {
	if account.APNSToken == "" {
		return fmt.Errorf("account has no APNs token")
	}

	body, err := json.Marshal(map[string]any{
		"aps": map[string]any{
			"alert": message,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to build APNs request: %w", err)
	}

	url := fmt.Sprintf("%s/3/device/%s", c.endpoint, account.APNSToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build APNs request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apns-topic", c.topic)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("APNs request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("APNs returned status %d", resp.StatusCode)
	}
	return nil
}

// MultiNotifier tries each notifier in order and stops at the first success.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a MultiNotifier. Order matters: FCM first, then
// APNs, matching which token most accounts carry.
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

func (m *MultiNotifier) Notify(ctx context.Context, account *storage.Account, message string) error {
	var lastErr error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, account, message); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no notifiers configured")
	}
	return lastErr
}

// NoopNotifier silently discards notifications. Used when push is disabled.
type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, *storage.Account, string) error { return nil }

// NotifyBestEffort sends a notification and logs failures without
// propagating them.
func NotifyBestEffort(ctx context.Context, n Notifier, account *storage.Account, message string) {
	if err := n.Notify(ctx, account, message); err != nil {
		slog.Debug("push notification failed",
			slog.String("musapid", account.MusapID),
			slog.String("error", err.Error()))
	}
}
