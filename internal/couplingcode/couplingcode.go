// Package couplingcode issues the short codes that bind a relying-party
// linkid to a mobile credential app, and renders them as QR images.
package couplingcode

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/openmobilesign/linkrelay/internal/storage"
)

// alphabet deliberately omits 0/O/1/I: the code is typed by hand on a phone.
const alphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

const codeLength = 6

const qrSize = 256

// maxAttempts bounds collision regeneration. With a 32^6 space this only
// trips when the store is badly over-full.
const maxAttempts = 100

// Generator issues coupling codes backed by a CouplingStore.
type Generator struct {
	store storage.CouplingStore
}

// NewGenerator creates a Generator writing codes through store.
func NewGenerator(store storage.CouplingStore) *Generator {
	return &Generator{store: store}
}

// Issue generates a fresh coupling code, regenerating on collision, and binds
// it to linkID.
func (g *Generator) Issue(ctx context.Context, linkID string) (string, error) {
	for range maxAttempts {
		code, err := randomCode()
		if err != nil {
			return "", err
		}

		_, err = g.store.FindLinkID(ctx, code)
		if err == nil {
			continue
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return "", fmt.Errorf("failed to check coupling code: %w", err)
		}

		if err := g.store.Insert(ctx, code, linkID); err != nil {
			return "", fmt.Errorf("failed to store coupling code: %w", err)
		}
		return code, nil
	}
	return "", fmt.Errorf("failed to generate a unique coupling code after %d attempts", maxAttempts)
}

func randomCode() (string, error) {
	code := make([]byte, codeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		if err != nil {
			return "", fmt.Errorf("failed to generate coupling code: %w", err)
		}
		code[i] = alphabet[n.Int64()]
	}
	return string(code), nil
}

// QRDataURL renders the code as a PNG QR image wrapped in a data URL, ready
// for direct embedding in an <img> tag.
func QRDataURL(code string) (string, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, qrSize)
	if err != nil {
		return "", fmt.Errorf("failed to render coupling code QR: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
