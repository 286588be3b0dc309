package couplingcode

import (
	"context"
	"strings"
	"testing"

	"github.com/openmobilesign/linkrelay/internal/storage"
)

func TestIssueGeneratesValidCodes(t *testing.T) {
	g := NewGenerator(storage.NewMemoryStore().Couplings)
	ctx := context.Background()

	seen := make(map[string]bool)
	for range 50 {
		code, err := g.Issue(ctx, "link-1")
		if err != nil {
			t.Fatalf("Issue() error = %v", err)
		}
		if len(code) != codeLength {
			t.Errorf("code %q has length %d, want %d", code, len(code), codeLength)
		}
		for _, c := range code {
			if !strings.ContainsRune(alphabet, c) {
				t.Errorf("code %q contains %q, not in alphabet", code, c)
			}
		}
		if seen[code] {
			t.Errorf("code %q issued twice", code)
		}
		seen[code] = true
	}
}

func TestIssueBindsLinkID(t *testing.T) {
	store := storage.NewMemoryStore().Couplings
	g := NewGenerator(store)
	ctx := context.Background()

	code, err := g.Issue(ctx, "link-42")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	linkID, err := store.FindLinkID(ctx, code)
	if err != nil {
		t.Fatalf("FindLinkID() error = %v", err)
	}
	if linkID != "link-42" {
		t.Errorf("FindLinkID() = %q, want link-42", linkID)
	}
}

func TestQRDataURL(t *testing.T) {
	url, err := QRDataURL("AB23CD")
	if err != nil {
		t.Fatalf("QRDataURL() error = %v", err)
	}
	if !strings.HasPrefix(url, "data:image/png;base64,") {
		t.Errorf("QRDataURL() = %q, want data URL prefix", url[:min(len(url), 40)])
	}
	if len(url) <= len("data:image/png;base64,") {
		t.Error("QR data URL has no image payload")
	}
}
