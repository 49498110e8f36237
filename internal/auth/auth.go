// Package auth verifies bearer API keys against their stored SHA-256
// hashes.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/hermesgw/hermes/internal/store"
)

// KeyStore is the persistence capability auth needs from the store.
type KeyStore interface {
	KeyByHash(ctx context.Context, hash string) (store.KeyRecord, bool, error)
	TouchKeyLastUsed(ctx context.Context, id string) error
}

// Authenticator checks bearer tokens against hashed, stored keys.
type Authenticator struct {
	store  KeyStore
	secret string
}

// New creates an Authenticator. secret is a single static fallback
// credential (HERMES_SECRET) accepted in addition to any issued key;
// pass "" to disable it.
func New(store KeyStore, secret string) *Authenticator {
	return &Authenticator{store: store, secret: secret}
}

// HashKey returns the hex-encoded SHA-256 digest of a raw key, the
// form persisted in the hermes_keys table.
func HashKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

// ExtractBearer pulls the token out of an "Authorization: Bearer <token>"
// header value. It returns ok=false if the header is missing or
// malformed.
func ExtractBearer(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimPrefix(header, prefix)
	if token == "" {
		return "", false
	}
	return token, true
}

// Verify reports whether rawKey is a valid credential, stamping
// lastUsedAt on the matching issued-key record when it isn't the
// static secret.
func (a *Authenticator) Verify(ctx context.Context, rawKey string) bool {
	if a.secret != "" && constantTimeEqual(rawKey, a.secret) {
		return true
	}
	k, found, err := a.store.KeyByHash(ctx, HashKey(rawKey))
	if err != nil || !found {
		return false
	}
	_ = a.store.TouchKeyLastUsed(ctx, k.ID)
	return true
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
