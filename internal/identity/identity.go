// Package identity resolves the per-profile session identity once at startup.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"nori/internal/ports"
)

const (
	SessionKey = "sessionId"
	UserKey    = "userId"
)

// Identity is the immutable identity handed to the chat session.
type Identity struct {
	SessionID string
	UserID    string
}

// Resolve reads the stored session id, creating and storing one with newID
// when none exists. A stored id is never replaced. The user id is read only.
func Resolve(ctx context.Context, store ports.KeyValueStore, newID func() string) (Identity, error) {
	if store == nil {
		return Identity{}, errors.New("identity: store is required")
	}
	if newID == nil {
		return Identity{}, errors.New("identity: id generator is required")
	}

	sessionID, ok, err := store.Get(ctx, SessionKey)
	if err != nil {
		return Identity{}, fmt.Errorf("identity: read %s: %w", SessionKey, err)
	}
	sessionID = strings.TrimSpace(sessionID)
	if !ok || sessionID == "" {
		sessionID = newID()
		if err := store.Set(ctx, SessionKey, sessionID); err != nil {
			return Identity{}, fmt.Errorf("identity: store %s: %w", SessionKey, err)
		}
	}

	userID, ok, err := store.Get(ctx, UserKey)
	if err != nil {
		return Identity{}, fmt.Errorf("identity: read %s: %w", UserKey, err)
	}
	if !ok {
		userID = ""
	}

	return Identity{SessionID: sessionID, UserID: strings.TrimSpace(userID)}, nil
}
