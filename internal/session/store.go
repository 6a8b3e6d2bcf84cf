// Package session stores authenticated PDS sessions server-side.
// Clients hold only an opaque session ID in a cookie; the access and
// refresh JWTs live sealed in Redis and never reach the client.
package session

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long a session lives without a refresh. The
// cookie carries the same lifetime.
const DefaultTTL = 7 * 24 * time.Hour

const keyPrefix = "session:"

// ErrNotFound is returned for unknown, expired, or revoked sessions.
var ErrNotFound = errors.New("session not found")

// Session is one authenticated PDS session.
type Session struct {
	ID          string    `json:"-"`
	DID         string    `json:"did"`
	Handle      string    `json:"handle"`
	PDSEndpoint string    `json:"pdsEndpoint"`
	AccessJwt   string    `json:"accessJwt"`
	RefreshJwt  string    `json:"refreshJwt"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store seals sessions into Redis with AES-256-GCM. The sealed value
// is base64url(nonce || ciphertext || tag), so a Redis compromise
// without the seal secret exposes no tokens.
type Store struct {
	rdb     *redis.Client
	sealKey [32]byte
	ttl     time.Duration
}

// NewStore builds a Store. secret may be any length; the AES key is
// derived from it. ttl <= 0 selects DefaultTTL.
func NewStore(rdb *redis.Client, secret []byte, ttl time.Duration) (*Store, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("session store requires a seal secret")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{rdb: rdb, sealKey: sha256.Sum256(secret), ttl: ttl}, nil
}

// Create seals the session and returns its new opaque ID.
func (s *Store) Create(ctx context.Context, sess *Session) (string, error) {
	if sess.DID == "" {
		return "", fmt.Errorf("session requires a DID")
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}

	id, err := newSessionID()
	if err != nil {
		return "", err
	}
	sealed, err := s.seal(sess)
	if err != nil {
		return "", err
	}
	if err := s.rdb.Set(ctx, keyPrefix+id, sealed, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("storing session: %w", err)
	}
	sess.ID = id
	return id, nil
}

// Get returns the session behind id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	sealed, err := s.rdb.Get(ctx, keyPrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	sess, err := s.unseal(sealed)
	if err != nil {
		return nil, err
	}
	sess.ID = id
	return sess, nil
}

// UpdateTokens swaps in a refreshed token pair, keeping the session's
// remaining TTL.
func (s *Store) UpdateTokens(ctx context.Context, id, accessJwt, refreshJwt string) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	sess.AccessJwt = accessJwt
	sess.RefreshJwt = refreshJwt

	sealed, err := s.seal(sess)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, keyPrefix+id, sealed, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("storing session: %w", err)
	}
	return nil
}

// Delete revokes a session. Deleting an unknown ID is a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := s.rdb.Del(ctx, keyPrefix+id).Err(); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

func newSessionID() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generating session ID: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// seal encrypts the session as base64url(nonce || ciphertext || tag).
func (s *Store) seal(sess *Session) (string, error) {
	plaintext, err := json.Marshal(sess)
	if err != nil {
		return "", fmt.Errorf("encoding session: %w", err)
	}
	gcm, err := s.gcm()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(gcm.Seal(nonce, nonce, plaintext, nil)), nil
}

func (s *Store) unseal(sealed string) (*Session, error) {
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	gcm, err := s.gcm()
	if err != nil {
		return nil, err
	}
	if len(raw) < gcm.NonceSize() {
		return nil, fmt.Errorf("sealed session too short")
	}
	plaintext, err := gcm.Open(nil, raw[:gcm.NonceSize()], raw[gcm.NonceSize():], nil)
	if err != nil {
		return nil, fmt.Errorf("unsealing session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(plaintext, &sess); err != nil {
		return nil, fmt.Errorf("parsing session: %w", err)
	}
	if sess.DID == "" {
		return nil, fmt.Errorf("sealed session missing DID")
	}
	return &sess, nil
}

func (s *Store) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.sealKey[:])
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}
