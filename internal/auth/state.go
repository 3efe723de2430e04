package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

// DefaultStateTTL はOAuth stateの有効期間。oauth_stateクッキーのMaxAgeと揃える。
const DefaultStateTTL = 10 * time.Minute

// ErrInvalidState はOAuth stateの検証に失敗したことを表す。
var ErrInvalidState = errors.New("invalid oauth state")

const stateKeyInfo = "promptbox oauth state v1"

// StateCodec はOAuthのstate値と、それを束縛する署名付きトークンを発行・検証する。
// トークンはoauth_stateクッキーに保存し、コールバックのstateクエリと突き合わせる。
type StateCodec struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewStateCodec はsecretからHKDFで署名鍵を導出してStateCodecを生成する。
func NewStateCodec(secret string) (*StateCodec, error) {
	if secret == "" {
		return nil, errors.New("state secret is required")
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(stateKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive state key: %w", err)
	}

	return &StateCodec{
		key: key,
		ttl: DefaultStateTTL,
		now: time.Now,
	}, nil
}

// Issue はランダムなstate値と、その値を埋め込んだHS256トークンを返す。
func (c *StateCodec) Issue() (state string, token string, err error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("failed to generate state: %w", err)
	}
	state = hex.EncodeToString(b)

	now := c.now()
	claims := jwt.RegisteredClaims{
		ID:        state,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
	}
	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
	if err != nil {
		return "", "", fmt.Errorf("failed to sign state: %w", err)
	}
	return state, token, nil
}

// Verify はトークンの署名と有効期限を検証し、埋め込まれたstateがstateと一致するか確認する。
func (c *StateCodec) Verify(token, state string) error {
	if token == "" || state == "" {
		return fmt.Errorf("%w: missing state", ErrInvalidState)
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return c.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}

	if subtle.ConstantTimeCompare([]byte(claims.ID), []byte(state)) != 1 {
		return fmt.Errorf("%w: state mismatch", ErrInvalidState)
	}
	return nil
}
