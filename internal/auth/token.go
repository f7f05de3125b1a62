package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "warren"

// errInvalidToken は署名・形式・発行者のいずれかが不正なトークンを表す。
var errInvalidToken = errors.New("invalid access token")

// tokenSigner はセッションIDを載せたHS256のアクセストークンを発行・検証する。
// トークン自体は失効できないため、検証側は必ずsessionsテーブルも確認する。
type tokenSigner struct {
	secret []byte
	now    func() time.Time
}

func (t tokenSigner) issue(userID, sessionID string, expiresAt time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   userID,
		ID:        sessionID,
		IssuedAt:  jwt.NewNumericDate(t.now()),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

// parse は有効期限を含めてトークンを検証する。
func (t tokenSigner) parse(token string) (*jwt.RegisteredClaims, error) {
	return t.parseWith(token,
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
}

// parseExpired は署名のみを検証する。期限切れトークンでのサインアウトに使う。
func (t tokenSigner) parseExpired(token string) (*jwt.RegisteredClaims, error) {
	return t.parseWith(token, jwt.WithoutClaimsValidation())
}

func (t tokenSigner) parseWith(token string, opts ...jwt.ParserOption) (*jwt.RegisteredClaims, error) {
	var claims jwt.RegisteredClaims
	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidToken, err)
	}
	if claims.ID == "" || claims.Subject == "" {
		return nil, errInvalidToken
	}
	return &claims, nil
}
