package chattest

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const xsrfIssuer = "chattest"

// xsrfSigner issues and checks anti-forgery tokens. Tokens are HS256 JWTs so
// a value the server never issued fails verification even if it is echoed
// consistently in both cookie and form.
type xsrfSigner struct {
	secret []byte
}

func newXSRFSigner() *xsrfSigner {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		secret = []byte(time.Now().String())
	}
	return &xsrfSigner{secret: secret}
}

func (x *xsrfSigner) issue() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:   xsrfIssuer,
		Subject:  "xsrf",
		IssuedAt: jwt.NewNumericDate(now),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(x.secret)
}

func (x *xsrfSigner) verify(cookieValue, presented string) error {
	if presented == "" {
		return fmt.Errorf("missing xsrf token")
	}
	if cookieValue != presented {
		return fmt.Errorf("xsrf token does not match cookie")
	}

	token, err := jwt.ParseWithClaims(presented, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return x.secret, nil
	}, jwt.WithIssuer(xsrfIssuer))
	if err != nil {
		return fmt.Errorf("parse xsrf token: %w", err)
	}
	if !token.Valid {
		return fmt.Errorf("invalid xsrf token")
	}
	return nil
}
