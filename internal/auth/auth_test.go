package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestParseValidatesSignatureAndIssuer(t *testing.T) {
	cfg := Config{Secret: "s3cret", Issuer: "edge"}
	token := sign(t, "s3cret", jwt.MapClaims{"sub": "host-app", "iss": "edge", "exp": time.Now().Add(time.Hour).Unix()})

	claims, err := Parse(token, cfg)
	require.NoError(t, err)
	require.Equal(t, "host-app", claims.Subject)

	_, err = Parse(sign(t, "other", jwt.MapClaims{"sub": "host-app", "iss": "edge"}), cfg)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = Parse(sign(t, "s3cret", jwt.MapClaims{"sub": "host-app", "iss": "someone-else"}), cfg)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = Parse("  ", cfg)
	require.ErrorIs(t, err, ErrMissingToken)
}

func TestInspectSkipsVerification(t *testing.T) {
	exp := time.Now().Add(-time.Minute).Truncate(time.Second)
	token := sign(t, "unknown-to-the-agent", jwt.MapClaims{"sub": "user-7", "exp": exp.Unix()})

	claims, err := Inspect(token)
	require.NoError(t, err)
	require.Equal(t, "user-7", claims.Subject)
	require.True(t, claims.ExpiresAt.Equal(exp))
	require.True(t, claims.Expired(time.Now()))

	_, err = Inspect("t")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddleware(t *testing.T) {
	cfg := Config{Secret: "s3cret"}
	mw := NewMiddleware(cfg)
	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := FromContext(r.Context())
		if ok {
			w.Header().Set("X-Subject", claims.Subject)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/queue", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/queue", nil)
	req.Header.Set("Authorization", "Bearer "+sign(t, "s3cret", jwt.MapClaims{"sub": "host-app"}))
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, "host-app", rr.Header().Get("X-Subject"))
}

func TestSubject(t *testing.T) {
	ctx := context.Background()
	require.Empty(t, Subject(ctx))
	_, ok := FromContext(WithClaims(ctx, nil))
	require.False(t, ok)

	ctx = WithClaims(ctx, &Claims{Subject: "host-app"})
	require.Equal(t, "host-app", Subject(ctx))
}
