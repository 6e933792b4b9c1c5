package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

func TestVerifier_RoundTrip(t *testing.T) {
	v := NewVerifier("secret", "sessions")

	raw, err := v.Issue("u1", "org1", time.Minute)
	require.NoError(t, err)

	id, err := v.Parse(raw)
	require.NoError(t, err)
	assert.True(t, id.IsAuthenticated())
	assert.Equal(t, "u1", id.UserID)
	assert.Equal(t, "org1", id.OrganisationID)
}

func TestVerifier_Rejects(t *testing.T) {
	v := NewVerifier("secret", "sessions")

	expired, err := v.Issue("u1", "org1", -time.Minute)
	require.NoError(t, err)
	wrongKey, err := NewVerifier("other", "sessions").Issue("u1", "org1", time.Minute)
	require.NoError(t, err)
	wrongIssuer, err := NewVerifier("secret", "elsewhere").Issue("u1", "org1", time.Minute)
	require.NoError(t, err)
	noOrg, err := v.Issue("u1", "", time.Minute)
	require.NoError(t, err)

	tests := map[string]string{
		"expired":      expired,
		"wrong key":    wrongKey,
		"wrong issuer": wrongIssuer,
		"missing org":  noOrg,
		"garbage":      "not-a-token",
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			id, err := v.Parse(raw)
			assert.Error(t, err)
			assert.False(t, id.IsAuthenticated())
		})
	}
}

func TestMiddleware(t *testing.T) {
	v := NewVerifier("secret", "")
	raw, err := v.Issue("u1", "org1", time.Minute)
	require.NoError(t, err)

	var seen Identity
	h := v.Middleware(zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
	}))

	t.Run("bearer header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+raw)
		h.ServeHTTP(httptest.NewRecorder(), req)
		assert.Equal(t, Authenticated("u1", "org1"), seen)
	})

	t.Run("session cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: SessionCookie, Value: raw})
		h.ServeHTTP(httptest.NewRecorder(), req)
		assert.True(t, seen.IsAuthenticated())
	})

	t.Run("no token", func(t *testing.T) {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, Anonymous, seen)
	})

	t.Run("invalid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer nope")
		h.ServeHTTP(httptest.NewRecorder(), req)
		assert.False(t, seen.IsAuthenticated())
	})
}

func TestUnaryServerInterceptor(t *testing.T) {
	v := NewVerifier("secret", "")
	raw, err := v.Issue("u1", "org1", time.Minute)
	require.NoError(t, err)

	intercept := v.UnaryServerInterceptor(zerolog.Nop())
	info := &grpc.UnaryServerInfo{FullMethod: "/contracts.access.v1/Check"}
	seen := func(ctx context.Context) Identity {
		var got Identity
		_, err := intercept(ctx, nil, info, func(ctx context.Context, _ any) (any, error) {
			got = FromContext(ctx)
			return nil, nil
		})
		require.NoError(t, err)
		return got
	}

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer "+raw))
	id := seen(ctx)
	assert.True(t, id.IsAuthenticated())
	assert.Equal(t, "u1", id.UserID)

	ctx = metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer nope"))
	assert.False(t, seen(ctx).IsAuthenticated())
	assert.False(t, seen(context.Background()).IsAuthenticated())
}
