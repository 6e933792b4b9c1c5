package identity

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// SessionCookie is read when no Authorization header is present, so that
// browser routes carry the same identity as API callers.
const SessionCookie = "session_token"

// Claims is the token payload issued by the session service.
type Claims struct {
	UserID         string `json:"user_id"`
	OrganisationID string `json:"organisation_id"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 session tokens.
type Verifier struct {
	secret []byte
	issuer string
}

// NewVerifier creates a verifier. An empty issuer disables the issuer check.
func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer}
}

// Parse validates raw and returns the identity it carries.
func (v *Verifier) Parse(raw string) (Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return Anonymous, fmt.Errorf("parse session token: %w", err)
	}
	if claims.UserID == "" || claims.OrganisationID == "" {
		return Anonymous, fmt.Errorf("session token missing user or organisation")
	}
	return Authenticated(claims.UserID, claims.OrganisationID), nil
}

// Issue signs a token for the given caller.
func (v *Verifier) Issue(userID, organisationID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:         userID,
		OrganisationID: organisationID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Middleware resolves the caller for every request. A missing or invalid
// token yields Anonymous; the access layer decides what that means.
func (v *Verifier) Middleware(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			id := Anonymous
			if raw != "" {
				parsed, err := v.Parse(raw)
				if err != nil {
					log.Debug().Err(err).Str("path", r.URL.Path).Msg("rejected session token")
				} else {
					id = parsed
				}
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// UnaryServerInterceptor resolves the caller from the "authorization"
// metadata of incoming gRPC calls, falling back to Anonymous like Middleware.
func (v *Verifier) UnaryServerInterceptor(log zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		id := Anonymous
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get("authorization"); len(vals) > 0 {
				if raw := parseBearer(vals[0]); raw != "" {
					parsed, err := v.Parse(raw)
					if err != nil {
						log.Debug().Err(err).Str("method", info.FullMethod).Msg("rejected session token")
					} else {
						id = parsed
					}
				}
			}
		}
		return next(WithIdentity(ctx, id), req)
	}
}

func parseBearer(h string) string {
	scheme, token, ok := strings.Cut(h, " ")
	if ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return ""
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		return parseBearer(h)
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}
