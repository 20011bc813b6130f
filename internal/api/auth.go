package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	perrors "github.com/dpup/prefab/errors"
	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc/codes"
)

type contextKey string

const userIDKey contextKey = "user_id"

// UserIDHeader carries the caller identity when header identity is allowed.
const UserIDHeader = "X-User-ID"

var (
	errUnauthenticated = perrors.NewC("authentication required", codes.Unauthenticated)
	errMissingSubject  = errors.New("token has no subject")
)

// Authenticator verifies HS256 bearer tokens issued by the account system.
// The token subject is the user id.
type Authenticator struct {
	secret      []byte
	issuer      string
	allowHeader bool
}

// NewAuthenticator creates an Authenticator. An empty issuer accepts any.
func NewAuthenticator(secret, issuer string, allowHeaderIdentity bool) *Authenticator {
	return &Authenticator{
		secret:      []byte(secret),
		issuer:      issuer,
		allowHeader: allowHeaderIdentity,
	}
}

// Issue signs a token for userID. Used by tooling and tests.
func (a *Authenticator) Issue(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Verify parses token and returns its subject.
func (a *Authenticator) Verify(token string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errMissingSubject
	}
	return claims.Subject, nil
}

// Middleware resolves the caller and rejects anonymous requests. Browsers
// cannot set headers on websocket upgrades, so an access_token query
// parameter is accepted too.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ""
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			token = strings.TrimPrefix(auth, "Bearer ")
		}
		if token == "" {
			token = r.URL.Query().Get("access_token")
		}

		var userID string
		switch {
		case token != "" && len(a.secret) > 0:
			sub, err := a.Verify(token)
			if err != nil {
				writeError(r.Context(), w, perrors.NewC("invalid token: "+err.Error(), codes.Unauthenticated))
				return
			}
			userID = sub
		case a.allowHeader && r.Header.Get(UserIDHeader) != "":
			userID = r.Header.Get(UserIDHeader)
		default:
			writeError(r.Context(), w, errUnauthenticated)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserID returns the authenticated caller of a request context.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}
