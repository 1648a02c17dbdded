package rpc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"

	"luxmarket/crypto"
)

const tokenLeeway = 2 * time.Minute

var (
	errMissingBearer  = errors.New("missing bearer token")
	errAuthDisabled   = errors.New("bearer authentication not configured")
	errSubjectMissing = errors.New("token subject required")
)

// tokenVerifier checks HMAC-signed bearer tokens. The subject claim carries
// the account the bearer acts as.
type tokenVerifier struct {
	secret   []byte
	issuer   string
	audience string
}

func newTokenVerifier(secret, issuer, audience string) *tokenVerifier {
	return &tokenVerifier{
		secret:   []byte(strings.TrimSpace(secret)),
		issuer:   strings.TrimSpace(issuer),
		audience: strings.TrimSpace(audience),
	}
}

func (v *tokenVerifier) enabled() bool {
	return v != nil && len(v.secret) > 0
}

// account validates the Authorization header and returns the token subject.
func (v *tokenVerifier) account(header string) (common.Address, error) {
	if !v.enabled() {
		return common.Address{}, errAuthDisabled
	}
	tokenString := extractBearer(header)
	if tokenString == "" {
		return common.Address{}, errMissingBearer
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
		jwt.WithLeeway(tokenLeeway),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return common.Address{}, err
	}
	if !token.Valid {
		return common.Address{}, errors.New("token invalid")
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return common.Address{}, errSubjectMissing
	}
	addr, err := crypto.ParseAddress(subject)
	if err != nil {
		return common.Address{}, fmt.Errorf("token subject: %w", err)
	}
	return addr, nil
}

func extractBearer(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

type adminKey struct{}

// requireAdmin authenticates the bearer before an admin handler runs. The
// node still checks the admin role of the token subject.
func (s *Server) requireAdmin(next handlerFunc) handlerFunc {
	return func(r *http.Request, req *RPCRequest) (interface{}, error) {
		account, err := s.tokens.account(r.Header.Get("Authorization"))
		if err != nil {
			return nil, newRPCError(http.StatusUnauthorized, codeUnauthorized, "unauthorized", err.Error())
		}
		return next(r.WithContext(withAccount(r.Context(), account)), req)
	}
}

// submitter resolves the account submitting a trading call. Without a claimed
// caller, or when it equals the wallet, the wallet's own signature suffices.
// A distinct caller must prove itself with a bearer token for that account.
func (s *Server) submitter(r *http.Request, wallet common.Address, claimed string) (common.Address, error) {
	if strings.TrimSpace(claimed) == "" {
		return wallet, nil
	}
	caller, err := parseAddress("caller", claimed)
	if err != nil {
		return common.Address{}, err
	}
	if caller == wallet {
		return wallet, nil
	}
	account, err := s.tokens.account(r.Header.Get("Authorization"))
	if err != nil {
		return common.Address{}, newRPCError(http.StatusUnauthorized, codeUnauthorized, "caller authentication required", err.Error())
	}
	if account != caller {
		return common.Address{}, newRPCError(http.StatusUnauthorized, codeUnauthorized, "token subject does not match caller", nil)
	}
	return caller, nil
}

func withAccount(ctx context.Context, account common.Address) context.Context {
	return context.WithValue(ctx, adminKey{}, account)
}

// adminAccount returns the authenticated admin of the request.
func adminAccount(r *http.Request) (common.Address, error) {
	account, ok := r.Context().Value(adminKey{}).(common.Address)
	if !ok {
		return common.Address{}, newRPCError(http.StatusUnauthorized, codeUnauthorized, "unauthorized", nil)
	}
	return account, nil
}
