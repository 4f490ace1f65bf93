package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/angelmondragon/solcoupons-backend/pkg/logger"
)

type contextKey string

const ctxOwnerWallet contextKey = "owner_wallet"

// maxPeekBytes bounds how much of a body the middleware buffers. Larger bodies
// are left for the handler's decoder to reject.
const maxPeekBytes = 64 << 10

// OwnerWalletFromContext returns the wallet the request acts for, if known.
func OwnerWalletFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxOwnerWallet).(string); ok {
		return v
	}
	return ""
}

// WithOwnerWallet injects the owner wallet into the context.
func WithOwnerWallet(ctx context.Context, owner string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxOwnerWallet, owner)
}

// OwnerScope resolves the acting owner wallet from the "owner" query parameter
// or the "owner_wallet" body field and attaches it to the context and logger.
func OwnerScope(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			owner := strings.TrimSpace(r.URL.Query().Get("owner"))
			if owner == "" && r.Body != nil && r.Method != http.MethodGet {
				body, err := peekBody(r)
				if err == nil {
					owner = extractOwnerWallet(body)
				}
			}
			if owner == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := WithOwnerWallet(r.Context(), owner)
			if logg != nil {
				ctx = logg.WithOwnerWallet(ctx, owner)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// peekBody returns up to maxPeekBytes of the body and rewinds it so the next
// reader sees the full stream.
func peekBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	peeked, err := io.ReadAll(io.LimitReader(r.Body, maxPeekBytes+1))
	r.Body = readCloser{Reader: io.MultiReader(bytes.NewReader(peeked), r.Body), Closer: r.Body}
	if err != nil {
		return nil, err
	}
	return peeked, nil
}

type readCloser struct {
	io.Reader
	io.Closer
}

func extractOwnerWallet(payload []byte) string {
	var body struct {
		OwnerWallet string `json:"owner_wallet"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return ""
	}
	return strings.TrimSpace(body.OwnerWallet)
}
