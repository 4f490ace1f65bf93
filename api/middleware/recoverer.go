package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/angelmondragon/solcoupons-backend/api/responses"
	pkgerrors "github.com/angelmondragon/solcoupons-backend/pkg/errors"
	"github.com/angelmondragon/solcoupons-backend/pkg/logger"
)

const couponPathPrefix = "/api/v1/coupons/"

// Recoverer turns a handler panic into INTERNAL_ERROR. A panic during a coupon
// mutation is logged with the coupon id so the balance can be audited; the
// service's transactions keep the ledger itself consistent.
func Recoverer(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w}
			defer func() {
				p := recover()
				if p == nil {
					return
				}
				if p == http.ErrAbortHandler {
					panic(p)
				}

				err := fmt.Errorf("panic: %v", p)
				ctx := r.Context()
				if logg != nil {
					fields := map[string]any{
						"panic":    p,
						"method":   r.Method,
						"path":     r.URL.Path,
						"mutation": r.Method != http.MethodGet && r.Method != http.MethodHead,
					}
					event := "panic.recovered"
					if id := couponIDFromPath(r.URL.Path); id != "" {
						fields["coupon_id"] = id
						event = "coupon.handler_panic"
					}
					ctx = logg.WithFields(ctx, fields)
					logg.Error(ctx, event, err)
				}

				// Headers already went out; appending an envelope would corrupt the body.
				if rec.status != 0 {
					return
				}
				responses.WriteError(ctx, logg, rec, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "panic"))
			}()
			next.ServeHTTP(rec, r)
		})
	}
}

func couponIDFromPath(path string) string {
	rest, ok := strings.CutPrefix(path, couponPathPrefix)
	if !ok {
		return ""
	}
	id, _, _ := strings.Cut(rest, "/")
	return id
}
