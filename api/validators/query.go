package validators

import (
	"net/http"
	"strings"

	pkgerrors "github.com/angelmondragon/solcoupons-backend/pkg/errors"
)

// RequireQueryString returns the trimmed query value for key or a validation
// error when it is missing or longer than maxLen.
func RequireQueryString(r *http.Request, key string, maxLen int) (string, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, key+" query parameter is required").WithDetails(map[string]string{key: "is required"})
	}
	if maxLen > 0 && len(raw) > maxLen {
		return "", pkgerrors.New(pkgerrors.CodeValidation, key+" query parameter is too long").WithDetails(map[string]any{key: "too long", "max": maxLen})
	}
	return raw, nil
}
