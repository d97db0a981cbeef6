package i18n

import (
	"net/http"

	"github.com/nicksnyder/go-i18n/v2/i18n"
)

// Middleware injects a localizer into every request context. The request's
// Accept-Language header wins over the configured default language.
func Middleware(lang string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var loc *i18n.Localizer
			if accept := r.Header.Get("Accept-Language"); accept != "" {
				loc = i18n.NewLocalizer(bundle, accept, lang)
			} else {
				loc = NewLocalizer(lang)
			}
			ctx := WithLocalizer(r.Context(), loc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
