package auth

import (
	"net/http"
	"time"
)

// RefreshCookieName is the cookie carrying the refresh token
const RefreshCookieName = "refresh_token"

// CookieConfig holds cookie configuration settings
type CookieConfig struct {
	Domain string // Empty string = current host only
	Secure bool   // HTTPS only, set in production
	Path   string // Scope of the cookie, the portal auth prefix
}

// SetRefreshTokenCookie sets the refresh token in an httpOnly, SameSite=Strict cookie
// that lives exactly as long as the refresh token.
func SetRefreshTokenCookie(w http.ResponseWriter, refreshToken string, expiresAt, now time.Time, config CookieConfig) {
	maxAge := int(expiresAt.Sub(now).Seconds())
	if maxAge < 1 {
		ClearRefreshTokenCookie(w, config)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    refreshToken,
		Path:     cookiePath(config),
		Domain:   config.Domain,
		Expires:  expiresAt,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearRefreshTokenCookie clears the refresh token cookie
func ClearRefreshTokenCookie(w http.ResponseWriter, config CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Path:     cookiePath(config),
		Domain:   config.Domain,
		MaxAge:   -1, // Negative MaxAge deletes the cookie
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// GetRefreshTokenCookie retrieves the refresh token from cookies
func GetRefreshTokenCookie(r *http.Request) (string, error) {
	cookie, err := r.Cookie(RefreshCookieName)
	if err != nil {
		return "", err
	}
	return cookie.Value, nil
}

func cookiePath(config CookieConfig) string {
	if config.Path == "" {
		return "/"
	}
	return config.Path
}
