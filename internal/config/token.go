package config

import (
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenExpiry reports the exp claim of a JWT access token without verifying
// its signature. ok is false for opaque tokens or tokens without an expiry.
func TokenExpiry(token string) (exp time.Time, ok bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	date, err := claims.GetExpirationTime()
	if err != nil || date == nil {
		return time.Time{}, false
	}
	return date.Time, true
}

// CheckAccessToken logs the expiry of the default credential and warns when
// it has already lapsed. The token is still used either way; the controller
// has the final say.
func (c *Config) CheckAccessToken(logger *slog.Logger, now time.Time) {
	if c.AccessToken == "" {
		logger.Info("no default access token configured")
		return
	}

	exp, ok := TokenExpiry(c.AccessToken)
	if !ok {
		logger.Debug("default access token has no readable expiry")
		return
	}

	if now.After(exp) {
		logger.Warn("default access token has expired", slog.Time("expired_at", exp))
		return
	}
	logger.Info("default access token configured", slog.Time("expires_at", exp))
}
