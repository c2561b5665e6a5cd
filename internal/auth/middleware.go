package auth

import (
	"crypto/subtle"

	"github.com/tech-arch1tect/berth-archiver/internal/audit"
	"github.com/tech-arch1tect/berth-archiver/internal/common"
	"github.com/tech-arch1tect/berth-archiver/internal/logging"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// TokenMiddleware requires a bearer token equal to accessToken. Failures
// are written to the audit log when auditor is enabled.
func TokenMiddleware(accessToken string, logger *logging.Logger, auditor *audit.Service) echo.MiddlewareFunc {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	reject := func(c echo.Context, reason string) {
		logging.SetAuthFailure(c, reason)
		logger.Warn("authentication failed",
			zap.String("auth_status", logging.AuthStatusFailed),
			zap.String("source_ip", c.RealIP()),
			zap.String("reason", reason))
		if auditor != nil {
			auditor.LogAuthEvent(audit.EventAuthFailure, c.RealIP(), false, reason)
		}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if accessToken == "" {
				reject(c, "Access token not configured")
				return common.SendInternalError(c, "Access token not configured")
			}

			header := c.Request().Header.Get("Authorization")
			if header == "" {
				reject(c, "Authorization header required")
				return common.SendUnauthorized(c, "Authorization header required")
			}

			token := logging.ExtractBearerToken(header)
			if token == "" {
				reject(c, "Bearer token required")
				return common.SendUnauthorized(c, "Bearer token required")
			}

			if subtle.ConstantTimeCompare([]byte(token), []byte(accessToken)) != 1 {
				reject(c, "Invalid token")
				return common.SendUnauthorized(c, "Invalid token")
			}

			logging.SetAuthSuccess(c, token)
			logger.Debug("authentication successful",
				zap.String("source_ip", c.RealIP()),
				zap.String("token_hash", logging.HashToken(token)))
			return next(c)
		}
	}
}
