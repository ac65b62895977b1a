package httpapi

import (
	"strings"

	"github.com/dmitrijs2005/kycflow/internal/common"
	"github.com/dmitrijs2005/kycflow/internal/server/auth"
	"github.com/labstack/echo/v4"
)

const userIDKey = "userID"

// bearerAuth accepts requests carrying a valid collaborator JWT and stores
// its user id on the echo context.
func (s *HTTPServer) bearerAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get(common.AuthorizationHeaderName)
		token, ok := strings.CutPrefix(header, common.BearerPrefix)
		if !ok || token == "" {
			return s.writeError(c, common.ErrorUnauthorized)
		}

		userID, err := auth.GetUserIDFromToken(token, s.jwtSecret)
		if err != nil {
			s.logger.Debug(c.Request().Context(), "rejected bearer token", "error", err)
			return s.writeError(c, common.ErrInvalidToken)
		}

		c.Set(userIDKey, userID)
		return next(c)
	}
}

func userID(c echo.Context) string {
	id, _ := c.Get(userIDKey).(string)
	return id
}
