package middleware

import (
	"licensehub/internal/common"
	"licensehub/internal/services"

	"github.com/labstack/echo/v4"
)

// RequireAdmin rejects callers without administrator rights
func RequireAdmin() echo.MiddlewareFunc {
	return requireScope(services.AccessScope.RequireAdmin)
}

// RequireReseller rejects callers that are not resellers
func RequireReseller() echo.MiddlewareFunc {
	return requireScope(services.AccessScope.RequireReseller)
}

func requireScope(check func(services.AccessScope) error) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			caller, ok := common.GetCallerFromContext(c.Request().Context())
			if !ok {
				return common.NewError(common.CodeUnauthorized, "User not authenticated")
			}
			if err := check(services.NewAccessScope(caller)); err != nil {
				return err
			}
			return next(c)
		}
	}
}
