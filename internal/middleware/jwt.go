package middleware

import (
	"licensehub/internal/common"
	"licensehub/internal/services"

	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
)

const claimsKey = "admin_claims"

// JWTAuth validates the bearer token and puts the caller identity on the
// request context. The account behind the token must still exist.
func JWTAuth(auth services.AuthService) echo.MiddlewareFunc {
	parse := echojwt.WithConfig(echojwt.Config{
		ContextKey: claimsKey,
		ParseTokenFunc: func(c echo.Context, token string) (interface{}, error) {
			return auth.ParseToken(token)
		},
		ErrorHandler: func(c echo.Context, err error) error {
			if common.IsCode(err, common.CodeUnauthorized) {
				return err
			}
			return common.WrapError(common.CodeUnauthorized, "Missing or malformed token", err)
		},
	})

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return parse(func(c echo.Context) error {
			claims, _ := c.Get(claimsKey).(*services.AdminClaims)
			caller, err := auth.Authenticate(c.Request().Context(), claims)
			if err != nil {
				return err
			}

			c.SetRequest(c.Request().WithContext(common.WithCaller(c.Request().Context(), caller)))
			return next(c)
		})
	}
}
