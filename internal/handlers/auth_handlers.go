package handlers

import (
	"net/http"

	"licensehub/internal/services"

	"github.com/labstack/echo/v4"
)

// AuthHandlers handles operator login and reseller accounts
type AuthHandlers struct {
	authService services.AuthService
	limits      PageLimits
}

func NewAuthHandlers(authService services.AuthService, limits PageLimits) *AuthHandlers {
	return &AuthHandlers{authService: authService, limits: limits}
}

// LoginRequest represents the login request payload
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Success bool `json:"success"`
	*services.LoginResult
}

// Login handles POST /api/admin/auth/login
func (h *AuthHandlers) Login(c echo.Context) error {
	var req LoginRequest
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}

	result, err := h.authService.Login(c.Request().Context(), req.Email, req.Password, requestMeta(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, loginResponse{Success: true, LoginResult: result})
}

type CreateResellerRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	Name     string `json:"name" validate:"required"`
}

// CreateReseller handles POST /api/admin/reseller/create
func (h *AuthHandlers) CreateReseller(c echo.Context) error {
	caller, err := callerFrom(c)
	if err != nil {
		return err
	}

	var req CreateResellerRequest
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}

	reseller, err := h.authService.CreateReseller(c.Request().Context(), caller, req.Email, req.Password, req.Name)
	if err != nil {
		return err
	}
	return sendData(c, http.StatusCreated, reseller)
}

// ListResellers handles GET /api/admin/resellers
func (h *AuthHandlers) ListResellers(c echo.Context) error {
	caller, err := callerFrom(c)
	if err != nil {
		return err
	}
	page, limit := h.limits.parse(c)

	resellers, total, err := h.authService.ListResellers(c.Request().Context(), caller, page, limit)
	if err != nil {
		return err
	}
	return sendList(c, resellers, total, page, limit)
}
