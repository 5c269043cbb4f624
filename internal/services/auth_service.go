package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"licensehub/internal/common"
	"licensehub/internal/logs"
	"licensehub/internal/models"
	"licensehub/internal/repositories"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// AdminClaims are the claims carried by operator bearer tokens
type AdminClaims struct {
	AdminID string `json:"adminId"`
	Email   string `json:"email"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

// RequestMeta describes the HTTP client behind an operation
type RequestMeta struct {
	IPAddress *string
	UserAgent *string
}

type LoginResult struct {
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expiresAt"`
	Admin     *models.Admin `json:"admin"`
}

type AuthConfig struct {
	JWTSecret    string
	TokenTTL     time.Duration
	BcryptCost   int
	StoreTimeout time.Duration
}

// AuthService handles operator login, bearer tokens and reseller accounts
type AuthService interface {
	Login(ctx context.Context, email, password string, meta RequestMeta) (*LoginResult, error)
	ParseToken(token string) (*AdminClaims, error)

	// Authenticate resolves claims to a caller; the account must still exist
	Authenticate(ctx context.Context, claims *AdminClaims) (models.CallerIdentity, error)

	CreateReseller(ctx context.Context, caller models.CallerIdentity, email, password, name string) (*models.Admin, error)
	ListResellers(ctx context.Context, caller models.CallerIdentity, page, limit int) ([]*models.Admin, int, error)

	// Bootstrap creates a SUPER_ADMIN unless an account with email exists
	Bootstrap(ctx context.Context, email, password, name string) (*models.Admin, bool, error)

	SigningKey() []byte
}

type authService struct {
	admins   repositories.AdminRepository
	activity ActivitySink
	clock    clockwork.Clock
	cfg      AuthConfig
	log      *logrus.Entry
}

func NewAuthService(admins repositories.AdminRepository, activity ActivitySink, clock clockwork.Clock, cfg AuthConfig, logger logrus.FieldLogger) AuthService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 7 * 24 * time.Hour
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	return &authService{
		admins:   admins,
		activity: activity,
		clock:    clock,
		cfg:      cfg,
		log:      logs.Component(logger, "auth"),
	}
}

// NormalizeEmail lower-cases and trims an account email
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *authService) SigningKey() []byte {
	return []byte(s.cfg.JWTSecret)
}

func (s *authService) Login(ctx context.Context, email, password string, meta RequestMeta) (*LoginResult, error) {
	email = NormalizeEmail(email)
	invalid := common.NewError(common.CodeInvalidCredentials, "Invalid email or password")

	storeCtx, cancel := withStoreTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	admin, err := s.admins.GetByEmail(storeCtx, email)
	if err != nil {
		return nil, storeError("find admin", err)
	}
	if admin == nil {
		return nil, invalid
	}
	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)); err != nil {
		s.log.WithField("email", email).Warn("Failed login attempt")
		return nil, invalid
	}

	token, expiresAt, err := s.issueToken(admin)
	if err != nil {
		return nil, err
	}

	if s.activity != nil {
		entry := &models.ActivityLog{
			AdminID:   admin.ID,
			Action:    models.ActionLogin,
			Details:   models.JSONB{"email": admin.Email},
			IPAddress: meta.IPAddress,
			UserAgent: meta.UserAgent,
			CreatedAt: s.clock.Now().UTC(),
		}
		if err := s.activity.Record(context.WithoutCancel(ctx), entry); err != nil {
			s.log.WithError(err).WithField("admin_id", admin.ID).Error("Failed to record login activity")
		}
	}

	s.log.WithFields(logrus.Fields{"admin_id": admin.ID, "role": admin.Role}).Info("Admin logged in")
	return &LoginResult{Token: token, ExpiresAt: expiresAt, Admin: admin}, nil
}

func (s *authService) issueToken(admin *models.Admin) (string, time.Time, error) {
	now := s.clock.Now()
	expiresAt := now.Add(s.cfg.TokenTTL)

	claims := &AdminClaims{
		AdminID: admin.ID.String(),
		Email:   admin.Email,
		Role:    string(admin.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   admin.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.SigningKey())
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

func (s *authService) ParseToken(tokenString string) (*AdminClaims, error) {
	claims := &AdminClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return s.SigningKey(), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.clock.Now))
	if err != nil {
		return nil, common.WrapError(common.CodeUnauthorized, "Invalid or expired token", err)
	}
	return claims, nil
}

func (s *authService) Authenticate(ctx context.Context, claims *AdminClaims) (models.CallerIdentity, error) {
	unauthorized := common.NewError(common.CodeUnauthorized, "Admin not found")
	if claims == nil {
		return models.CallerIdentity{}, unauthorized
	}
	id, err := uuid.Parse(claims.AdminID)
	if err != nil {
		return models.CallerIdentity{}, unauthorized
	}

	ctx, cancel := withStoreTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	admin, err := s.admins.GetByID(ctx, id)
	if err != nil {
		return models.CallerIdentity{}, storeError("find admin", err)
	}
	if admin == nil {
		return models.CallerIdentity{}, unauthorized
	}
	return admin.Identity(), nil
}

func (s *authService) hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

func (s *authService) createAccount(ctx context.Context, email, password, name string, role models.Role) (*models.Admin, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, common.NewError(common.CodeInvalidField, "Email and password are required")
	}

	storeCtx, cancel := withStoreTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	existing, err := s.admins.GetByEmail(storeCtx, email)
	if err != nil {
		return nil, storeError("find admin", err)
	}
	if existing != nil {
		return nil, common.NewError(common.CodeEmailExists, "Email already exists")
	}

	hash, err := s.hashPassword(password)
	if err != nil {
		return nil, err
	}

	admin := &models.Admin{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: hash,
		Name:         common.OptionalString(name),
		Role:         role,
		CreatedAt:    s.clock.Now().UTC(),
	}
	if err := s.admins.Create(storeCtx, admin); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			return nil, common.WrapError(common.CodeEmailExists, "Email already exists", err)
		}
		return nil, storeError("create admin", err)
	}
	return admin, nil
}

func (s *authService) CreateReseller(ctx context.Context, caller models.CallerIdentity, email, password, name string) (*models.Admin, error) {
	if err := NewAccessScope(caller).RequireAdmin(); err != nil {
		return nil, err
	}

	reseller, err := s.createAccount(ctx, email, password, name, models.RoleReseller)
	if err != nil {
		return nil, err
	}

	if s.activity != nil {
		entry := &models.ActivityLog{
			AdminID: caller.ID,
			Action:  models.ActionCreateReseller,
			Details: models.JSONB{
				"resellerId": reseller.ID.String(),
				"email":      reseller.Email,
				"name":       common.SafeString(reseller.Name),
			},
			CreatedAt: s.clock.Now().UTC(),
		}
		if err := s.activity.Record(context.WithoutCancel(ctx), entry); err != nil {
			s.log.WithError(err).WithField("admin_id", caller.ID).Error("Failed to record reseller creation")
		}
	}

	s.log.WithFields(logrus.Fields{"reseller_id": reseller.ID, "issuer": caller.Email}).Info("Reseller created")
	return reseller, nil
}

func (s *authService) ListResellers(ctx context.Context, caller models.CallerIdentity, page, limit int) ([]*models.Admin, int, error) {
	if err := NewAccessScope(caller).RequireAdmin(); err != nil {
		return nil, 0, err
	}
	if page < 1 {
		page = 1
	}

	ctx, cancel := withStoreTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	resellers, total, err := s.admins.ListByRole(ctx, models.RoleReseller, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, storeError("list resellers", err)
	}
	return resellers, total, nil
}

func (s *authService) Bootstrap(ctx context.Context, email, password, name string) (*models.Admin, bool, error) {
	admin, err := s.createAccount(ctx, email, password, name, models.RoleSuperAdmin)
	if common.IsCode(err, common.CodeEmailExists) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	s.log.WithField("admin_id", admin.ID).Info("Bootstrap super admin created")
	return admin, true, nil
}
