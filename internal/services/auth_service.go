package services

import (
	"context"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/orgstore/orgstore/internal/auth"
	"github.com/orgstore/orgstore/internal/db/models"
	"github.com/orgstore/orgstore/internal/telemetry"
)

// TokenTypeBearer is the token_type returned by Login.
const TokenTypeBearer = "bearer"

// LoginResult carries the issued token. The remaining fields identify the
// caller for auditing and are not serialized.
type LoginResult struct {
	Token        string `json:"token"`
	TokenType    string `json:"token_type"`
	AdminID      string `json:"-"`
	Organization string `json:"-"`
	StorageKey   string `json:"-"`
}

// Principal is an authenticated admin.
type Principal struct {
	AdminID primitive.ObjectID
	Email   string
	// TokenOrganization is the organization named in the token when it was issued.
	TokenOrganization string
	// CurrentOrganization is the admin's back-reference as stored now.
	CurrentOrganization string
	StorageKey          string
}

// CanManage reports whether the principal may modify any of targets. The
// stored back-reference wins over the claim, so a token follows its holder
// through a rename and does not keep authority over a name it has released.
func (p *Principal) CanManage(targets ...string) bool {
	owned := p.effectiveOrganization()
	if owned == "" {
		return false
	}
	for _, target := range targets {
		if target == "" {
			continue
		}
		if models.SameName(target, owned) {
			return true
		}
	}
	return false
}

// Organizations returns the organization names the principal acts for.
func (p *Principal) Organizations() []string {
	if owned := p.effectiveOrganization(); owned != "" {
		return []string{owned}
	}
	return nil
}

func (p *Principal) effectiveOrganization() string {
	if p.CurrentOrganization != "" {
		return p.CurrentOrganization
	}
	return p.TokenOrganization
}

// AuthService issues and checks admin tokens.
type AuthService struct {
	orgs   OrganizationStore
	admins AdminStore
	tokens *auth.TokenService
}

// NewAuthService creates an auth service.
func NewAuthService(stores Stores, tokens *auth.TokenService) *AuthService {
	return &AuthService{orgs: stores.Organizations, admins: stores.Admins, tokens: tokens}
}

// Login exchanges admin credentials for a bearer token. Unknown emails and
// wrong passwords fail identically.
func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	admin, err := s.admins.GetByEmail(ctx, email)
	if err != nil {
		telemetry.LoginAttemptsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if admin == nil {
		auth.BurnVerify(password)
		telemetry.LoginAttemptsTotal.WithLabelValues("invalid_credentials").Inc()
		return nil, fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
	}
	if !auth.VerifyPassword(password, admin.PasswordHash) {
		telemetry.LoginAttemptsTotal.WithLabelValues("invalid_credentials").Inc()
		return nil, fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
	}

	org, err := s.orgs.FindByName(ctx, admin.OrganizationName)
	if err != nil {
		telemetry.LoginAttemptsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if org == nil {
		telemetry.LoginAttemptsTotal.WithLabelValues("error").Inc()
		slog.Error("admin references a missing organization",
			"admin_id", admin.ID.Hex(), "organization", admin.OrganizationName)
		return nil, ErrOrgMetadataMissing
	}

	token, err := s.tokens.Issue(admin.ID.Hex(), org.Name, org.StorageKey)
	if err != nil {
		telemetry.LoginAttemptsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	telemetry.LoginAttemptsTotal.WithLabelValues("success").Inc()
	return &LoginResult{
		Token:        token,
		TokenType:    TokenTypeBearer,
		AdminID:      admin.ID.Hex(),
		Organization: org.Name,
		StorageKey:   org.StorageKey,
	}, nil
}

// Authenticate validates a bearer token and loads the admin it was issued to.
// The admin is re-read so that deleted admins are rejected immediately.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*Principal, error) {
	claims, err := s.tokens.Validate(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	id, err := primitive.ObjectIDFromHex(claims.AdminID)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed admin id", ErrUnauthorized)
	}
	admin, err := s.admins.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if admin == nil {
		return nil, fmt.Errorf("%w: admin no longer exists", ErrUnauthorized)
	}
	return &Principal{
		AdminID:             admin.ID,
		Email:               admin.Email,
		TokenOrganization:   claims.OrganizationName,
		CurrentOrganization: admin.OrganizationName,
		StorageKey:          claims.StorageKey,
	}, nil
}

// Authorize returns ErrForbidden unless p may modify one of targets.
func Authorize(p *Principal, targets ...string) error {
	if p != nil && p.CanManage(targets...) {
		return nil
	}
	return fmt.Errorf("%w: not authorized for this organization", ErrForbidden)
}
