package app

import (
	"context"
	"errors"
	"strings"

	"github.com/ilbertt/ic-fortune-wheel/internal/domain"
	"github.com/ilbertt/ic-fortune-wheel/internal/store"
	"github.com/ilbertt/ic-fortune-wheel/pkg/profileclient"
)

// AccessControl checks callers against their operator profile.
type AccessControl struct {
	users store.UserRepository
}

func NewAccessControl(users store.UserRepository) *AccessControl {
	return &AccessControl{users: users}
}

func (a *AccessControl) AssertNotAnonymous(principal string) error {
	if domain.IsAnonymousPrincipal(principal) {
		return domain.Unauthenticated("Anonymous principals are not allowed")
	}
	return nil
}

// AssertHasRole returns the caller's profile when it holds one of roles. A caller without
// a profile is Unauthorized.
func (a *AccessControl) AssertHasRole(ctx context.Context, principal string, roles ...domain.UserRole) (*domain.UserProfile, error) {
	if err := a.AssertNotAnonymous(principal); err != nil {
		return nil, err
	}
	user, err := a.users.FindUserByPrincipal(ctx, strings.TrimSpace(principal))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.Unauthorized("Principal %s has no user profile", principal)
		}
		return nil, err
	}
	if !user.HasRole(roles...) {
		return nil, domain.Unauthorized("Principal %s is not allowed to perform this action", principal)
	}
	return user, nil
}

func (a *AccessControl) AssertAdmin(ctx context.Context, principal string) (*domain.UserProfile, error) {
	return a.AssertHasRole(ctx, principal, domain.RoleAdmin)
}

func (a *AccessControl) AssertAdminOrScanner(ctx context.Context, principal string) (*domain.UserProfile, error) {
	return a.AssertHasRole(ctx, principal, domain.RoleAdmin, domain.RoleScanner)
}

// ProfileServiceUsers adapts the profile service client to store.UserRepository.
type ProfileServiceUsers struct {
	client *profileclient.Client
}

func NewProfileServiceUsers(client *profileclient.Client) *ProfileServiceUsers {
	return &ProfileServiceUsers{client: client}
}

func (p *ProfileServiceUsers) FindUserByPrincipal(ctx context.Context, principal string) (*domain.UserProfile, error) {
	profile, err := p.client.GetUserByPrincipal(ctx, principal)
	if err != nil {
		if errors.Is(err, profileclient.ErrUserNotFound) {
			return nil, domain.NotFound("User profile not found for principal %s", principal)
		}
		return nil, domain.External("profile service: %v", err)
	}
	role := domain.UserRole(strings.ToLower(strings.TrimSpace(profile.Role)))
	switch role {
	case domain.RoleAdmin, domain.RoleScanner:
	default:
		role = domain.RoleUnassigned
	}
	return &domain.UserProfile{
		ID:        profile.ID,
		Principal: profile.PrincipalID,
		Username:  profile.Username,
		Role:      role,
	}, nil
}
