// Copyright (c) 2026 Chronicle. All rights reserved.
// Author: m.koidl.dev@gmail.com

package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mkoidl/chronicle/internal/changeset"
	"github.com/mkoidl/chronicle/internal/platform/apperr"
	"github.com/mkoidl/chronicle/internal/platform/constants"
	"github.com/mkoidl/chronicle/internal/platform/ctxutil"
	"github.com/mkoidl/chronicle/internal/platform/sec"
	"github.com/mkoidl/chronicle/internal/platform/validate"
	"github.com/mkoidl/chronicle/pkg/uuidv7"
)

// # Contracts & Types

// TokenProvider defines the contract for generating security tokens.
type TokenProvider interface {
	// GenerateAccessToken creates a signed JWT string for the given user.
	GenerateAccessToken(userID, username, role string, timeToLive time.Duration) (string, error)
}

// Service implements user authentication use cases.
//
// # Review Process
//
// This service is critical for security. Any changes to hashing, registration,
// or login logic must be reviewed carefully.
type Service struct {
	userRepository    UserRepository
	sessionRepository SessionRepository
	sessionCache      SessionCache
	tokenProvider     TokenProvider
	tracker           *changeset.Tracker
	logger            *slog.Logger
}

// NewService constructs the authentication service. The session cache may be
// nil, in which case every refresh hits the primary database.
func NewService(
	userRepo UserRepository,
	sessionRepo SessionRepository,
	sessionCache SessionCache,
	tokenProv TokenProvider,
	tracker *changeset.Tracker,
	logger *slog.Logger,
) *Service {
	return &Service{
		userRepository:    userRepo,
		sessionRepository: sessionRepo,
		sessionCache:      sessionCache,
		tokenProvider:     tokenProv,
		tracker:           tracker,
		logger:            logger,
	}
}

// # Registration Flow

// RegisterInput holds the data required to enroll a new member.
type RegisterInput struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

/*
Register validates, hashes, and persists a brand new user account.

Description: Enrolls a new member, hashes the password, and records the
account's initial revision in the audit log. The revision carries a NULL
actor because no authenticated user exists at registration time.

Parameters:
  - context: context.Context
  - input: RegisterInput

Returns:
  - *User: Created entity
  - error: Conflict (if identity exists) or storage errors
*/
func (service *Service) Register(context context.Context, input RegisterInput) (*User, error) {
	validator := &validate.Validator{}
	validator.Required(FieldUsername, input.Username).MinLen(FieldUsername, input.Username, 3).MaxLen(FieldUsername, input.Username, 30)
	validator.Required(FieldEmail, input.Email).Email(FieldEmail, input.Email)
	validator.Required(FieldPassword, input.Password).MinLen(FieldPassword, input.Password, 8)
	validator.MaxLen(FieldDisplayName, input.DisplayName, 100)
	if err := validator.Err(); err != nil {
		return nil, err
	}

	// Verify email uniqueness. Return a client-safe Conflict error.
	_, err := service.userRepository.FindByEmail(context, input.Email)
	if err == nil {
		return nil, apperr.Conflict("Email is already registered")
	}

	// Verify username uniqueness. Return a client-safe Conflict error.
	_, err = service.userRepository.FindByUsername(context, input.Username)
	if err == nil {
		return nil, apperr.Conflict("Username is already taken")
	}

	hashedPassword, err := sec.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("auth_service_hash_failed: %w", err)
	}

	now := time.Now().UTC()
	user := &User{
		ID:           uuidv7.New(),
		Username:     input.Username,
		Email:        input.Email,
		PasswordHash: hashedPassword,
		DisplayName:  input.DisplayName,
		Role:         sec.RoleMember,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := service.userRepository.Create(context, user); err != nil {
		return nil, fmt.Errorf("auth_service_register_failed: %w", err)
	}

	// Initial revision for the fresh account.
	if err := service.tracker.RecordInsert(context, ObjectTypeAccount, user.ID, user.snapshot()); err != nil {
		return nil, err
	}

	service.logger.Info("user_registered", slog.String("user_id", user.ID))
	return user, nil
}

// # Authentication Flow

// LoginInput defines credentials for an authentication attempt.
type LoginInput struct {
	Login     string // Can be Username or Email
	Password  string
	UserAgent string
	IPAddress string
}

// LoginSession represents a successfully established user session.
type LoginSession struct {
	AccessToken           string
	RefreshToken          string
	RefreshTokenExpiresAt time.Time
	User                  *User
}

/*
Login validates user credentials and issues security tokens.

Description: Verifies identity, performs constant-time password comparison,
and initializes a new session with a rotated refresh token.

Parameters:
  - context: context.Context
  - input: LoginInput

Returns:
  - *LoginSession: Transport-ready session identifiers
  - error: Unauthorized or internal failures
*/
func (service *Service) Login(context context.Context, input LoginInput) (*LoginSession, error) {

	// Flexible login: look up by Email or Username
	user, err := service.userRepository.FindByEmail(context, input.Login)
	if err != nil {
		user, err = service.userRepository.FindByUsername(context, input.Login)
	}

	// Generic message to prevent account enumeration.
	if err != nil {
		return nil, apperr.Unauthorized("Invalid login credentials")
	}

	if !sec.CheckPasswordHash(input.Password, user.PasswordHash) {
		return nil, apperr.Unauthorized("Invalid login credentials")
	}

	return service.openSession(context, user, input.UserAgent, input.IPAddress)
}

/*
Logout permanently revokes the caller's active session.

Description: Ensures that a tracked refresh token can never be used again.
Logout is idempotent: an unknown token is treated as already logged out.

Parameters:
  - context: context.Context
  - refreshToken: string

Returns:
  - error: Revocation failures
*/
func (service *Service) Logout(context context.Context, refreshToken string) error {
	tokenHash := sec.HashToken(refreshToken)

	session, err := service.lookupSession(context, tokenHash)
	if err != nil || session == nil {
		return nil
	}

	if err := service.sessionRepository.Revoke(context, session.ID); err != nil {
		return fmt.Errorf("auth_service_logout_failed: %w", err)
	}
	service.evictSession(context, tokenHash)

	return nil
}

// # Session Management

/*
RefreshSession implements the Refresh Token Rotation mechanism.

Description: Verifies the existing refresh token, revokes it to prevent reuse
(replay attack mitigation), and issues a fresh pair of rotated tokens.

Parameters:
  - context: context.Context
  - refreshToken: string
  - userAgent: string
  - ipAddress: string

Returns:
  - *LoginSession: New session credentials
  - error: Unauthorized or storage failures
*/
func (service *Service) RefreshSession(context context.Context, refreshToken, userAgent, ipAddress string) (*LoginSession, error) {
	tokenHash := sec.HashToken(refreshToken)

	session, err := service.lookupSession(context, tokenHash)
	if err != nil || session == nil {
		return nil, apperr.Unauthorized("Invalid or expired refresh token")
	}

	// Rotation: revoke the old session to prevent replay attacks.
	if err := service.sessionRepository.Revoke(context, session.ID); err != nil {
		return nil, fmt.Errorf("auth_service_refresh_revoke_failed: %w", err)
	}
	service.evictSession(context, tokenHash)

	user, err := service.userRepository.FindByID(context, session.UserID)
	if err != nil {
		return nil, apperr.Unauthorized("User not found or suspended")
	}

	return service.openSession(context, user, userAgent, ipAddress)
}

// openSession issues a fresh token pair and persists the tracking session.
func (service *Service) openSession(context context.Context, user *User, userAgent, ipAddress string) (*LoginSession, error) {
	accessToken, err := service.tokenProvider.GenerateAccessToken(
		user.ID, user.Username, string(user.Role), constants.AccessTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("auth_service_token_generation_failed: %w", err)
	}

	refreshToken, err := sec.GenerateSecureToken(RefreshTokenLength)
	if err != nil {
		return nil, fmt.Errorf("auth_service_refresh_token_failed: %w", err)
	}

	expiresAt := time.Now().Add(constants.RefreshTokenTTL)
	session := &Session{
		ID:        uuidv7.New(),
		UserID:    user.ID,
		TokenHash: sec.HashToken(refreshToken),
		UserAgent: userAgent,
		IPAddress: ipAddress,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}

	if err := service.sessionRepository.Create(context, session); err != nil {
		return nil, fmt.Errorf("auth_service_session_creation_failed: %w", err)
	}

	if service.sessionCache != nil {
		if err := service.sessionCache.Set(context, session, constants.RefreshTokenTTL); err != nil {
			service.logger.Warn("session_cache_set_failed", slog.Any("error", err))
		}
	}

	return &LoginSession{
		AccessToken:           accessToken,
		RefreshToken:          refreshToken,
		RefreshTokenExpiresAt: expiresAt,
		User:                  user,
	}, nil
}

// lookupSession resolves a session by token hash, cache first.
func (service *Service) lookupSession(context context.Context, tokenHash string) (*Session, error) {
	if service.sessionCache != nil {
		session, err := service.sessionCache.Get(context, tokenHash)
		if err != nil {
			service.logger.Warn("session_cache_get_failed", slog.Any("error", err))
		} else if session != nil {
			// Expiry is enforced here too; cached entries may outlive a
			// shorter database expiry after clock adjustments.
			if session.IsRevoked || time.Now().After(session.ExpiresAt) {
				return nil, nil
			}
			return session, nil
		}
	}

	session, err := service.sessionRepository.FindByTokenHash(context, tokenHash)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// evictSession drops a cached session, logging failures.
func (service *Service) evictSession(context context.Context, tokenHash string) {
	if service.sessionCache == nil {
		return
	}
	if err := service.sessionCache.Delete(context, tokenHash); err != nil {
		service.logger.Warn("session_cache_delete_failed", slog.Any("error", err))
	}
}

// # Profile

// UpdateProfileInput holds the editable profile fields.
type UpdateProfileInput struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

/*
Me returns the account of the authenticated caller.
*/
func (service *Service) Me(context context.Context) (*User, error) {
	userID := ctxutil.GetAuthUserID(context)
	if userID == "" {
		return nil, apperr.Unauthorized("Authentication required")
	}
	return service.userRepository.FindByID(context, userID)
}

/*
UpdateProfile edits the caller's profile fields and records the diff in the
audit log.

Parameters:
  - context: context.Context
  - input: UpdateProfileInput

Returns:
  - *User: Updated entity
  - error: Validation, conflict or storage errors
*/
func (service *Service) UpdateProfile(context context.Context, input UpdateProfileInput) (*User, error) {
	validator := &validate.Validator{}
	validator.Required(FieldEmail, input.Email).Email(FieldEmail, input.Email)
	validator.MaxLen(FieldDisplayName, input.DisplayName, 100)
	if err := validator.Err(); err != nil {
		return nil, err
	}

	user, err := service.Me(context)
	if err != nil {
		return nil, err
	}
	oldSnapshot := user.snapshot()

	user.Email = input.Email
	user.DisplayName = input.DisplayName
	user.UpdatedAt = time.Now().UTC()

	if err := service.userRepository.Update(context, user); err != nil {
		return nil, err
	}
	if err := service.tracker.RecordUpdate(context, ObjectTypeAccount, user.ID, oldSnapshot, user.snapshot()); err != nil {
		return nil, err
	}

	service.logger.Info("profile_updated", slog.String("user_id", user.ID))
	return user, nil
}

/*
ChangePassword allows an authenticated user to update their credentials.

Description: Verifies the current password, writes the new hash, and revokes
every active session so stolen refresh tokens die with the old password.

Parameters:
  - context: context.Context
  - currentPassword: string
  - newPassword: string

Returns:
  - error: Unauthorized or storage failures
*/
func (service *Service) ChangePassword(context context.Context, currentPassword, newPassword string) error {
	validator := &validate.Validator{}
	validator.Required(FieldNewPassword, newPassword).MinLen(FieldNewPassword, newPassword, 8)
	if err := validator.Err(); err != nil {
		return err
	}

	user, err := service.Me(context)
	if err != nil {
		return err
	}

	if !sec.CheckPasswordHash(currentPassword, user.PasswordHash) {
		return apperr.Unauthorized("Current password is incorrect")
	}

	hashedPassword, err := sec.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("auth_service_change_password_hash_failed: %w", err)
	}

	if err := service.userRepository.UpdatePassword(context, user.ID, hashedPassword); err != nil {
		return fmt.Errorf("auth_service_change_password_update_failed: %w", err)
	}

	// Security cleanup: force re-login everywhere, including cached sessions.
	tokenHashes, err := service.sessionRepository.RevokeAll(context, user.ID)
	if err != nil {
		service.logger.Warn("session_revoke_all_failed", slog.Any("error", err))
	}
	for _, tokenHash := range tokenHashes {
		service.evictSession(context, tokenHash)
	}

	service.logger.Info("password_changed", slog.String("user_id", user.ID))
	return nil
}
