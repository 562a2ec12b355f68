// Copyright (c) 2026 Chronicle. All rights reserved.
// Author: m.koidl.dev@gmail.com

/*
Package auth implements the user identity and session management layer.

It defines the core domain entities (User, Session) and logic for
authentication, authorization, and account lifecycle. Profile edits are
tracked in the audit log like any other model, so "who renamed this account
and when" is answerable from the same change history as everything else.
*/
package auth

import (
	"time"

	"github.com/mkoidl/chronicle/internal/changeset"
	"github.com/mkoidl/chronicle/internal/platform/sec"
)

// ObjectType identifier under which accounts are registered for tracking.
const ObjectTypeAccount = "users.account"

// Refresh token entropy in bytes before hex encoding.
const RefreshTokenLength = 32

// # Domain Entities

// User represents a registered member of the Chronicle platform.
type User struct {
	ID           string       `json:"id"`
	Username     string       `json:"username"`
	Email        string       `json:"email"`
	PasswordHash string       `json:"-"` // Explicitly omitted from JSON for security.
	DisplayName  string       `json:"display_name"`
	Role         sec.UserRole `json:"role"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// snapshot captures the tracked profile fields of the account. Credentials
// are never tracked.
func (u *User) snapshot() changeset.Snapshot {
	return changeset.Snapshot{
		"username":     u.Username,
		"email":        u.Email,
		"display_name": u.DisplayName,
		"role":         string(u.Role),
	}
}

// Session represents an active refresh-token session.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	TokenHash string    `json:"-"` // Hashed value of the refresh token. Omitted for security.
	UserAgent string    `json:"user_agent"`
	IPAddress string    `json:"ip_address"`
	ExpiresAt time.Time `json:"expires_at"`
	IsRevoked bool      `json:"is_revoked"`
	CreatedAt time.Time `json:"created_at"`
}

// # Field Identifiers

// Global field names for validation and identity mapping in the
// authentication domain.
const (
	FieldUsername        = "username"
	FieldEmail           = "email"
	FieldPassword        = "password"
	FieldDisplayName     = "display_name"
	FieldLogin           = "login"
	FieldCurrentPassword = "current_password"
	FieldNewPassword     = "new_password"
)

// RegisterModels declares the account model in the tracking registry.
// Called once during wiring.
func RegisterModels(registry *changeset.Registry) {
	registry.MustRegister(changeset.ModelConfig{
		ObjectType:  ObjectTypeAccount,
		TrackFields: []string{"username", "email", "display_name", "role"},
		Fields: map[string]changeset.FieldDescriptor{
			"display_name": {Name: "display_name", Label: "Display name"},
			"role": {Name: "role", Label: "Role", Choices: map[string]string{
				string(sec.RoleAdmin):   "Administrator",
				string(sec.RoleAuditor): "Auditor",
				string(sec.RoleMember):  "Member",
			}},
		},
	})
}
