// Copyright (c) 2026 Chronicle. All rights reserved.
// Author: m.koidl.dev@gmail.com

// Package ctxutil provides helpers for interacting with values stored in [context.Context].
package ctxutil

import (
	"context"
	"log/slog"

	"github.com/mkoidl/chronicle/internal/platform/ctxkey"
	"github.com/mkoidl/chronicle/internal/platform/sec"
)

// # Request Tracing

// WithRequestID returns a new context with the provided request ID attached.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxkey.KeyRequestID, id)
}

// GetRequestID retrieves the request ID from the context.
// Returns an empty string if not found.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxkey.KeyRequestID).(string)
	return id
}

// # Structured Logging

// WithLogger returns a new context with the provided logger attached.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxkey.KeyLogger, logger)
}

// GetLogger retrieves the logger from the context.
// If no logger is found, it returns the global default logger.
func GetLogger(ctx context.Context) *slog.Logger {
	logger, ok := ctx.Value(ctxkey.KeyLogger).(*slog.Logger)
	if !ok {
		return slog.Default()
	}
	return logger
}

// # Identity & Access

// WithAuthUser returns a new context with the provided auth claims attached.
func WithAuthUser(ctx context.Context, user *sec.AuthClaims) context.Context {
	return context.WithValue(ctx, ctxkey.KeyUser, user)
}

// GetAuthUser retrieves the [*sec.AuthClaims] from the [context.Context].
func GetAuthUser(ctx context.Context) *sec.AuthClaims {
	claims, ok := ctx.Value(ctxkey.KeyUser).(*sec.AuthClaims)
	if !ok {
		return nil
	}
	return claims
}

// GetAuthUserID returns the ID of the context user, or "" when anonymous.
func GetAuthUserID(ctx context.Context) string {
	if claims := GetAuthUser(ctx); claims != nil {
		return claims.UserID
	}
	return ""
}

// # Change Tracking Switches
//
// The tracking engine consults these flags before recording anything. They are
// the context-scoped equivalent of a process-wide on/off switch: disabling
// tracking on a context only affects work derived from that context.

// WithTrackingDisabled returns a context in which all changeset recording is off.
func WithTrackingDisabled(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxkey.KeyTrackingDisabled, true)
}

// IsTrackingEnabled reports whether changeset recording is active for this context.
func IsTrackingEnabled(ctx context.Context) bool {
	disabled, _ := ctx.Value(ctxkey.KeyTrackingDisabled).(bool)
	return !disabled
}

// WithRelatedTrackingDisabled returns a context in which child-to-parent
// related-change propagation is off. Direct field tracking is unaffected.
func WithRelatedTrackingDisabled(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxkey.KeyRelatedTrackingDisabled, true)
}

// IsRelatedTrackingEnabled reports whether related-change propagation is active.
func IsRelatedTrackingEnabled(ctx context.Context) bool {
	disabled, _ := ctx.Value(ctxkey.KeyRelatedTrackingDisabled).(bool)
	return !disabled
}
