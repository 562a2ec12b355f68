// Copyright (c) 2026 Chronicle. All rights reserved.
// Author: m.koidl.dev@gmail.com

package ctxutil_test

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mkoidl/chronicle/internal/platform/ctxutil"
	"github.com/mkoidl/chronicle/internal/platform/sec"
)

/*
TestContext_RequestID verifies that Request IDs can be injected and retrieved.
*/
func TestContext_RequestID(t *testing.T) {
	ctx := context.Background()
	requestID := "test-request-id"

	// 1. Initially should be empty
	assert.Empty(t, ctxutil.GetRequestID(ctx))

	// 2. Inject and retrieve
	ctx = ctxutil.WithRequestID(ctx, requestID)
	assert.Equal(t, requestID, ctxutil.GetRequestID(ctx))
}

/*
TestContext_Logger verifies that a custom logger can be stored in context.
*/
func TestContext_Logger(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// 1. Initially should return the default logger
	assert.Equal(t, slog.Default(), ctxutil.GetLogger(ctx))

	// 2. Inject and retrieve
	ctx = ctxutil.WithLogger(ctx, logger)
	assert.Equal(t, logger, ctxutil.GetLogger(ctx))
}

/*
TestContext_AuthUser verifies that AuthClaims can be stored in context.
*/
func TestContext_AuthUser(t *testing.T) {
	ctx := context.Background()
	claims := &sec.AuthClaims{
		UserID: "user-123",
		Role:   "admin",
	}

	// 1. Initially should be nil
	assert.Nil(t, ctxutil.GetAuthUser(ctx))
	assert.Empty(t, ctxutil.GetAuthUserID(ctx))

	// 2. Inject and retrieve
	ctx = ctxutil.WithAuthUser(ctx, claims)
	retrieved := ctxutil.GetAuthUser(ctx)

	assert.NotNil(t, retrieved)
	assert.Equal(t, "user-123", retrieved.UserID)
	assert.Equal(t, "admin", retrieved.Role)
	assert.Equal(t, "user-123", ctxutil.GetAuthUserID(ctx))
}

/*
TestContext_TrackingSwitches verifies the changeset recording flags.
*/
func TestContext_TrackingSwitches(t *testing.T) {
	ctx := context.Background()

	// 1. Tracking defaults to enabled
	assert.True(t, ctxutil.IsTrackingEnabled(ctx))
	assert.True(t, ctxutil.IsRelatedTrackingEnabled(ctx))

	// 2. Disabling tracking does not touch the related switch
	disabled := ctxutil.WithTrackingDisabled(ctx)
	assert.False(t, ctxutil.IsTrackingEnabled(disabled))
	assert.True(t, ctxutil.IsRelatedTrackingEnabled(disabled))

	// 3. Disabling related propagation does not touch the main switch
	relatedOff := ctxutil.WithRelatedTrackingDisabled(ctx)
	assert.True(t, ctxutil.IsTrackingEnabled(relatedOff))
	assert.False(t, ctxutil.IsRelatedTrackingEnabled(relatedOff))

	// 4. The original context stays enabled
	assert.True(t, ctxutil.IsTrackingEnabled(ctx))
}
