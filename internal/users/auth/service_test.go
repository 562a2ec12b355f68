// Copyright (c) 2026 Chronicle. All rights reserved.
// Author: m.koidl.dev@gmail.com

package auth

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkoidl/chronicle/internal/changeset"
	"github.com/mkoidl/chronicle/internal/platform/apperr"
	"github.com/mkoidl/chronicle/internal/platform/ctxutil"
	"github.com/mkoidl/chronicle/internal/platform/dberr"
	"github.com/mkoidl/chronicle/internal/platform/sec"
	"github.com/mkoidl/chronicle/pkg/uuidv7"
)

// # In-Memory Fakes

// fakeUserRepository is an in-memory [UserRepository] for service tests.
type fakeUserRepository struct {
	users map[string]*User
}

func newFakeUserRepository() *fakeUserRepository {
	return &fakeUserRepository{users: make(map[string]*User)}
}

func (f *fakeUserRepository) FindByID(_ context.Context, id string) (*User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, dberr.ErrNotFound
	}
	clone := *u
	return &clone, nil
}

func (f *fakeUserRepository) FindByEmail(_ context.Context, email string) (*User, error) {
	for _, u := range f.users {
		if strings.EqualFold(u.Email, email) {
			clone := *u
			return &clone, nil
		}
	}
	return nil, dberr.ErrNotFound
}

func (f *fakeUserRepository) FindByUsername(_ context.Context, username string) (*User, error) {
	for _, u := range f.users {
		if strings.EqualFold(u.Username, username) {
			clone := *u
			return &clone, nil
		}
	}
	return nil, dberr.ErrNotFound
}

func (f *fakeUserRepository) Create(_ context.Context, user *User) error {
	clone := *user
	f.users[user.ID] = &clone
	return nil
}

func (f *fakeUserRepository) Update(_ context.Context, user *User) error {
	if _, ok := f.users[user.ID]; !ok {
		return dberr.ErrNotFound
	}
	clone := *user
	f.users[user.ID] = &clone
	return nil
}

func (f *fakeUserRepository) UpdatePassword(_ context.Context, userID, newHash string) error {
	u, ok := f.users[userID]
	if !ok {
		return dberr.ErrNotFound
	}
	u.PasswordHash = newHash
	return nil
}

// fakeSessionRepository is an in-memory [SessionRepository].
type fakeSessionRepository struct {
	sessions map[string]*Session
}

func newFakeSessionRepository() *fakeSessionRepository {
	return &fakeSessionRepository{sessions: make(map[string]*Session)}
}

func (f *fakeSessionRepository) Create(_ context.Context, session *Session) error {
	clone := *session
	f.sessions[session.ID] = &clone
	return nil
}

func (f *fakeSessionRepository) FindByTokenHash(_ context.Context, tokenHash string) (*Session, error) {
	for _, s := range f.sessions {
		if s.TokenHash == tokenHash && !s.IsRevoked && s.ExpiresAt.After(time.Now()) {
			clone := *s
			return &clone, nil
		}
	}
	return nil, dberr.ErrNotFound
}

func (f *fakeSessionRepository) Revoke(_ context.Context, sessionID string) error {
	if s, ok := f.sessions[sessionID]; ok {
		s.IsRevoked = true
	}
	return nil
}

func (f *fakeSessionRepository) RevokeAll(_ context.Context, userID string) ([]string, error) {
	var tokenHashes []string
	for _, s := range f.sessions {
		if s.UserID == userID && !s.IsRevoked {
			s.IsRevoked = true
			tokenHashes = append(tokenHashes, s.TokenHash)
		}
	}
	return tokenHashes, nil
}

func (f *fakeSessionRepository) DeleteExpired(_ context.Context) error {
	for id, s := range f.sessions {
		if !s.ExpiresAt.After(time.Now()) {
			delete(f.sessions, id)
		}
	}
	return nil
}

func (f *fakeSessionRepository) activeCount(userID string) int {
	count := 0
	for _, s := range f.sessions {
		if s.UserID == userID && !s.IsRevoked {
			count++
		}
	}
	return count
}

// fakeSessionCache is an in-memory [SessionCache].
type fakeSessionCache struct {
	entries map[string]*Session
}

func newFakeSessionCache() *fakeSessionCache {
	return &fakeSessionCache{entries: make(map[string]*Session)}
}

func (f *fakeSessionCache) Get(_ context.Context, tokenHash string) (*Session, error) {
	s, ok := f.entries[tokenHash]
	if !ok {
		return nil, nil
	}
	clone := *s
	return &clone, nil
}

func (f *fakeSessionCache) Set(_ context.Context, session *Session, _ time.Duration) error {
	clone := *session
	f.entries[session.TokenHash] = &clone
	return nil
}

func (f *fakeSessionCache) Delete(_ context.Context, tokenHash string) error {
	delete(f.entries, tokenHash)
	return nil
}

// fakeTokenProvider issues predictable tokens without touching RSA keys.
type fakeTokenProvider struct {
	issued int
}

func (f *fakeTokenProvider) GenerateAccessToken(userID, _, _ string, _ time.Duration) (string, error) {
	f.issued++
	return fmt.Sprintf("access-%s-%d", userID, f.issued), nil
}

// fakeChangeLog is a minimal in-memory [changeset.Repository] capturing what
// the tracker writes.
type fakeChangeLog struct {
	sets    []*changeset.ChangeSet
	records []*changeset.ChangeRecord
}

func (f *fakeChangeLog) CreateChangeSet(_ context.Context, cs *changeset.ChangeSet) error {
	clone := *cs
	clone.Records = nil
	f.sets = append(f.sets, &clone)
	return nil
}

func (f *fakeChangeLog) CreateChangeRecords(_ context.Context, records []*changeset.ChangeRecord) error {
	f.records = append(f.records, records...)
	return nil
}

func (f *fakeChangeLog) GetChangeSet(_ context.Context, _ string) (*changeset.ChangeSet, error) {
	return nil, dberr.ErrNotFound
}

func (f *fakeChangeLog) ListChangeSets(_ context.Context, _ changeset.Filter, _, _ int) ([]*changeset.ChangeSet, int, error) {
	return f.sets, len(f.sets), nil
}

func (f *fakeChangeLog) ListObjectHistory(_ context.Context, _ changeset.ObjectRef, _, _ int) ([]*changeset.ChangeSet, int, error) {
	return nil, 0, nil
}

func (f *fakeChangeLog) CountChangeSets(_ context.Context, ref changeset.ObjectRef) (int, error) {
	count := 0
	for _, cs := range f.sets {
		if cs.Ref() == ref {
			count++
		}
	}
	return count, nil
}

func (f *fakeChangeLog) LatestChangeSet(_ context.Context, ref changeset.ObjectRef, excludeTypes []changeset.ChangeType) (*changeset.ChangeSet, error) {
	var latest *changeset.ChangeSet
	for _, cs := range f.sets {
		if cs.Ref() != ref {
			continue
		}
		excluded := false
		for _, t := range excludeTypes {
			if cs.ChangeType == t {
				excluded = true
			}
		}
		if excluded {
			continue
		}
		if latest == nil || cs.Date.After(latest.Date) {
			latest = cs
		}
	}
	return latest, nil
}

func (f *fakeChangeLog) FirstChangeSet(_ context.Context, _ changeset.ObjectRef, _ changeset.ChangeType) (*changeset.ChangeSet, error) {
	return nil, nil
}

func (f *fakeChangeLog) GetOrCreateChangeRecord(_ context.Context, changeSetID, fieldName string, oldValue, newValue *string) (*changeset.ChangeRecord, bool, error) {
	for _, r := range f.records {
		if r.ChangeSetID == changeSetID && r.FieldName == fieldName && !r.IsRelated {
			return r, false, nil
		}
	}
	record := &changeset.ChangeRecord{
		ID:          uuidv7.New(),
		ChangeSetID: changeSetID,
		FieldName:   fieldName,
		OldValue:    oldValue,
		NewValue:    newValue,
	}
	f.records = append(f.records, record)
	return record, true, nil
}

func (f *fakeChangeLog) UpdateChangeRecordNewValue(_ context.Context, id string, newValue *string) error {
	for _, r := range f.records {
		if r.ID == id {
			r.NewValue = newValue
		}
	}
	return nil
}

func (f *fakeChangeLog) DeleteChangeRecord(_ context.Context, id string) error {
	kept := f.records[:0]
	for _, r := range f.records {
		if r.ID != id {
			kept = append(kept, r)
		}
	}
	f.records = kept
	return nil
}

func (f *fakeChangeLog) CountChangeRecords(_ context.Context, changeSetID string) (int, error) {
	count := 0
	for _, r := range f.records {
		if r.ChangeSetID == changeSetID {
			count++
		}
	}
	return count, nil
}

func (f *fakeChangeLog) TouchChangeSet(_ context.Context, id string, date time.Time) error {
	for _, cs := range f.sets {
		if cs.ID == id {
			cs.Date = date
		}
	}
	return nil
}

func (f *fakeChangeLog) DeleteChangeSet(_ context.Context, id string) error {
	kept := f.sets[:0]
	for _, cs := range f.sets {
		if cs.ID != id {
			kept = append(kept, cs)
		}
	}
	f.sets = kept
	return nil
}

func (f *fakeChangeLog) setsFor(ref changeset.ObjectRef) []*changeset.ChangeSet {
	var sets []*changeset.ChangeSet
	for _, cs := range f.sets {
		if cs.Ref() == ref {
			sets = append(sets, cs)
		}
	}
	return sets
}

// # Test Harness

type authFixture struct {
	service  *Service
	users    *fakeUserRepository
	sessions *fakeSessionRepository
	cache    *fakeSessionCache
	log      *fakeChangeLog
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	registry := changeset.NewRegistry()
	RegisterModels(registry)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	changeLog := &fakeChangeLog{}
	tracker := changeset.NewTracker(registry, changeLog, nil, logger)

	users := newFakeUserRepository()
	sessions := newFakeSessionRepository()
	cache := newFakeSessionCache()

	return &authFixture{
		service:  NewService(users, sessions, cache, &fakeTokenProvider{}, tracker, logger),
		users:    users,
		sessions: sessions,
		cache:    cache,
		log:      changeLog,
	}
}

func (fixture *authFixture) register(t *testing.T, username, email, password string) *User {
	t.Helper()
	user, err := fixture.service.Register(context.Background(), RegisterInput{
		Username: username,
		Email:    email,
		Password: password,
	})
	require.NoError(t, err)
	return user
}

func authedContext(user *User) context.Context {
	return ctxutil.WithAuthUser(context.Background(), &sec.AuthClaims{
		UserID:   user.ID,
		Username: user.Username,
		Role:     string(user.Role),
	})
}

// # Service Tests

/*
TestService_Register verifies enrollment assigns the member role and records
the account's initial revision with no actor.
*/
func TestService_Register(t *testing.T) {
	fixture := newAuthFixture(t)

	user := fixture.register(t, "alice", "alice@example.com", "correct-horse")
	assert.Equal(t, sec.RoleMember, user.Role)
	assert.NotEqual(t, "correct-horse", user.PasswordHash)

	sets := fixture.log.setsFor(changeset.ObjectRef{ObjectType: ObjectTypeAccount, ObjectID: user.ID})
	require.Len(t, sets, 1)
	assert.Equal(t, changeset.TypeInsert, sets[0].ChangeType)
	assert.Nil(t, sets[0].UserID)
}

/*
TestService_Register_Validation verifies weak or malformed input is rejected.
*/
func TestService_Register_Validation(t *testing.T) {
	fixture := newAuthFixture(t)

	tests := []struct {
		name  string
		input RegisterInput
	}{
		{name: "missing username", input: RegisterInput{Email: "a@b.com", Password: "longenough"}},
		{name: "short username", input: RegisterInput{Username: "ab", Email: "a@b.com", Password: "longenough"}},
		{name: "bad email", input: RegisterInput{Username: "alice", Email: "not-an-email", Password: "longenough"}},
		{name: "short password", input: RegisterInput{Username: "alice", Email: "a@b.com", Password: "short"}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := fixture.service.Register(context.Background(), test.input)
			require.Error(t, err)
			assert.Equal(t, "VALIDATION_ERROR", apperr.As(err).Code)
		})
	}
}

/*
TestService_Register_Duplicates verifies identity collisions surface as
conflicts, case-insensitively.
*/
func TestService_Register_Duplicates(t *testing.T) {
	fixture := newAuthFixture(t)
	fixture.register(t, "alice", "alice@example.com", "correct-horse")

	_, err := fixture.service.Register(context.Background(), RegisterInput{
		Username: "somebody", Email: "ALICE@example.com", Password: "longenough",
	})
	require.Error(t, err)
	assert.Equal(t, "CONFLICT", apperr.As(err).Code)

	_, err = fixture.service.Register(context.Background(), RegisterInput{
		Username: "Alice", Email: "other@example.com", Password: "longenough",
	})
	require.Error(t, err)
	assert.Equal(t, "CONFLICT", apperr.As(err).Code)
}

/*
TestService_Login verifies credentials work by username or email and that a
session is persisted and cached.
*/
func TestService_Login(t *testing.T) {
	fixture := newAuthFixture(t)
	user := fixture.register(t, "alice", "alice@example.com", "correct-horse")

	byEmail, err := fixture.service.Login(context.Background(), LoginInput{
		Login: "alice@example.com", Password: "correct-horse",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, byEmail.AccessToken)
	assert.NotEmpty(t, byEmail.RefreshToken)

	byUsername, err := fixture.service.Login(context.Background(), LoginInput{
		Login: "alice", Password: "correct-horse",
	})
	require.NoError(t, err)
	assert.NotEqual(t, byEmail.RefreshToken, byUsername.RefreshToken)

	assert.Equal(t, 2, fixture.sessions.activeCount(user.ID))
	assert.Len(t, fixture.cache.entries, 2)
}

/*
TestService_Login_BadCredentials verifies the same generic error covers an
unknown identity and a wrong password.
*/
func TestService_Login_BadCredentials(t *testing.T) {
	fixture := newAuthFixture(t)
	fixture.register(t, "alice", "alice@example.com", "correct-horse")

	_, err := fixture.service.Login(context.Background(), LoginInput{
		Login: "nobody", Password: "correct-horse",
	})
	require.Error(t, err)
	assert.Equal(t, "UNAUTHORIZED", apperr.As(err).Code)

	_, err = fixture.service.Login(context.Background(), LoginInput{
		Login: "alice", Password: "wrong-password",
	})
	require.Error(t, err)
	assert.Equal(t, "UNAUTHORIZED", apperr.As(err).Code)
}

/*
TestService_RefreshSession verifies token rotation: the new token works and
the consumed one is dead.
*/
func TestService_RefreshSession(t *testing.T) {
	fixture := newAuthFixture(t)
	user := fixture.register(t, "alice", "alice@example.com", "correct-horse")

	session, err := fixture.service.Login(context.Background(), LoginInput{
		Login: "alice", Password: "correct-horse",
	})
	require.NoError(t, err)

	rotated, err := fixture.service.RefreshSession(context.Background(), session.RefreshToken, "ua", "ip")
	require.NoError(t, err)
	assert.NotEqual(t, session.RefreshToken, rotated.RefreshToken)
	assert.Equal(t, user.ID, rotated.User.ID)

	// Replaying the consumed token must fail.
	_, err = fixture.service.RefreshSession(context.Background(), session.RefreshToken, "ua", "ip")
	require.Error(t, err)
	assert.Equal(t, "UNAUTHORIZED", apperr.As(err).Code)

	assert.Equal(t, 1, fixture.sessions.activeCount(user.ID))
}

/*
TestService_Logout verifies the session dies and that logging out twice is
harmless.
*/
func TestService_Logout(t *testing.T) {
	fixture := newAuthFixture(t)
	user := fixture.register(t, "alice", "alice@example.com", "correct-horse")

	session, err := fixture.service.Login(context.Background(), LoginInput{
		Login: "alice", Password: "correct-horse",
	})
	require.NoError(t, err)

	require.NoError(t, fixture.service.Logout(context.Background(), session.RefreshToken))
	assert.Equal(t, 0, fixture.sessions.activeCount(user.ID))
	assert.Empty(t, fixture.cache.entries)

	require.NoError(t, fixture.service.Logout(context.Background(), session.RefreshToken))
	require.NoError(t, fixture.service.Logout(context.Background(), "never-issued"))
}

/*
TestService_UpdateProfile verifies the edit lands in storage and the field
diff lands in the audit log attributed to the caller.
*/
func TestService_UpdateProfile(t *testing.T) {
	fixture := newAuthFixture(t)
	user := fixture.register(t, "alice", "alice@example.com", "correct-horse")

	updated, err := fixture.service.UpdateProfile(authedContext(user), UpdateProfileInput{
		Email:       "alice@new.example.com",
		DisplayName: "Alice A.",
	})
	require.NoError(t, err)
	assert.Equal(t, "alice@new.example.com", updated.Email)

	sets := fixture.log.setsFor(changeset.ObjectRef{ObjectType: ObjectTypeAccount, ObjectID: user.ID})
	require.Len(t, sets, 2)

	update := sets[1]
	assert.Equal(t, changeset.TypeUpdate, update.ChangeType)
	require.NotNil(t, update.UserID)
	assert.Equal(t, user.ID, *update.UserID)

	fields := make(map[string]bool)
	for _, r := range fixture.log.records {
		if r.ChangeSetID == update.ID {
			fields[r.FieldName] = true
		}
	}
	assert.True(t, fields[FieldEmail])
	assert.True(t, fields[FieldDisplayName])
}

/*
TestService_ChangePassword verifies the current password gate and that every
open session is revoked afterwards.
*/
func TestService_ChangePassword(t *testing.T) {
	fixture := newAuthFixture(t)
	user := fixture.register(t, "alice", "alice@example.com", "correct-horse")

	_, err := fixture.service.Login(context.Background(), LoginInput{
		Login: "alice", Password: "correct-horse",
	})
	require.NoError(t, err)

	ctx := authedContext(user)

	err = fixture.service.ChangePassword(ctx, "wrong-password", "new-password-1")
	require.Error(t, err)
	assert.Equal(t, "UNAUTHORIZED", apperr.As(err).Code)

	require.NoError(t, fixture.service.ChangePassword(ctx, "correct-horse", "new-password-1"))
	assert.Equal(t, 0, fixture.sessions.activeCount(user.ID))
	assert.Empty(t, fixture.cache.entries)

	// Old password no longer works, new one does.
	_, err = fixture.service.Login(context.Background(), LoginInput{
		Login: "alice", Password: "correct-horse",
	})
	require.Error(t, err)

	_, err = fixture.service.Login(context.Background(), LoginInput{
		Login: "alice", Password: "new-password-1",
	})
	require.NoError(t, err)
}
