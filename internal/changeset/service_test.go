package changeset

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkoidl/chronicle/internal/platform/apperr"
	"github.com/mkoidl/chronicle/internal/platform/ctxutil"
	"github.com/mkoidl/chronicle/internal/platform/sec"
	"github.com/mkoidl/chronicle/pkg/pointer"
	"github.com/mkoidl/chronicle/pkg/uuidv7"
)

// # Service Harness

func newServiceFixture(t *testing.T) (*Service, *fakeRepository) {
	t.Helper()

	registry := NewRegistry()
	registry.MustRegister(ModelConfig{
		ObjectType:  "polls.poll",
		TrackFields: []string{"question"},
	})

	repo := &fakeRepository{}
	return NewService(repo, registry, discardLogger()), repo
}

func staffContext(userID string) context.Context {
	return ctxutil.WithAuthUser(context.Background(), &sec.AuthClaims{
		UserID: userID,
		Role:   string(sec.RoleAuditor),
	})
}

// seedHistory plants an insert and a later update changeset for one object.
func seedHistory(repo *fakeRepository, ref ObjectRef, creator, modifier string) {
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	repo.sets = append(repo.sets,
		&ChangeSet{
			ID:         uuidv7.New(),
			ChangeType: TypeInsert,
			Date:       base,
			UserID:     pointer.To(creator),
			ObjectType: ref.ObjectType,
			ObjectID:   ref.ObjectID,
		},
		&ChangeSet{
			ID:         uuidv7.New(),
			ChangeType: TypeUpdate,
			Date:       base.Add(time.Hour),
			UserID:     pointer.To(modifier),
			ObjectType: ref.ObjectType,
			ObjectID:   ref.ObjectID,
		},
	)
}

// # Access Control Tests

/*
TestService_ObjectProvenance_StaffOnly verifies the provenance endpoint is
gated exactly like object history: members are refused, staff read the
derived authorship.
*/
func TestService_ObjectProvenance_StaffOnly(t *testing.T) {
	service, repo := newServiceFixture(t)
	ref := ObjectRef{ObjectType: "polls.poll", ObjectID: "42"}
	seedHistory(repo, ref, "author-1", "editor-2")

	_, err := service.ObjectProvenance(authedContext("user-1"), ref)
	require.Error(t, err)
	assert.Equal(t, "FORBIDDEN", apperr.As(err).Code)

	_, err = service.ObjectProvenance(context.Background(), ref)
	require.Error(t, err)
	assert.Equal(t, "UNAUTHORIZED", apperr.As(err).Code)

	provenance, err := service.ObjectProvenance(staffContext("auditor-1"), ref)
	require.NoError(t, err)
	require.NotNil(t, provenance.CreatedBy)
	assert.Equal(t, "author-1", *provenance.CreatedBy)
	require.NotNil(t, provenance.LastModifiedBy)
	assert.Equal(t, "editor-2", *provenance.LastModifiedBy)
}

/*
TestService_ListObjectHistory_StaffOnly verifies the same gate on full object
histories.
*/
func TestService_ListObjectHistory_StaffOnly(t *testing.T) {
	service, repo := newServiceFixture(t)
	ref := ObjectRef{ObjectType: "polls.poll", ObjectID: "42"}
	seedHistory(repo, ref, "author-1", "editor-2")

	_, _, err := service.ListObjectHistory(authedContext("user-1"), ref, 20, 0)
	require.Error(t, err)
	assert.Equal(t, "FORBIDDEN", apperr.As(err).Code)

	sets, total, err := service.ListObjectHistory(staffContext("auditor-1"), ref, 20, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, sets, 2)
}
