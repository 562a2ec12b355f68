package changeset

import (
	"context"
	"log/slog"

	"github.com/mkoidl/chronicle/internal/platform/apperr"
	"github.com/mkoidl/chronicle/internal/platform/ctxutil"
	"github.com/mkoidl/chronicle/internal/platform/sec"
	"github.com/mkoidl/chronicle/internal/platform/validate"
)

// Service exposes the read side of the change log: browsing changesets,
// object histories and provenance summaries.
type Service struct {
	repo     Repository
	registry *Registry
	logger   *slog.Logger
}

// NewService constructs the changeset query service.
func NewService(repo Repository, registry *Registry, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		registry: registry,
		logger:   logger,
	}
}

// ListChangeSets returns a filtered page of changesets, newest first.
//
// Non-staff callers may only browse their own footprint: the user filter is
// forced to the caller's ID. Staff (auditor and up) browse freely.
func (service *Service) ListChangeSets(context context.Context, filter Filter, limit, offset int) ([]*ChangeSet, int, error) {
	validator := &validate.Validator{}
	if filter.ObjectType != "" {
		validator.ObjectType(FieldObjectType, filter.ObjectType)
	}
	if filter.UserID != "" {
		validator.UUID(FieldUserID, filter.UserID)
	}
	for _, t := range filter.Types {
		validator.OneOf(FieldType, string(t),
			string(TypeInsert), string(TypeUpdate), string(TypeDelete),
			string(TypeSoftDelete), string(TypeRestore))
	}
	if err := validator.Err(); err != nil {
		return nil, 0, err
	}

	claims := ctxutil.GetAuthUser(context)
	if claims == nil {
		return nil, 0, apperr.Unauthorized("Authentication required")
	}
	if !sec.UserRole(claims.Role).IsStaff() {
		if filter.UserID != "" && filter.UserID != claims.UserID {
			return nil, 0, apperr.Forbidden("You may only browse your own changesets")
		}
		filter.UserID = claims.UserID
	}

	return service.repo.ListChangeSets(context, filter, limit, offset)
}

// GetChangeSet returns one changeset with its records decorated for display.
//
// Non-staff callers may only read changesets they authored.
func (service *Service) GetChangeSet(context context.Context, id string) (*ChangeSet, error) {
	validator := &validate.Validator{}
	validator.UUID("id", id)
	if err := validator.Err(); err != nil {
		return nil, err
	}

	cs, err := service.repo.GetChangeSet(context, id)
	if err != nil {
		return nil, err
	}

	claims := ctxutil.GetAuthUser(context)
	if claims == nil {
		return nil, apperr.Unauthorized("Authentication required")
	}
	if !sec.UserRole(claims.Role).IsStaff() {
		if cs.UserID == nil || *cs.UserID != claims.UserID {
			return nil, apperr.Forbidden("You may only read your own changesets")
		}
	}

	service.registry.Decorate(cs)
	return cs, nil
}

// ListObjectHistory returns the full edit history of one object, newest
// first, with records decorated for display. Staff only.
func (service *Service) ListObjectHistory(context context.Context, ref ObjectRef, limit, offset int) ([]*ChangeSet, int, error) {
	validator := &validate.Validator{}
	validator.ObjectType(FieldObjectType, ref.ObjectType)
	validator.Required(FieldObjectID, ref.ObjectID)
	if err := validator.Err(); err != nil {
		return nil, 0, err
	}

	claims := ctxutil.GetAuthUser(context)
	if claims == nil {
		return nil, 0, apperr.Unauthorized("Authentication required")
	}
	if !sec.UserRole(claims.Role).IsStaff() {
		return nil, 0, apperr.Forbidden("Object histories are restricted to staff")
	}

	sets, total, err := service.repo.ListObjectHistory(context, ref, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	for _, cs := range sets {
		service.registry.Decorate(cs)
	}
	return sets, total, nil
}

// ObjectProvenance derives the authorship summary of one object from its
// change log: creator from the insert changeset, last modifier from the most
// recent changeset of any type. Staff only, like the history it derives from.
func (service *Service) ObjectProvenance(context context.Context, ref ObjectRef) (*Provenance, error) {
	validator := &validate.Validator{}
	validator.ObjectType(FieldObjectType, ref.ObjectType)
	validator.Required(FieldObjectID, ref.ObjectID)
	if err := validator.Err(); err != nil {
		return nil, err
	}

	claims := ctxutil.GetAuthUser(context)
	if claims == nil {
		return nil, apperr.Unauthorized("Authentication required")
	}
	if !sec.UserRole(claims.Role).IsStaff() {
		return nil, apperr.Forbidden("Object provenance is restricted to staff")
	}

	first, err := service.repo.FirstChangeSet(context, ref, TypeInsert)
	if err != nil {
		return nil, err
	}
	latest, err := service.repo.LatestChangeSet(context, ref, nil)
	if err != nil {
		return nil, err
	}
	if first == nil && latest == nil {
		return nil, apperr.NotFound("Object history")
	}

	provenance := &Provenance{}
	if first != nil {
		provenance.CreatedBy = first.UserID
		createdAt := first.Date
		provenance.CreatedAt = &createdAt
	}
	if latest != nil {
		provenance.LastModifiedBy = latest.UserID
		modifiedAt := latest.Date
		provenance.LastModifiedAt = &modifiedAt
	}
	return provenance, nil
}

// ObjectTypes lists the registered trackable object types.
func (service *Service) ObjectTypes() []string {
	return service.registry.ObjectTypes()
}
