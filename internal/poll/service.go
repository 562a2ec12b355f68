package poll

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mkoidl/chronicle/internal/changeset"
	"github.com/mkoidl/chronicle/internal/platform/apperr"
	"github.com/mkoidl/chronicle/internal/platform/ctxutil"
	"github.com/mkoidl/chronicle/internal/platform/sec"
	"github.com/mkoidl/chronicle/internal/platform/validate"
	"github.com/mkoidl/chronicle/pkg/uuidv7"
)

// Service implements the polls use cases on top of the repository and the
// change-tracking engine.
type Service struct {
	repo    Repository
	tracker *changeset.Tracker
	logger  *slog.Logger
	now     func() time.Time
}

// NewService constructs the polls service.
func NewService(repo Repository, tracker *changeset.Tracker, logger *slog.Logger) *Service {
	return &Service{
		repo:    repo,
		tracker: tracker,
		logger:  logger,
		now:     time.Now,
	}
}

// CreatePollInput is the payload for creating a poll.
type CreatePollInput struct {
	Question string     `json:"question"`
	PubDate  *time.Time `json:"pub_date"`
}

// UpdatePollInput is the payload for editing a poll. Version must carry the
// version the client last read.
type UpdatePollInput struct {
	Question string     `json:"question"`
	PubDate  *time.Time `json:"pub_date"`
	Version  int        `json:"version"`
}

// ChoiceInput is the payload for creating or renaming a choice.
type ChoiceInput struct {
	ChoiceText string `json:"choice_text"`
}

// VoteInput is the payload for casting a vote.
type VoteInput struct {
	ChoiceID string `json:"choice_id"`
}

// # Polls

// ListPolls returns a filtered page of polls. Trashed polls are only
// included for staff callers.
func (service *Service) ListPolls(context context.Context, filter Filter, limit, offset int) ([]*Poll, int, error) {
	if filter.IncludeDeleted && !isStaff(context) {
		filter.IncludeDeleted = false
	}
	return service.repo.ListPolls(context, filter, limit, offset)
}

// GetPoll returns one poll with its choices. Trashed polls are only visible
// to staff.
func (service *Service) GetPoll(context context.Context, id string) (*Poll, error) {
	p, err := service.repo.GetPoll(context, id)
	if err != nil {
		return nil, err
	}
	if p.Deleted && !isStaff(context) {
		return nil, apperr.NotFound("Poll")
	}
	return p, nil
}

// CreatePoll creates a poll and records its initial revision.
func (service *Service) CreatePoll(context context.Context, input CreatePollInput) (*Poll, error) {
	validator := &validate.Validator{}
	validator.Required(FieldQuestion, input.Question).MaxLen(FieldQuestion, input.Question, 200)
	if err := validator.Err(); err != nil {
		return nil, err
	}

	now := service.now().UTC()
	pubDate := now
	if input.PubDate != nil {
		pubDate = input.PubDate.UTC()
	}

	actor := actorPointer(context)
	p := &Poll{
		ID:         uuidv7.New(),
		Question:   input.Question,
		PubDate:    pubDate,
		Version:    1,
		CreatedBy:  actor,
		CreatedAt:  now,
		ModifiedBy: actor,
		ModifiedAt: now,
	}

	if err := service.repo.CreatePoll(context, p); err != nil {
		return nil, err
	}
	if err := service.tracker.RecordInsert(context, ObjectTypePoll, p.ID, p.snapshot()); err != nil {
		return nil, err
	}

	service.logger.Info("poll_created", slog.String("poll_id", p.ID))
	return p, nil
}

// UpdatePoll edits a poll's fields guarded by the optimistic version and
// records the diff.
func (service *Service) UpdatePoll(context context.Context, id string, input UpdatePollInput) (*Poll, error) {
	validator := &validate.Validator{}
	validator.Required(FieldQuestion, input.Question).MaxLen(FieldQuestion, input.Question, 200)
	validator.Custom(FieldVersion, input.Version < 1, "Must carry the version last read")
	if err := validator.Err(); err != nil {
		return nil, err
	}

	existing, err := service.GetPoll(context, id)
	if err != nil {
		return nil, err
	}
	oldSnapshot := existing.snapshot()

	existing.Question = input.Question
	if input.PubDate != nil {
		existing.PubDate = input.PubDate.UTC()
	}
	existing.ModifiedBy = actorPointer(context)
	existing.ModifiedAt = service.now().UTC()

	if err := service.writePoll(context, existing, input.Version); err != nil {
		return nil, err
	}
	if err := service.tracker.RecordUpdate(context, ObjectTypePoll, existing.ID, oldSnapshot, existing.snapshot()); err != nil {
		return nil, err
	}

	service.logger.Info("poll_updated", slog.String("poll_id", existing.ID))
	return existing, nil
}

// SoftDeletePoll flips the trash flag on, recording a soft-delete changeset.
func (service *Service) SoftDeletePoll(context context.Context, id string) (*Poll, error) {
	return service.setDeleted(context, id, true)
}

// RestorePoll flips the trash flag off, recording a restore changeset.
// Staff only, since trashed polls are invisible to everyone else.
func (service *Service) RestorePoll(context context.Context, id string) (*Poll, error) {
	if !isStaff(context) {
		return nil, apperr.Forbidden("Restoring polls is restricted to staff")
	}
	return service.setDeleted(context, id, false)
}

// DeletePoll removes a poll permanently, recording a delete changeset that
// preserves the final field values.
func (service *Service) DeletePoll(context context.Context, id string) error {
	existing, err := service.repo.GetPoll(context, id)
	if err != nil {
		return err
	}

	if err := service.repo.DeletePoll(context, id); err != nil {
		return err
	}
	if err := service.tracker.RecordDelete(context, ObjectTypePoll, id, existing.snapshot()); err != nil {
		return err
	}

	service.logger.Warn("poll_deleted", slog.String("poll_id", id))
	return nil
}

// setDeleted writes the trash flag through the versioned update path.
func (service *Service) setDeleted(context context.Context, id string, deleted bool) (*Poll, error) {
	existing, err := service.repo.GetPoll(context, id)
	if err != nil {
		return nil, err
	}
	if existing.Deleted == deleted {
		return existing, nil
	}
	oldSnapshot := existing.snapshot()

	existing.Deleted = deleted
	existing.ModifiedBy = actorPointer(context)
	existing.ModifiedAt = service.now().UTC()

	if err := service.writePoll(context, existing, existing.Version); err != nil {
		return nil, err
	}
	if err := service.tracker.RecordUpdate(context, ObjectTypePoll, existing.ID, oldSnapshot, existing.snapshot()); err != nil {
		return nil, err
	}

	service.logger.Info("poll_trash_flag_changed",
		slog.String("poll_id", existing.ID), slog.Bool("deleted", deleted))
	return existing, nil
}

// writePoll runs the optimistic update and maps version clashes to a
// client-facing conflict.
func (service *Service) writePoll(context context.Context, p *Poll, expectedVersion int) error {
	err := service.repo.UpdatePoll(context, p, expectedVersion)
	if err == nil {
		return nil
	}
	if changeset.IsConcurrentUpdate(err) {
		return apperr.Conflict(fmt.Sprintf("Poll was modified concurrently, reload version %d and retry", p.Version))
	}
	return err
}

// # Choices

// AddChoice creates a choice and propagates the change onto the poll.
func (service *Service) AddChoice(context context.Context, pollID string, input ChoiceInput) (*Choice, error) {
	validator := &validate.Validator{}
	validator.Required(FieldChoiceText, input.ChoiceText).MaxLen(FieldChoiceText, input.ChoiceText, 200)
	if err := validator.Err(); err != nil {
		return nil, err
	}

	p, err := service.GetPoll(context, pollID)
	if err != nil {
		return nil, err
	}

	now := service.now().UTC()
	c := &Choice{
		ID:         uuidv7.New(),
		PollID:     p.ID,
		ChoiceText: input.ChoiceText,
		CreatedAt:  now,
		ModifiedAt: now,
	}

	if err := service.repo.CreateChoice(context, c); err != nil {
		return nil, err
	}
	if err := service.tracker.RecordInsert(context, ObjectTypeChoice, c.ID, c.snapshot()); err != nil {
		return nil, err
	}
	if err := service.tracker.RecordRelatedChange(context, ObjectTypePoll, p.ID, RelationChoices, c.ID); err != nil {
		return nil, err
	}

	service.logger.Info("choice_created",
		slog.String("poll_id", p.ID), slog.String("choice_id", c.ID))
	return c, nil
}

// UpdateChoice renames a choice and propagates the change onto the poll.
func (service *Service) UpdateChoice(context context.Context, choiceID string, input ChoiceInput) (*Choice, error) {
	validator := &validate.Validator{}
	validator.Required(FieldChoiceText, input.ChoiceText).MaxLen(FieldChoiceText, input.ChoiceText, 200)
	if err := validator.Err(); err != nil {
		return nil, err
	}

	existing, err := service.repo.GetChoice(context, choiceID)
	if err != nil {
		return nil, err
	}
	oldSnapshot := existing.snapshot()

	existing.ChoiceText = input.ChoiceText
	existing.ModifiedAt = service.now().UTC()

	if err := service.repo.UpdateChoice(context, existing); err != nil {
		return nil, err
	}
	if err := service.tracker.RecordUpdate(context, ObjectTypeChoice, existing.ID, oldSnapshot, existing.snapshot()); err != nil {
		return nil, err
	}
	if err := service.tracker.RecordRelatedChange(context, ObjectTypePoll, existing.PollID, RelationChoices, existing.ID); err != nil {
		return nil, err
	}

	service.logger.Info("choice_updated", slog.String("choice_id", existing.ID))
	return existing, nil
}

// DeleteChoice removes a choice and propagates the change onto the poll.
func (service *Service) DeleteChoice(context context.Context, choiceID string) error {
	existing, err := service.repo.GetChoice(context, choiceID)
	if err != nil {
		return err
	}

	if err := service.repo.DeleteChoice(context, choiceID); err != nil {
		return err
	}
	if err := service.tracker.RecordDelete(context, ObjectTypeChoice, choiceID, existing.snapshot()); err != nil {
		return err
	}
	if err := service.tracker.RecordRelatedChange(context, ObjectTypePoll, existing.PollID, RelationChoices, existing.ID); err != nil {
		return err
	}

	service.logger.Warn("choice_deleted", slog.String("choice_id", choiceID))
	return nil
}

// # Votes

// Vote casts the caller's vote on a poll. One vote per user per poll; the
// counter bump is tracked on the choice and propagated onto the poll.
func (service *Service) Vote(context context.Context, pollID string, input VoteInput) (*Choice, error) {
	validator := &validate.Validator{}
	validator.Required(FieldChoiceID, input.ChoiceID).UUID(FieldChoiceID, input.ChoiceID)
	if err := validator.Err(); err != nil {
		return nil, err
	}

	userID := ctxutil.GetAuthUserID(context)
	if userID == "" {
		return nil, apperr.Unauthorized("Authentication required")
	}

	p, err := service.GetPoll(context, pollID)
	if err != nil {
		return nil, err
	}

	voted, err := service.repo.HasVoted(context, p.ID, userID)
	if err != nil {
		return nil, err
	}
	if voted {
		return nil, apperr.Conflict("You already voted on this poll")
	}

	before, err := service.repo.GetChoice(context, input.ChoiceID)
	if err != nil {
		return nil, err
	}
	if before.PollID != p.ID {
		return nil, apperr.Unprocessable("Choice does not belong to this poll")
	}

	vote := &Vote{
		ID:        uuidv7.New(),
		PollID:    p.ID,
		ChoiceID:  before.ID,
		UserID:    userID,
		CreatedAt: service.now().UTC(),
	}

	after, err := service.repo.CreateVote(context, vote)
	if err != nil {
		return nil, err
	}

	if err := service.tracker.RecordUpdate(context, ObjectTypeChoice, after.ID, before.snapshot(), after.snapshot()); err != nil {
		return nil, err
	}
	if err := service.tracker.RecordRelatedChange(context, ObjectTypePoll, p.ID, RelationChoices, after.ID); err != nil {
		return nil, err
	}

	service.logger.Info("vote_cast",
		slog.String("poll_id", p.ID), slog.String("choice_id", after.ID))
	return after, nil
}

// # Helpers

// isStaff reports whether the context user may see and manage trashed polls.
func isStaff(ctx context.Context) bool {
	claims := ctxutil.GetAuthUser(ctx)
	return claims != nil && sec.UserRole(claims.Role).IsStaff()
}

// actorPointer resolves the acting user as a nullable ID.
func actorPointer(ctx context.Context) *string {
	if id := ctxutil.GetAuthUserID(ctx); id != "" {
		return &id
	}
	return nil
}
