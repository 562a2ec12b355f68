package poll

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mkoidl/chronicle/internal/platform/middleware"
	requestutil "github.com/mkoidl/chronicle/internal/platform/request"
	"github.com/mkoidl/chronicle/internal/platform/respond"
	"github.com/mkoidl/chronicle/internal/platform/sec"
	"github.com/mkoidl/chronicle/pkg/convert"
	"github.com/mkoidl/chronicle/pkg/pagination"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (handler *Handler) RegisterRoutes(router chi.Router) {
	// Public
	router.Get("/", handler.listPolls)
	router.Get("/{id}", handler.getPoll)

	// Authenticated
	router.Group(func(authRoute chi.Router) {
		authRoute.Use(middleware.RequireAuth)

		authRoute.Post("/", handler.createPoll)
		authRoute.Patch("/{id}", handler.updatePoll)
		authRoute.Delete("/{id}", handler.softDeletePoll)
		authRoute.Post("/{id}/vote", handler.vote)

		authRoute.Post("/{id}/choices", handler.addChoice)
		authRoute.Patch("/choices/{choiceID}", handler.updateChoice)
		authRoute.Delete("/choices/{choiceID}", handler.deleteChoice)

		// Staff can restore from trash; hard deletion is admin only.
		authRoute.With(middleware.RequireRole(sec.RoleAuditor)).Post("/{id}/restore", handler.restorePoll)
		authRoute.With(middleware.RequireRole(sec.RoleAdmin)).Delete("/{id}/purge", handler.purgePoll)
	})
}

func (handler *Handler) listPolls(writer http.ResponseWriter, request *http.Request) {
	paginationParams := pagination.FromRequest(request)
	params := request.URL.Query()

	filter := Filter{
		Query:          params.Get("q"),
		IncludeDeleted: convert.ToBool(params.Get("include_deleted")),
	}

	// "mine" narrows the list by the caller's footprint in the audit log.
	if claims := requestutil.Claims(request); claims != nil {
		switch params.Get("mine") {
		case "created":
			filter.CreatedByUserID = claims.UserID
		case "modified":
			filter.ModifiedByUserID = claims.UserID
		}
	}

	polls, total, err := handler.service.ListPolls(request.Context(), filter, paginationParams.Limit, paginationParams.Offset())
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.Paginated(writer, polls, pagination.NewMeta(paginationParams.Page, paginationParams.Limit, total))
}

func (handler *Handler) getPoll(writer http.ResponseWriter, request *http.Request) {
	p, err := handler.service.GetPoll(request.Context(), requestutil.Param(request, "id"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, p)
}

func (handler *Handler) createPoll(writer http.ResponseWriter, request *http.Request) {
	var input CreatePollInput
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	p, err := handler.service.CreatePoll(request.Context(), input)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.Created(writer, p)
}

func (handler *Handler) updatePoll(writer http.ResponseWriter, request *http.Request) {
	var input UpdatePollInput
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	p, err := handler.service.UpdatePoll(request.Context(), requestutil.Param(request, "id"), input)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, p)
}

func (handler *Handler) softDeletePoll(writer http.ResponseWriter, request *http.Request) {
	p, err := handler.service.SoftDeletePoll(request.Context(), requestutil.Param(request, "id"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, p)
}

func (handler *Handler) restorePoll(writer http.ResponseWriter, request *http.Request) {
	p, err := handler.service.RestorePoll(request.Context(), requestutil.Param(request, "id"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, p)
}

func (handler *Handler) purgePoll(writer http.ResponseWriter, request *http.Request) {
	if err := handler.service.DeletePoll(request.Context(), requestutil.Param(request, "id")); err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.NoContent(writer)
}

func (handler *Handler) addChoice(writer http.ResponseWriter, request *http.Request) {
	var input ChoiceInput
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	c, err := handler.service.AddChoice(request.Context(), requestutil.Param(request, "id"), input)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.Created(writer, c)
}

func (handler *Handler) updateChoice(writer http.ResponseWriter, request *http.Request) {
	var input ChoiceInput
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	c, err := handler.service.UpdateChoice(request.Context(), requestutil.Param(request, "choiceID"), input)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, c)
}

func (handler *Handler) deleteChoice(writer http.ResponseWriter, request *http.Request) {
	if err := handler.service.DeleteChoice(request.Context(), requestutil.Param(request, "choiceID")); err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.NoContent(writer)
}

func (handler *Handler) vote(writer http.ResponseWriter, request *http.Request) {
	var input VoteInput
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, err)
		return
	}

	c, err := handler.service.Vote(request.Context(), requestutil.Param(request, "id"), input)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.Created(writer, c)
}
