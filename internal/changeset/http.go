package changeset

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mkoidl/chronicle/internal/platform/middleware"
	requestutil "github.com/mkoidl/chronicle/internal/platform/request"
	"github.com/mkoidl/chronicle/internal/platform/respond"
	"github.com/mkoidl/chronicle/pkg/pagination"
	"github.com/mkoidl/chronicle/pkg/query"
	"github.com/mkoidl/chronicle/pkg/slice"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the changeset browsing endpoints. Everything here
// requires authentication; per-row ownership is enforced in the service.
func (handler *Handler) RegisterRoutes(router chi.Router) {
	router.Use(middleware.RequireAuth)

	router.Get("/", handler.listChangeSets)
	router.Get("/types", handler.listObjectTypes)
	router.Get("/{id}", handler.getChangeSet)
}

// RegisterObjectRoutes mounts the per-object history endpoints under
// /objects/{type}/{id}.
func (handler *Handler) RegisterObjectRoutes(router chi.Router) {
	router.Use(middleware.RequireAuth)

	router.Get("/{type}/{id}/history", handler.listObjectHistory)
	router.Get("/{type}/{id}/provenance", handler.getObjectProvenance)
}

func (handler *Handler) listChangeSets(writer http.ResponseWriter, request *http.Request) {
	paginationParams := pagination.FromRequest(request)

	filter := Filter{
		ObjectType: request.URL.Query().Get("object_type"),
		ObjectID:   request.URL.Query().Get("object_id"),
		UserID:     request.URL.Query().Get("user_id"),
	}
	filter.Types = slice.Map(query.StringSlice(request.URL.Query().Get("type")), func(code string) ChangeType {
		return ChangeType(strings.ToUpper(code))
	})

	sets, total, err := handler.service.ListChangeSets(request.Context(), filter, paginationParams.Limit, paginationParams.Offset())
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.Paginated(writer, sets, pagination.NewMeta(paginationParams.Page, paginationParams.Limit, total))
}

func (handler *Handler) getChangeSet(writer http.ResponseWriter, request *http.Request) {
	id := requestutil.Param(request, "id")

	cs, err := handler.service.GetChangeSet(request.Context(), id)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, cs)
}

func (handler *Handler) listObjectTypes(writer http.ResponseWriter, request *http.Request) {
	respond.OK(writer, handler.service.ObjectTypes())
}

func (handler *Handler) listObjectHistory(writer http.ResponseWriter, request *http.Request) {
	paginationParams := pagination.FromRequest(request)
	ref := ObjectRef{
		ObjectType: requestutil.Param(request, "type"),
		ObjectID:   requestutil.Param(request, "id"),
	}

	sets, total, err := handler.service.ListObjectHistory(request.Context(), ref, paginationParams.Limit, paginationParams.Offset())
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.Paginated(writer, sets, pagination.NewMeta(paginationParams.Page, paginationParams.Limit, total))
}

func (handler *Handler) getObjectProvenance(writer http.ResponseWriter, request *http.Request) {
	ref := ObjectRef{
		ObjectType: requestutil.Param(request, "type"),
		ObjectID:   requestutil.Param(request, "id"),
	}

	provenance, err := handler.service.ObjectProvenance(request.Context(), ref)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, provenance)
}
