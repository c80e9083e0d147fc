package itinerary

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	appMiddleware "github.com/FACorreiaa/go-citytailor/app/middleware"
	"github.com/FACorreiaa/go-citytailor/internal/api"
	"github.com/FACorreiaa/go-citytailor/internal/types"
)

var _ Handler = (*HandlerImpl)(nil)

type Handler interface {
	ListItinerariesHandler(w http.ResponseWriter, r *http.Request)
	CreateItineraryHandler(w http.ResponseWriter, r *http.Request)
	GetActivitiesHandler(w http.ResponseWriter, r *http.Request)
	AddActivityHandler(w http.ResponseWriter, r *http.Request)
	RemoveActivityHandler(w http.ResponseWriter, r *http.Request)
}

type HandlerImpl struct {
	logger  *slog.Logger
	service Service
}

func NewHandler(service Service, logger *slog.Logger) *HandlerImpl {
	return &HandlerImpl{
		logger:  logger,
		service: service,
	}
}

func (h *HandlerImpl) fail(w http.ResponseWriter, r *http.Request, l *slog.Logger, err error, msg string) {
	status := api.StatusFor(err)
	if status >= http.StatusInternalServerError {
		l.ErrorContext(r.Context(), msg, slog.Any("error", err))
		api.ErrorResponse(w, r, status, msg)
		return
	}
	api.ErrorResponse(w, r, status, err.Error())
}

// itineraryFromPath parses {itineraryID} and, when the request carries a
// verified account, checks that it owns the itinerary.
func (h *HandlerImpl) itineraryFromPath(ctx context.Context, r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "itineraryID")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid itinerary id %q", types.ErrInvalidRequest, raw)
	}
	if verified, ok := appMiddleware.GetUserIDFromContext(ctx); ok {
		owner, err := h.service.Owner(ctx, id)
		if err != nil {
			return uuid.Nil, err
		}
		if owner != verified {
			return uuid.Nil, types.ErrForbidden
		}
	}
	return id, nil
}

// ListItinerariesHandler godoc
// @Summary      Itineraries owned by an account
// @Tags         itineraries
// @Produce      json
// @Param        identity query string true "account id"
// @Success      200 {array} types.RemoteItinerary
// @Router       /itineraries [get]
func (h *HandlerImpl) ListItinerariesHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("ItineraryHandler").Start(r.Context(), "ListItineraries")
	defer span.End()
	l := h.logger.With(slog.String("handler", "ListItinerariesHandler"))

	identity := r.URL.Query().Get("identity")
	if err := api.AuthorizeIdentity(ctx, identity); err != nil {
		h.fail(w, r, l, err, "Identity mismatch")
		return
	}
	out, err := h.service.ListItineraries(ctx, identity)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to list itineraries")
		h.fail(w, r, l, err, "Failed to list itineraries")
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, out)
}

// CreateItineraryHandler godoc
// @Summary      Create an itinerary
// @Tags         itineraries
// @Accept       json
// @Produce      json
// @Param        identity query string true "account id"
// @Param        request body types.CreateItineraryRequest true "Itinerary"
// @Success      201 {object} types.RemoteItinerary
// @Router       /itineraries [post]
func (h *HandlerImpl) CreateItineraryHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("ItineraryHandler").Start(r.Context(), "CreateItinerary")
	defer span.End()
	l := h.logger.With(slog.String("handler", "CreateItineraryHandler"))

	identity := r.URL.Query().Get("identity")
	if err := api.AuthorizeIdentity(ctx, identity); err != nil {
		h.fail(w, r, l, err, "Identity mismatch")
		return
	}
	var req types.CreateItineraryRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	it, err := h.service.CreateItinerary(ctx, identity, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to create itinerary")
		h.fail(w, r, l, err, "Failed to create itinerary")
		return
	}
	span.SetAttributes(attribute.String("itinerary.id", it.ID))
	api.WriteJSONResponse(w, r, http.StatusCreated, it)
}

// GetActivitiesHandler godoc
// @Summary      Activities of an itinerary in order
// @Tags         itineraries
// @Produce      json
// @Param        itineraryID path string true "itinerary id"
// @Success      200 {array} types.ItineraryItem
// @Router       /itineraries/{itineraryID}/activities [get]
func (h *HandlerImpl) GetActivitiesHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("ItineraryHandler").Start(r.Context(), "GetActivities")
	defer span.End()
	l := h.logger.With(slog.String("handler", "GetActivitiesHandler"))

	id, err := h.itineraryFromPath(ctx, r)
	if err != nil {
		h.fail(w, r, l, err, "Failed to load itinerary")
		return
	}
	items, err := h.service.Activities(ctx, id)
	if err != nil {
		span.RecordError(err)
		h.fail(w, r, l, err, "Failed to load activities")
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, items)
}

// AddActivityHandler godoc
// @Summary      Append an activity, ignoring duplicates by name
// @Tags         itineraries
// @Accept       json
// @Param        itineraryID path string true "itinerary id"
// @Param        request body types.ItineraryItem true "Activity"
// @Success      204
// @Router       /itineraries/{itineraryID}/activities [post]
func (h *HandlerImpl) AddActivityHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("ItineraryHandler").Start(r.Context(), "AddActivity")
	defer span.End()
	l := h.logger.With(slog.String("handler", "AddActivityHandler"))

	id, err := h.itineraryFromPath(ctx, r)
	if err != nil {
		h.fail(w, r, l, err, "Failed to load itinerary")
		return
	}
	var item types.ItineraryItem
	if err := api.DecodeJSONBody(w, r, &item); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.service.AddActivity(ctx, id, item); err != nil {
		span.RecordError(err)
		h.fail(w, r, l, err, "Failed to add activity")
		return
	}
	api.WriteJSONResponse(w, r, http.StatusNoContent, nil)
}

// RemoveActivityHandler godoc
// @Summary      Remove an activity by name
// @Tags         itineraries
// @Param        itineraryID path string true "itinerary id"
// @Param        name        path string true "activity name"
// @Success      204
// @Router       /itineraries/{itineraryID}/activities/{name} [delete]
func (h *HandlerImpl) RemoveActivityHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("ItineraryHandler").Start(r.Context(), "RemoveActivity")
	defer span.End()
	l := h.logger.With(slog.String("handler", "RemoveActivityHandler"))

	id, err := h.itineraryFromPath(ctx, r)
	if err != nil {
		h.fail(w, r, l, err, "Failed to load itinerary")
		return
	}
	if err := h.service.RemoveActivity(ctx, id, chi.URLParam(r, "name")); err != nil {
		span.RecordError(err)
		h.fail(w, r, l, err, "Failed to remove activity")
		return
	}
	api.WriteJSONResponse(w, r, http.StatusNoContent, nil)
}
