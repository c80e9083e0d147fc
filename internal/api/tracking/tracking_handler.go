package tracking

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/FACorreiaa/go-citytailor/internal/api"
	"github.com/FACorreiaa/go-citytailor/internal/types"
)

var _ Handler = (*HandlerImpl)(nil)

type Handler interface {
	TrackSearchHandler(w http.ResponseWriter, r *http.Request)
	TrackInteractionHandler(w http.ResponseWriter, r *http.Request)
	HomeRecommendationsHandler(w http.ResponseWriter, r *http.Request)
	MigrateAnonymousHandler(w http.ResponseWriter, r *http.Request)
	ClearSearchContextHandler(w http.ResponseWriter, r *http.Request)
	TrendingHandler(w http.ResponseWriter, r *http.Request)
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
	l.WarnContext(r.Context(), msg, slog.Any("error", err))
	api.ErrorResponse(w, r, status, err.Error())
}

// TrackSearchHandler godoc
// @Summary      Record a search submission
// @Tags         tracking
// @Accept       json
// @Produce      json
// @Param        request body types.TrackSearchRequest true "Search"
// @Success      200 {object} types.TrackSearchResponse
// @Router       /track-search [post]
func (h *HandlerImpl) TrackSearchHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("TrackingHandler").Start(r.Context(), "TrackSearch")
	defer span.End()
	l := h.logger.With(slog.String("handler", "TrackSearchHandler"))

	var req types.TrackSearchRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Bad request")
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := api.AuthorizeIdentity(ctx, req.Identity); err != nil {
		h.fail(w, r, l, err, "Identity mismatch")
		return
	}

	resp, err := h.service.TrackSearch(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to track search")
		h.fail(w, r, l, err, "Failed to track search")
		return
	}
	span.SetStatus(codes.Ok, "Search tracked")
	api.WriteJSONResponse(w, r, http.StatusOK, resp)
}

// TrackInteractionHandler godoc
// @Summary      Record a view, favorite or itinerary add
// @Tags         tracking
// @Accept       json
// @Param        request body types.TrackInteractionRequest true "Interaction"
// @Success      204
// @Router       /track-interaction [post]
func (h *HandlerImpl) TrackInteractionHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("TrackingHandler").Start(r.Context(), "TrackInteraction")
	defer span.End()
	l := h.logger.With(slog.String("handler", "TrackInteractionHandler"))

	var req types.TrackInteractionRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		span.RecordError(err)
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := api.AuthorizeIdentity(ctx, req.Identity); err != nil {
		h.fail(w, r, l, err, "Identity mismatch")
		return
	}
	span.SetAttributes(attribute.String("interaction.type", string(req.Type)))

	if err := h.service.TrackInteraction(ctx, req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to track interaction")
		h.fail(w, r, l, err, "Failed to track interaction")
		return
	}
	span.SetStatus(codes.Ok, "Interaction tracked")
	api.WriteJSONResponse(w, r, http.StatusNoContent, nil)
}

// HomeRecommendationsHandler godoc
// @Summary      Home page recommendations
// @Tags         recommendations
// @Produce      json
// @Param        identity          query string false "userId or anonymous"
// @Param        sessionId         query string false "session id"
// @Param        useSearchContext  query bool   false "bias by the live search context"
// @Param        limit             query int    false "max results"
// @Success      200 {object} types.HomeRecommendationsResponse
// @Router       /home-recommendations [get]
func (h *HandlerImpl) HomeRecommendationsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("TrackingHandler").Start(r.Context(), "HomeRecommendations")
	defer span.End()
	l := h.logger.With(slog.String("handler", "HomeRecommendationsHandler"))

	q := r.URL.Query()
	query := types.HomeRecommendationsQuery{
		Identity:  q.Get("identity"),
		SessionID: q.Get("sessionId"),
		City:      q.Get("city"),
	}
	if v := q.Get("useSearchContext"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			api.ErrorResponse(w, r, http.StatusBadRequest, "useSearchContext must be a boolean")
			return
		}
		query.UseSearchContext = b
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			api.ErrorResponse(w, r, http.StatusBadRequest, "limit must be an integer")
			return
		}
		query.Limit = n
	}
	if v := q.Get("activities"); v != "" {
		query.Activities = strings.Split(v, ",")
	}
	if err := api.AuthorizeIdentity(ctx, query.Identity); err != nil {
		h.fail(w, r, l, err, "Identity mismatch")
		return
	}

	resp, err := h.service.HomeRecommendations(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to build recommendations")
		h.fail(w, r, l, err, "Failed to build recommendations")
		return
	}
	span.SetStatus(codes.Ok, "Recommendations served")
	api.WriteJSONResponse(w, r, http.StatusOK, resp)
}

// MigrateAnonymousHandler godoc
// @Summary      Attach a session's anonymous activity to an account
// @Tags         tracking
// @Accept       json
// @Produce      json
// @Param        request body types.MigrateRequest true "Migration"
// @Success      200 {object} types.MigrateResponse
// @Router       /migrate-anonymous-to-user [post]
func (h *HandlerImpl) MigrateAnonymousHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("TrackingHandler").Start(r.Context(), "MigrateAnonymous")
	defer span.End()
	l := h.logger.With(slog.String("handler", "MigrateAnonymousHandler"))

	var req types.MigrateRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		span.RecordError(err)
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := api.AuthorizeIdentity(ctx, req.UserID); err != nil {
		h.fail(w, r, l, err, "Identity mismatch")
		return
	}

	resp, err := h.service.MigrateAnonymousToUser(ctx, req.UserID, req.SessionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to migrate")
		h.fail(w, r, l, err, "Failed to migrate anonymous activity")
		return
	}
	span.SetStatus(codes.Ok, "Migrated")
	api.WriteJSONResponse(w, r, http.StatusOK, resp)
}

// ClearSearchContextHandler godoc
// @Summary      Drop the session's search context
// @Tags         tracking
// @Param        identity  query string false "userId or anonymous"
// @Param        sessionId query string true  "session id"
// @Success      204
// @Router       /search-context [delete]
func (h *HandlerImpl) ClearSearchContextHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("TrackingHandler").Start(r.Context(), "ClearSearchContext")
	defer span.End()
	l := h.logger.With(slog.String("handler", "ClearSearchContextHandler"))

	identity := r.URL.Query().Get("identity")
	if err := api.AuthorizeIdentity(ctx, identity); err != nil {
		h.fail(w, r, l, err, "Identity mismatch")
		return
	}
	if err := h.service.ClearSearchContext(ctx, identity, r.URL.Query().Get("sessionId")); err != nil {
		span.RecordError(err)
		h.fail(w, r, l, err, "Failed to clear search context")
		return
	}
	api.WriteJSONResponse(w, r, http.StatusNoContent, nil)
}

// TrendingHandler godoc
// @Summary      Places with the most interactions this week
// @Tags         recommendations
// @Produce      json
// @Param        city  query string false "city filter"
// @Param        limit query int    false "max results"
// @Success      200 {object} types.TrendingResponse
// @Router       /trending [get]
func (h *HandlerImpl) TrendingHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("TrackingHandler").Start(r.Context(), "Trending")
	defer span.End()
	l := h.logger.With(slog.String("handler", "TrendingHandler"))

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			api.ErrorResponse(w, r, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}
	resp, err := h.service.Trending(ctx, r.URL.Query().Get("city"), limit)
	if err != nil {
		span.RecordError(err)
		h.fail(w, r, l, err, "Failed to load trending places")
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, resp)
}
