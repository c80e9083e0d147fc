package recommendations

import (
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/FACorreiaa/go-citytailor/internal/api"
	"github.com/FACorreiaa/go-citytailor/internal/types"
)

type HandlerImpl struct {
	logger  *slog.Logger
	service Service
}

func NewHandler(service Service, logger *slog.Logger) *HandlerImpl {
	return &HandlerImpl{logger: logger, service: service}
}

// SubmitPreferencesHandler godoc
// @Summary      Store activity preferences and get catalog suggestions
// @Tags         recommendations
// @Accept       json
// @Produce      json
// @Param        request body types.PreferencesRequest true "Preferences"
// @Success      200 {object} types.PreferencesResponse
// @Router       /submit-preferences [post]
func (h *HandlerImpl) SubmitPreferencesHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("RecommendationsHandler").Start(r.Context(), "SubmitPreferences")
	defer span.End()
	l := h.logger.With(slog.String("handler", "SubmitPreferencesHandler"))

	var req types.PreferencesRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		span.RecordError(err)
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.service.SubmitPreferences(ctx, req)
	if err != nil {
		l.ErrorContext(ctx, "Failed to submit preferences", slog.Any("error", err))
		span.SetStatus(codes.Error, "Failed to submit preferences")
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to submit preferences")
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, resp)
}
