package inventory

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/stockcount/internal/platform/httpx"
	"github.com/odyssey-erp/stockcount/internal/rbac"
	"github.com/odyssey-erp/stockcount/internal/shared"
)

// Handler exposes read-only stock levels over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireAny(shared.PermInventoryManage, shared.PermStockCountView)).Get("/quants", h.listQuants)
}

func (h *Handler) listQuants(w http.ResponseWriter, r *http.Request) {
	ids, err := parseIDs(r.URL.Query().Get("location_ids"))
	if err != nil {
		httpx.FieldProblem(w, map[string]string{"location_ids": err.Error()})
		return
	}
	quants, err := h.service.Quants(r.Context(), QuantFilter{
		LocationIDs: ids,
		Quantity:    QuantityFilter(r.URL.Query().Get("filter")),
	})
	if err != nil {
		if errors.Is(err, ErrLocationsRequired) || errors.Is(err, ErrInvalidQuantityFilter) {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
			return
		}
		h.logger.Error("inventory list quants", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": quants})
}

func parseIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
