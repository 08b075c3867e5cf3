package stockcount

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/stockcount/internal/platform/httpx"
	"github.com/odyssey-erp/stockcount/internal/rbac"
	"github.com/odyssey-erp/stockcount/internal/shared"
)

// IdempotencyPort guards POST actions against replays.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Handler wires HTTP routes for count sessions.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	rbac        rbac.Middleware
	idempotency IdempotencyPort
	validate    *validator.Validate
}

// NewHandler constructs the handler. idem may be nil.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware, idem IdempotencyPort) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	validate := validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{logger: logger, service: service, rbac: rbac, idempotency: idem, validate: validate}
}

// MountRoutes registers stock count routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermStockCountView))
		r.Get("/", h.list)
		r.Get("/{id}", h.show)
		r.Get("/{id}/trail", h.trail)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermStockCountEdit))
		r.Post("/", h.create)
		r.Patch("/{id}", h.update)
		r.Delete("/{id}", h.delete)
		r.Patch("/{id}/lines/{lineID}", h.editLine)
		r.Post("/{id}/generate", h.action(ActionGenerate))
		r.Post("/{id}/submit", h.action(ActionSubmit))
		r.Post("/{id}/validate", h.action(ActionValidate))
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermStockCountApprove))
		r.Post("/{id}/approve", h.action(ActionApprove))
		r.Post("/{id}/recount", h.action(ActionRecount))
		r.Post("/{id}/reject", h.action(ActionReject))
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	page, perPage := shared.PageParams(r)
	sessions, total, err := h.service.List(r.Context(), actorID, ListFilter{
		State:   State(r.URL.Query().Get("state")),
		Page:    page,
		PerPage: perPage,
	})
	if err != nil {
		h.fail(w, "list", err)
		return
	}
	items := make([]SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		items = append(items, toSessionResponse(s, actorID, false))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"items":      items,
		"pagination": shared.NewPagination(page, perPage, total),
	})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	sess, err := h.service.Get(r.Context(), actorID, id)
	if err != nil {
		h.fail(w, "show", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toSessionResponse(sess, actorID, true))
}

func (h *Handler) trail(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	logs, err := h.service.Trail(r.Context(), actorID, id)
	if err != nil {
		h.fail(w, "trail", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": logs})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req CreateSessionRequest
	if !h.decode(w, r, &req) {
		return
	}
	sess, err := h.service.Create(r.Context(), actorID, CreateInput{
		Name:             req.Name,
		WarehouseID:      req.WarehouseID,
		LocationID:       req.LocationID,
		Filter:           req.Filter,
		FinanceManagerID: req.FinanceManagerID,
		AttendeeIDs:      req.AttendeeIDs,
		EffectiveDate:    req.EffectiveDate,
		Note:             req.Note,
	})
	if err != nil {
		h.fail(w, "create", err)
		return
	}
	w.Header().Set("Location", "/stock-counts/"+strconv.FormatInt(sess.ID, 10))
	httpx.JSON(w, http.StatusCreated, toSessionResponse(sess, actorID, true))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req UpdateSessionRequest
	if !h.decode(w, r, &req) {
		return
	}
	sess, err := h.service.Update(r.Context(), actorID, id, UpdateInput{
		Name:             req.Name,
		WarehouseID:      req.WarehouseID,
		LocationID:       req.LocationID,
		Filter:           req.Filter,
		FinanceManagerID: req.FinanceManagerID,
		AttendeeIDs:      req.AttendeeIDs,
		EffectiveDate:    req.EffectiveDate,
		Note:             req.Note,
	})
	if err != nil {
		h.fail(w, "update", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toSessionResponse(sess, actorID, true))
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), actorID, id); err != nil {
		h.fail(w, "delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) editLine(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	lineID, ok := h.pathID(w, r, "lineID")
	if !ok {
		return
	}
	var req EditLineRequest
	if !h.decode(w, r, &req) {
		return
	}
	sess, err := h.service.EditLine(r.Context(), actorID, id, lineID, LineInput{
		QtyCounted:       req.QtyCounted,
		QtyReviewCounted: req.QtyReviewCounted,
		Barcode:          req.Barcode,
		Note:             req.Note,
	})
	if err != nil {
		h.fail(w, "edit line", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toSessionResponse(sess, actorID, true))
}

// action serves one workflow transition. Recount and reject read a reason body.
func (h *Handler) action(action Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, ok := h.actor(w, r)
		if !ok {
			return
		}
		id, ok := h.pathID(w, r, "id")
		if !ok {
			return
		}
		var reason string
		if action == ActionRecount || action == ActionReject {
			var req ReasonRequest
			if !h.decode(w, r, &req) {
				return
			}
			reason = req.Reason
		}

		key := r.Header.Get("Idempotency-Key")
		if key != "" && h.idempotency != nil {
			if err := h.idempotency.CheckAndInsert(r.Context(), key, Module+"."+string(action)); err != nil {
				h.fail(w, string(action), err)
				return
			}
		}

		sess, err := h.run(r.Context(), action, actorID, id, reason)
		if err != nil {
			if key != "" && h.idempotency != nil {
				if delErr := h.idempotency.Delete(r.Context(), key); delErr != nil {
					h.logger.Warn("stock count idempotency rollback", slog.Any("error", delErr))
				}
			}
			h.fail(w, string(action), err)
			return
		}
		httpx.JSON(w, http.StatusOK, toSessionResponse(sess, actorID, true))
	}
}

func (h *Handler) run(ctx context.Context, action Action, actorID, id int64, reason string) (*Session, error) {
	switch action {
	case ActionGenerate:
		return h.service.Generate(ctx, actorID, id)
	case ActionSubmit:
		return h.service.Submit(ctx, actorID, id)
	case ActionValidate:
		return h.service.Validate(ctx, actorID, id)
	case ActionApprove:
		return h.service.Approve(ctx, actorID, id)
	case ActionRecount:
		return h.service.Recount(ctx, actorID, id, reason)
	case ActionReject:
		return h.service.Reject(ctx, actorID, id, reason)
	}
	return nil, ErrInvalidTransition
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := shared.UserIDFromContext(r.Context())
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized), "")
		return 0, false
	}
	return id, true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.FieldProblem(w, map[string]string{name: "must be a positive integer"})
		return 0, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
			httpx.FieldProblem(w, fields)
			return false
		}
		httpx.RespondError(w, err)
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	var verr *ValidationError
	if errors.As(err, &verr) && verr.Field != "" {
		httpx.FieldProblem(w, map[string]string{verr.Field: verr.Message})
		return
	}
	if httpx.StatusFor(err) == http.StatusInternalServerError {
		h.logger.Error("stock count "+op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
