package catalog

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/tallybook/tallybook/internal/platform/httpx"
	"github.com/tallybook/tallybook/internal/shared"
)

// Handler wires HTTP endpoints for the product catalog.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers catalog routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/products", h.create)
	r.Get("/products", h.list)
	r.Get("/products/{id}", h.get)
	r.Put("/products/{id}", h.update)
	r.Delete("/products/{id}", h.deactivate)
}

type productRequest struct {
	Name        string `json:"name" validate:"required,max=255"`
	Description string `json:"description" validate:"max=4000"`
	Price       string `json:"price" validate:"required"`
	Category    string `json:"category" validate:"omitempty,oneof=groceries dairy bakery vegetables fruits beverages snacks other"`
	Stock       int64  `json:"stock" validate:"gte=0"`
}

type productResponse struct {
	ID           int64     `json:"id"`
	ShopkeeperID int64     `json:"shopkeeper_id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	Price        string    `json:"price"`
	Category     string    `json:"category"`
	Stock        int64     `json:"stock"`
	InStock      bool      `json:"in_stock"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

func toProductResponse(p Product) productResponse {
	return productResponse{
		ID:           p.ID,
		ShopkeeperID: p.ShopkeeperID,
		Name:         p.Name,
		Description:  p.Description,
		Price:        p.Price.StringFixed(2),
		Category:     string(p.Category),
		Stock:        p.Stock,
		InStock:      p.Stock > 0,
		IsActive:     p.IsActive,
		CreatedAt:    p.CreatedAt,
	}
}

func (h *Handler) decodeInput(r *http.Request) (ProductInput, error) {
	var req productRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		return ProductInput{}, fmt.Errorf("invalid JSON body")
	}
	if err := h.validator.Struct(req); err != nil {
		return ProductInput{}, err
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		return ProductInput{}, fmt.Errorf("catalog: malformed price %q: %w", req.Price, shared.ErrInvalidAmount)
	}
	return ProductInput{
		Name:        req.Name,
		Description: req.Description,
		Price:       price,
		Category:    Category(req.Category),
		Stock:       req.Stock,
	}, nil
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor identity missing")
		return
	}
	input, err := h.decodeInput(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	product, err := h.service.CreateProduct(r.Context(), actor, input)
	if err != nil {
		h.logger.Error("create product", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toProductResponse(*product))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor identity missing")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid product id")
		return
	}
	input, err := h.decodeInput(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	product, err := h.service.UpdateProduct(r.Context(), actor, id, input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toProductResponse(*product))
}

func (h *Handler) deactivate(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor identity missing")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid product id")
		return
	}
	if err := h.service.DeactivateProduct(r.Context(), actor, id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid product id")
		return
	}
	product, err := h.service.GetProduct(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toProductResponse(*product))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{ActiveOnly: r.URL.Query().Get("include_inactive") != "1"}
	if raw := r.URL.Query().Get("shopkeeper_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid shopkeeper id")
			return
		}
		filter.ShopkeeperID = id
	}
	if raw := r.URL.Query().Get("category"); raw != "" {
		c := Category(raw)
		filter.Category = &c
	}
	products, err := h.service.ListProducts(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]productResponse, 0, len(products))
	for _, p := range products {
		out = append(out, toProductResponse(p))
	}
	httpx.JSON(w, http.StatusOK, out)
}
