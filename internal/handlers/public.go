package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/mediashop/api/internal/domain"
	"github.com/mediashop/api/internal/services"
)

const maxQuoteBodySize = 32 * 1024

// PublicHandlers serves unauthenticated catalogue and pricing endpoints.
type PublicHandlers struct {
	orders  services.OrderService
	catalog services.CatalogService
	limiter rateLimiter
}

// PublicHandlersOption customises PublicHandlers.
type PublicHandlersOption func(*PublicHandlers)

// WithQuoteRateLimit caps delivery quotes per client IP. A non-positive limit disables it.
func WithQuoteRateLimit(limit int, window time.Duration, clock func() time.Time) PublicHandlersOption {
	return func(h *PublicHandlers) {
		h.limiter = newFixedWindowLimiter(limit, window, clock)
	}
}

// NewPublicHandlers constructs the public handlers.
func NewPublicHandlers(orders services.OrderService, catalog services.CatalogService, opts ...PublicHandlersOption) *PublicHandlers {
	h := &PublicHandlers{orders: orders, catalog: catalog}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /public endpoints.
func (h *PublicHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.With(rateLimitByClientIP(h.limiter)).Post("/delivery-quote", h.quoteDelivery)
	r.Get("/products/{productID}", h.getProduct)
}

type deliveryQuoteRequest struct {
	Items        []orderLineRequest `json:"items"`
	Province     string             `json:"province"`
	DeliveryType string             `json:"delivery_type"`
}

type deliveryQuoteResponse struct {
	Items               []orderItemPayload `json:"items"`
	Totals              orderTotalsPayload `json:"totals"`
	TotalWeightKg       float64            `json:"total_weight_kg"`
	MajorLocality       bool               `json:"major_locality"`
	EstimatedDeliveryAt string             `json:"estimated_delivery_at,omitempty"`
}

func (h *PublicHandlers) quoteDelivery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}

	var req deliveryQuoteRequest
	if !decodeJSONBody(ctx, w, r, maxQuoteBodySize, false, &req) {
		return
	}

	quote, err := h.orders.QuoteDelivery(ctx, services.DeliveryQuoteRequest{
		Items:    toLineInputs(req.Items),
		Province: req.Province,
		Type:     domain.DeliveryType(strings.ToLower(strings.TrimSpace(req.DeliveryType))),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderItemPayload, 0, len(quote.Items))
	for _, item := range quote.Items {
		items = append(items, buildOrderItemPayload(item))
	}
	writeJSONResponse(w, http.StatusOK, deliveryQuoteResponse{
		Items:               items,
		Totals:              buildTotalsPayload(quote.Totals),
		TotalWeightKg:       quote.TotalWeightKg,
		MajorLocality:       quote.MajorLocality,
		EstimatedDeliveryAt: formatTime(quote.EstimatedDeliveryAt),
	})
}

func (h *PublicHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		serviceUnavailable(ctx, w, "catalog")
		return
	}
	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	product, err := h.catalog.GetProduct(ctx, productID)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildProductPayload(product))
}

// productPayload is the wire form of the product union. Exactly one of Book, CD or DVD is set.
type productPayload struct {
	ID        string             `json:"id"`
	Kind      string             `json:"kind"`
	Title     string             `json:"title"`
	Price     int64              `json:"price"`
	WeightKg  float64            `json:"weight_kg"`
	Available bool               `json:"available"`
	Book      *bookDetailPayload `json:"book,omitempty"`
	CD        *cdDetailPayload   `json:"cd,omitempty"`
	DVD       *dvdDetailPayload  `json:"dvd,omitempty"`
	UpdatedAt string             `json:"updated_at,omitempty"`
}

type bookDetailPayload struct {
	Authors   []string `json:"authors"`
	Publisher string   `json:"publisher,omitempty"`
	Pages     int      `json:"pages,omitempty"`
	CoverType string   `json:"cover_type,omitempty"`
}

type cdDetailPayload struct {
	Artists []string `json:"artists"`
	Label   string   `json:"label,omitempty"`
	Tracks  []string `json:"tracks,omitempty"`
}

type dvdDetailPayload struct {
	Director       string `json:"director,omitempty"`
	Studio         string `json:"studio,omitempty"`
	RuntimeMinutes int    `json:"runtime_minutes,omitempty"`
	DiscType       string `json:"disc_type,omitempty"`
}

func buildProductPayload(product services.Product) productPayload {
	payload := productPayload{
		ID:        product.ID,
		Kind:      string(product.Kind),
		Title:     product.Title,
		Price:     product.Price,
		WeightKg:  product.WeightKg,
		Available: product.Available,
		UpdatedAt: formatTime(product.UpdatedAt),
	}
	switch {
	case product.Book != nil:
		payload.Book = &bookDetailPayload{
			Authors:   append([]string(nil), product.Book.Authors...),
			Publisher: product.Book.Publisher,
			Pages:     product.Book.Pages,
			CoverType: product.Book.CoverType,
		}
	case product.CD != nil:
		payload.CD = &cdDetailPayload{
			Artists: append([]string(nil), product.CD.Artists...),
			Label:   product.CD.Label,
			Tracks:  append([]string(nil), product.CD.Tracks...),
		}
	case product.DVD != nil:
		payload.DVD = &dvdDetailPayload{
			Director:       product.DVD.Director,
			Studio:         product.DVD.Studio,
			RuntimeMinutes: product.DVD.RuntimeMinutes,
			DiscType:       product.DVD.DiscType,
		}
	}
	return payload
}

func (p productPayload) toProduct() services.Product {
	product := services.Product{
		ID:        strings.TrimSpace(p.ID),
		Kind:      domain.ProductKind(strings.ToLower(strings.TrimSpace(p.Kind))),
		Title:     p.Title,
		Price:     p.Price,
		WeightKg:  p.WeightKg,
		Available: p.Available,
	}
	if p.Book != nil {
		product.Book = &domain.BookDetails{
			Authors:   append([]string(nil), p.Book.Authors...),
			Publisher: p.Book.Publisher,
			Pages:     p.Book.Pages,
			CoverType: p.Book.CoverType,
		}
	}
	if p.CD != nil {
		product.CD = &domain.CDDetails{
			Artists: append([]string(nil), p.CD.Artists...),
			Label:   p.CD.Label,
			Tracks:  append([]string(nil), p.CD.Tracks...),
		}
	}
	if p.DVD != nil {
		product.DVD = &domain.DVDDetails{
			Director:       p.DVD.Director,
			Studio:         p.DVD.Studio,
			RuntimeMinutes: p.DVD.RuntimeMinutes,
			DiscType:       p.DVD.DiscType,
		}
	}
	return product
}
