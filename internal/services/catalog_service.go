package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	domain "github.com/mediashop/api/internal/domain"
	"github.com/mediashop/api/internal/repositories"
)

const (
	maxProductTitleLength = 255
	maxProductIDLength    = 64
)

var (
	// ErrCatalogInvalidInput indicates the caller supplied invalid data to a catalogue mutation.
	ErrCatalogInvalidInput = errors.New("catalog service: invalid input")
	// ErrCatalogNotFound indicates the product does not exist.
	ErrCatalogNotFound = errors.New("catalog service: product not found")
)

// ProductCache fronts product reads. Misses are reported with ok=false and never as errors.
type ProductCache interface {
	GetProduct(ctx context.Context, productID string) (Product, bool, error)
	PutProduct(ctx context.Context, product Product) error
	InvalidateProduct(ctx context.Context, productID string) error
}

// CatalogServiceDeps bundles constructor inputs for the catalog service.
type CatalogServiceDeps struct {
	Products repositories.ProductRepository
	Cache    ProductCache
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type catalogService struct {
	repo   repositories.ProductRepository
	cache  ProductCache
	clock  func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewCatalogService constructs the catalog service with the supplied dependencies.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Products == nil {
		return nil, fmt.Errorf("catalog service: product repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &catalogService{
		repo:   deps.Products,
		cache:  deps.Cache,
		clock:  func() time.Time { return clock().UTC() },
		logger: logger,
	}, nil
}

func (s *catalogService) GetProduct(ctx context.Context, productID string) (Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}

	if s.cache != nil {
		cached, ok, err := s.cache.GetProduct(ctx, productID)
		switch {
		case err != nil:
			s.logger(ctx, "catalog.cache.read.failed", map[string]any{
				"productId": productID,
				"error":     err.Error(),
			})
		case ok:
			return cached, nil
		}
	}

	product, err := s.repo.FindByID(ctx, productID)
	if err != nil {
		return Product{}, mapCatalogRepositoryError(err)
	}
	if s.cache != nil {
		if err := s.cache.PutProduct(ctx, product); err != nil {
			s.logger(ctx, "catalog.cache.write.failed", map[string]any{
				"productId": productID,
				"error":     err.Error(),
			})
		}
	}
	return product, nil
}

func (s *catalogService) UpsertProduct(ctx context.Context, product Product) (Product, error) {
	product.ID = strings.TrimSpace(product.ID)
	product.Title = strings.TrimSpace(product.Title)
	product.Kind = domain.ProductKind(strings.ToLower(strings.TrimSpace(string(product.Kind))))

	switch {
	case product.ID == "":
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	case len(product.ID) > maxProductIDLength:
		return Product{}, fmt.Errorf("%w: product id exceeds %d characters", ErrCatalogInvalidInput, maxProductIDLength)
	case product.Title == "":
		return Product{}, fmt.Errorf("%w: title is required", ErrCatalogInvalidInput)
	case len([]rune(product.Title)) > maxProductTitleLength:
		return Product{}, fmt.Errorf("%w: title exceeds %d characters", ErrCatalogInvalidInput, maxProductTitleLength)
	case product.Price < 0:
		return Product{}, fmt.Errorf("%w: price must not be negative", ErrCatalogInvalidInput)
	case product.WeightKg <= 0 || math.IsNaN(product.WeightKg) || math.IsInf(product.WeightKg, 0):
		return Product{}, fmt.Errorf("%w: weight must be positive", ErrCatalogInvalidInput)
	case !product.Valid():
		return Product{}, fmt.Errorf("%w: product %s must carry exactly the %q details", ErrCatalogInvalidInput, product.ID, product.Kind)
	}
	normalizeProductDetails(&product)
	product.UpdatedAt = s.clock()

	if err := s.repo.Upsert(ctx, product); err != nil {
		return Product{}, mapCatalogRepositoryError(err)
	}
	if s.cache != nil {
		if err := s.cache.InvalidateProduct(ctx, product.ID); err != nil {
			s.logger(ctx, "catalog.cache.invalidate.failed", map[string]any{
				"productId": product.ID,
				"error":     err.Error(),
			})
		}
	}
	s.logger(ctx, "catalog.product.upserted", map[string]any{
		"productId": product.ID,
		"kind":      string(product.Kind),
		"available": product.Available,
	})
	return product, nil
}

func normalizeProductDetails(product *Product) {
	switch {
	case product.Book != nil:
		book := *product.Book
		book.Authors = normalizeNames(book.Authors)
		book.Publisher = strings.TrimSpace(book.Publisher)
		book.CoverType = strings.TrimSpace(book.CoverType)
		product.Book = &book
	case product.CD != nil:
		cd := *product.CD
		cd.Artists = normalizeNames(cd.Artists)
		cd.Label = strings.TrimSpace(cd.Label)
		cd.Tracks = normalizeNames(cd.Tracks)
		product.CD = &cd
	case product.DVD != nil:
		dvd := *product.DVD
		dvd.Director = strings.TrimSpace(dvd.Director)
		dvd.Studio = strings.TrimSpace(dvd.Studio)
		dvd.DiscType = strings.TrimSpace(dvd.DiscType)
		product.DVD = &dvd
	}
}

// normalizeNames trims entries and drops blanks, keeping order.
func normalizeNames(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func mapCatalogRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCatalogNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("catalog service: repository unavailable: %w", err)
		}
	}
	return err
}
