package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/mediashop/api/internal/domain"
	pfirestore "github.com/mediashop/api/internal/platform/firestore"
	"github.com/mediashop/api/internal/repositories"
)

const productsCollection = "products"

type productDocument struct {
	Kind      string        `firestore:"kind"`
	Title     string        `firestore:"title"`
	Price     int64         `firestore:"price"`
	WeightKg  float64       `firestore:"weightKg"`
	Available bool          `firestore:"available"`
	Book      *bookDocument `firestore:"book,omitempty"`
	CD        *cdDocument   `firestore:"cd,omitempty"`
	DVD       *dvdDocument  `firestore:"dvd,omitempty"`
	UpdatedAt time.Time     `firestore:"updatedAt"`
}

type bookDocument struct {
	Authors   []string `firestore:"authors,omitempty"`
	Publisher string   `firestore:"publisher,omitempty"`
	Pages     int      `firestore:"pages,omitempty"`
	CoverType string   `firestore:"coverType,omitempty"`
}

type cdDocument struct {
	Artists []string `firestore:"artists,omitempty"`
	Label   string   `firestore:"label,omitempty"`
	Tracks  []string `firestore:"tracks,omitempty"`
}

type dvdDocument struct {
	Director       string `firestore:"director,omitempty"`
	Studio         string `firestore:"studio,omitempty"`
	RuntimeMinutes int    `firestore:"runtimeMinutes,omitempty"`
	DiscType       string `firestore:"discType,omitempty"`
}

// ProductRepository reads and writes the catalogue collection.
type ProductRepository struct {
	base *pfirestore.BaseRepository[productDocument]
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// NewProductRepository constructs the Firestore product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{
		base: pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil, nil),
	}, nil
}

func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	ref, err := r.base.DocumentRef(ctx, strings.TrimSpace(productID))
	if err != nil {
		return domain.Product{}, err
	}
	snap, err := getSnapshot(ctx, ref)
	if err != nil {
		return domain.Product{}, pfirestore.WrapError("products.get", err)
	}
	var doc productDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Product{}, fmt.Errorf("products.get: decode %s: %w", ref.ID, err)
	}
	return decodeProduct(ref.ID, doc), nil
}

func (r *ProductRepository) Upsert(ctx context.Context, product domain.Product) error {
	if _, err := r.base.Set(ctx, product.ID, encodeProduct(product)); err != nil {
		return err
	}
	return nil
}

func encodeProduct(product domain.Product) productDocument {
	doc := productDocument{
		Kind:      string(product.Kind),
		Title:     product.Title,
		Price:     product.Price,
		WeightKg:  product.WeightKg,
		Available: product.Available,
		UpdatedAt: product.UpdatedAt,
	}
	switch {
	case product.Book != nil:
		doc.Book = &bookDocument{
			Authors:   product.Book.Authors,
			Publisher: product.Book.Publisher,
			Pages:     product.Book.Pages,
			CoverType: product.Book.CoverType,
		}
	case product.CD != nil:
		doc.CD = &cdDocument{
			Artists: product.CD.Artists,
			Label:   product.CD.Label,
			Tracks:  product.CD.Tracks,
		}
	case product.DVD != nil:
		doc.DVD = &dvdDocument{
			Director:       product.DVD.Director,
			Studio:         product.DVD.Studio,
			RuntimeMinutes: product.DVD.RuntimeMinutes,
			DiscType:       product.DVD.DiscType,
		}
	}
	return doc
}

func decodeProduct(id string, doc productDocument) domain.Product {
	product := domain.Product{
		ID:        id,
		Kind:      domain.ProductKind(doc.Kind),
		Title:     doc.Title,
		Price:     doc.Price,
		WeightKg:  doc.WeightKg,
		Available: doc.Available,
		UpdatedAt: doc.UpdatedAt.UTC(),
	}
	switch {
	case doc.Book != nil:
		product.Book = &domain.BookDetails{
			Authors:   doc.Book.Authors,
			Publisher: doc.Book.Publisher,
			Pages:     doc.Book.Pages,
			CoverType: doc.Book.CoverType,
		}
	case doc.CD != nil:
		product.CD = &domain.CDDetails{
			Artists: doc.CD.Artists,
			Label:   doc.CD.Label,
			Tracks:  doc.CD.Tracks,
		}
	case doc.DVD != nil:
		product.DVD = &domain.DVDDetails{
			Director:       doc.DVD.Director,
			Studio:         doc.DVD.Studio,
			RuntimeMinutes: doc.DVD.RuntimeMinutes,
			DiscType:       doc.DVD.DiscType,
		}
	}
	return product
}
