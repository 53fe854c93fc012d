package services

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/markdave123-py/Sunlytics/internal/core"
	"github.com/markdave123-py/Sunlytics/internal/models"
)

var productCategories = []string{"panel", "inverter", "battery"}

type productInput struct {
	Name       string `json:"name" validate:"required,max=200"`
	Category   string `json:"category" validate:"oneof=panel inverter battery"`
	RatedWatts int    `json:"rated_watts" validate:"gte=0"`
}

type ProductService struct {
	db core.DbClient
}

func NewProductService(db core.DbClient) *ProductService {
	return &ProductService{db: db}
}

func (s *ProductService) Create(ctx context.Context, p models.Product) (*models.Product, error) {
	p.Name = strings.TrimSpace(p.Name)
	p.Category = strings.ToLower(strings.TrimSpace(p.Category))
	if err := validateStruct(productInput{p.Name, p.Category, p.RatedWatts}); err != nil {
		return nil, err
	}
	p.ID = uuid.NewString()
	if err := s.db.CreateProduct(ctx, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *ProductService) Get(ctx context.Context, id string) (*models.Product, error) {
	return s.db.GetProductByID(ctx, id)
}

// List returns the catalog, optionally filtered by category.
func (s *ProductService) List(ctx context.Context, category string) ([]models.Product, error) {
	category = strings.ToLower(strings.TrimSpace(category))
	if category != "" && !slices.Contains(productCategories, category) {
		return nil, fmt.Errorf("%w: unknown category %q", ErrInvalidInput, category)
	}
	return s.db.ListProducts(ctx, category)
}
