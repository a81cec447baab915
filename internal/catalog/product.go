// Package catalog defines the canonical canvas product, the quantity policy
// enforced when products are placed, and the expansion of quantities into
// individually addressable render instances.
package catalog

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrInvalidProduct is returned by Normalize for records that cannot be
	// turned into a canvas product.
	ErrInvalidProduct = errors.New("invalid product")
)

// Product is a product placed on the canvas. Identity is ID.
type Product struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Price       float64           `json:"price"`
	ImageURL    string            `json:"image_url,omitempty"`
	ProductType string            `json:"product_type,omitempty"`
	Quantity    int               `json:"quantity"`
	SourceURL   string            `json:"source_url,omitempty"`
	Source      string            `json:"source,omitempty"`
	Description string            `json:"description,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// Clone returns a deep copy of the product.
func (p Product) Clone() Product {
	out := p
	if p.Attributes != nil {
		out.Attributes = make(map[string]string, len(p.Attributes))
		for k, v := range p.Attributes {
			out.Attributes[k] = v
		}
	}
	return out
}

// Policy reports the quantity policy for the product's type.
func (p Product) Policy() Policy {
	return PolicyFor(p.ProductType)
}

// CloneProducts deep-copies a product list.
func CloneProducts(products []Product) []Product {
	if products == nil {
		return nil
	}
	out := make([]Product, len(products))
	for i, p := range products {
		out[i] = p.Clone()
	}
	return out
}

// Normalize converts a loosely shaped product record into a Product. It
// accepts the field spellings produced by the chat assistant, the product
// search and older saved drafts:
//
//	source_website | source
//	image_url | imageUrl | image
//	product_type | productType | category
//	source_url | sourceUrl | url | product_url
//
// Prices may be numbers or strings such as "$1,299.00". A missing or
// non-positive quantity becomes 1.
func Normalize(raw map[string]any) (Product, error) {
	if raw == nil {
		return Product{}, fmt.Errorf("%w: empty record", ErrInvalidProduct)
	}
	p := Product{
		ID:          firstString(raw, "id", "product_id", "productId"),
		Name:        firstString(raw, "name", "title"),
		ImageURL:    firstString(raw, "image_url", "imageUrl", "image"),
		ProductType: firstString(raw, "product_type", "productType", "category"),
		SourceURL:   firstString(raw, "source_url", "sourceUrl", "product_url", "url"),
		Source:      firstString(raw, "source", "source_website", "sourceWebsite", "store"),
		Description: firstString(raw, "description"),
	}
	if p.ID == "" {
		return Product{}, fmt.Errorf("%w: missing id", ErrInvalidProduct)
	}
	if p.Name == "" {
		return Product{}, fmt.Errorf("%w: product %s missing name", ErrInvalidProduct, p.ID)
	}

	price, err := parsePrice(raw["price"])
	if err != nil {
		return Product{}, fmt.Errorf("%w: product %s: %v", ErrInvalidProduct, p.ID, err)
	}
	p.Price = price

	p.Quantity = 1
	if qty, ok := toInt(raw["quantity"]); ok && qty > 0 {
		p.Quantity = qty
	}

	if attrs, ok := raw["attributes"].(map[string]any); ok && len(attrs) > 0 {
		p.Attributes = make(map[string]string, len(attrs))
		for k, v := range attrs {
			if v == nil {
				continue
			}
			p.Attributes[k] = fmt.Sprint(v)
		}
	}
	return p, nil
}

// NormalizeAll normalizes a list of records, failing on the first invalid one.
func NormalizeAll(raw []map[string]any) ([]Product, error) {
	out := make([]Product, 0, len(raw))
	for i, r := range raw {
		p, err := Normalize(r)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func firstString(raw map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := raw[key].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case int:
			return strconv.Itoa(v)
		case int64:
			return strconv.FormatInt(v, 10)
		}
	}
	return ""
}

func parsePrice(v any) (float64, error) {
	switch typed := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return typed, nil
	case float32:
		return float64(typed), nil
	case int:
		return float64(typed), nil
	case int64:
		return float64(typed), nil
	case string:
		cleaned := strings.Map(func(r rune) rune {
			if (r >= '0' && r <= '9') || r == '.' || r == '-' {
				return r
			}
			return -1
		}, typed)
		if cleaned == "" {
			return 0, nil
		}
		f, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0, fmt.Errorf("unparseable price %q", typed)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("unsupported price type %T", v)
	}
}

func toInt(v any) (int, bool) {
	switch typed := v.(type) {
	case int:
		return typed, true
	case int64:
		return int(typed), true
	case float64:
		return int(typed), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(typed))
		return n, err == nil
	default:
		return 0, false
	}
}
