package catalog

import (
	"errors"
	"fmt"
)

var (
	// ErrProductNotFound is returned when a canvas operation names a product
	// that is not on the canvas.
	ErrProductNotFound = errors.New("product not on canvas")
	// ErrQuantityLimit is returned when a single-instance product would get
	// a quantity above one.
	ErrQuantityLimit = errors.New("quantity limit reached for product type")
)

// AddResult describes how Add changed the canvas.
type AddResult struct {
	// Replaced is the product removed because it shared a single-instance
	// type with the added one.
	Replaced *Product
	// Incremented is true when the product was already present and its
	// quantity grew instead of a new entry being appended.
	Incremented bool
}

// Canvas is the ordered live product list. It is not safe for concurrent
// use; the owning session serializes access.
type Canvas struct {
	products []Product
}

// NewCanvas returns a canvas seeded with copies of the given products.
func NewCanvas(products ...Product) *Canvas {
	c := &Canvas{}
	c.Replace(products)
	return c
}

// Add places a product on the canvas under its type's quantity policy.
func (c *Canvas) Add(p Product) (AddResult, error) {
	if p.ID == "" {
		return AddResult{}, fmt.Errorf("%w: missing id", ErrInvalidProduct)
	}
	p = p.Clone()
	if p.Quantity <= 0 {
		p.Quantity = 1
	}

	if p.Policy() == Unlimited {
		if idx := c.index(p.ID); idx >= 0 {
			c.products[idx].Quantity += p.Quantity
			return AddResult{Incremented: true}, nil
		}
		c.products = append(c.products, p)
		return AddResult{}, nil
	}

	p.Quantity = 1
	typ := NormalizeType(p.ProductType)
	for i, existing := range c.products {
		if existing.ID == p.ID || (typ != "" && NormalizeType(existing.ProductType) == typ) {
			replaced := existing.Clone()
			c.products[i] = p
			c.dedupe(i, p.ID)
			if replaced.ID == p.ID {
				return AddResult{}, nil
			}
			return AddResult{Replaced: &replaced}, nil
		}
	}
	c.products = append(c.products, p)
	return AddResult{}, nil
}

// dedupe removes any other entry with id, keeping the one at keep.
func (c *Canvas) dedupe(keep int, id string) {
	out := c.products[:0]
	for i, p := range c.products {
		if i != keep && p.ID == id {
			continue
		}
		out = append(out, p)
	}
	c.products = out
}

// Remove deletes the product with the given ID.
func (c *Canvas) Remove(id string) error {
	idx := c.index(id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrProductNotFound, id)
	}
	c.products = append(c.products[:idx], c.products[idx+1:]...)
	return nil
}

// Increment raises the quantity of a product by one.
func (c *Canvas) Increment(id string) error {
	idx := c.index(id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrProductNotFound, id)
	}
	return c.SetQuantity(id, c.products[idx].Quantity+1)
}

// Decrement lowers the quantity of a product by one, removing it at zero.
func (c *Canvas) Decrement(id string) error {
	idx := c.index(id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrProductNotFound, id)
	}
	return c.SetQuantity(id, c.products[idx].Quantity-1)
}

// SetQuantity sets a product's quantity. Zero or less removes the product.
func (c *Canvas) SetQuantity(id string, n int) error {
	idx := c.index(id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrProductNotFound, id)
	}
	if n <= 0 {
		c.products = append(c.products[:idx], c.products[idx+1:]...)
		return nil
	}
	if n > 1 && c.products[idx].Policy() == SingleInstance {
		return fmt.Errorf("%w: %s", ErrQuantityLimit, c.products[idx].ProductType)
	}
	c.products[idx].Quantity = n
	return nil
}

// Clear empties the canvas.
func (c *Canvas) Clear() {
	c.products = nil
}

// Replace swaps the canvas contents for copies of products. Entries with a
// non-positive quantity are dropped.
func (c *Canvas) Replace(products []Product) {
	c.products = make([]Product, 0, len(products))
	for _, p := range products {
		if p.Quantity <= 0 {
			continue
		}
		c.products = append(c.products, p.Clone())
	}
}

// Get returns a copy of the product with the given ID.
func (c *Canvas) Get(id string) (Product, bool) {
	idx := c.index(id)
	if idx < 0 {
		return Product{}, false
	}
	return c.products[idx].Clone(), true
}

// Products returns a deep copy of the canvas in placement order.
func (c *Canvas) Products() []Product {
	return CloneProducts(c.products)
}

// Quantities returns product ID to quantity.
func (c *Canvas) Quantities() map[string]int {
	return Quantities(c.products)
}

// Len returns the number of distinct products.
func (c *Canvas) Len() int {
	return len(c.products)
}

// Empty reports whether the canvas holds no products.
func (c *Canvas) Empty() bool {
	return len(c.products) == 0
}

func (c *Canvas) index(id string) int {
	for i, p := range c.products {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// Quantities maps product ID to quantity for a product list.
func Quantities(products []Product) map[string]int {
	out := make(map[string]int, len(products))
	for _, p := range products {
		if p.Quantity <= 0 {
			continue
		}
		out[p.ID] += p.Quantity
	}
	return out
}
