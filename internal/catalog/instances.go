package catalog

import (
	"fmt"
	"strconv"
)

// DefaultStyleWeight is sent for products without a style_weight attribute.
const DefaultStyleWeight = 1.0

// Instance is one placed unit of a product, the unit the renderer addresses.
type Instance struct {
	InstanceID  string  `json:"id"`
	ProductID   string  `json:"product_id"`
	Name        string  `json:"name"`
	BaseName    string  `json:"base_name,omitempty"`
	StyleWeight float64 `json:"style_weight"`
	Category    string  `json:"category,omitempty"`
	ImageURL    string  `json:"image_url,omitempty"`
	Description string  `json:"description,omitempty"`
	Index       int     `json:"index"`
	Count       int     `json:"count"`
}

// InstanceLabel names the index-th of count units. A lone unit keeps the
// bare product name.
func InstanceLabel(name string, index, count int) string {
	if count <= 1 {
		return name
	}
	return fmt.Sprintf("%s (%d of %d)", name, index, count)
}

// Expand converts each product with quantity N into N instances labeled
// "Name (i of N)".
func Expand(products []Product) []Instance {
	var out []Instance
	for _, p := range products {
		out = append(out, ExpandRange(p, 1)...)
	}
	return out
}

// ExpandRange returns the instances of p with index from..p.Quantity. Each
// is labeled with its final index and the product's full count, so adding
// a third lamp yields only "Lamp (3 of 3)".
func ExpandRange(p Product, from int) []Instance {
	if from < 1 {
		from = 1
	}
	if p.Quantity < from {
		return nil
	}
	weight := DefaultStyleWeight
	if raw, ok := p.Attributes["style_weight"]; ok {
		if w, err := strconv.ParseFloat(raw, 64); err == nil {
			weight = w
		}
	}
	out := make([]Instance, 0, p.Quantity-from+1)
	for i := from; i <= p.Quantity; i++ {
		out = append(out, Instance{
			InstanceID:  fmt.Sprintf("%s-%d", p.ID, i),
			ProductID:   p.ID,
			Name:        InstanceLabel(p.Name, i, p.Quantity),
			BaseName:    p.Name,
			StyleWeight: weight,
			Category:    p.ProductType,
			ImageURL:    p.ImageURL,
			Description: p.Description,
			Index:       i,
			Count:       p.Quantity,
		})
	}
	return out
}

// Collapse groups instances by base product ID and recovers quantities.
func Collapse(instances []Instance) map[string]int {
	out := make(map[string]int)
	for _, inst := range instances {
		if inst.ProductID == "" {
			continue
		}
		out[inst.ProductID]++
	}
	return out
}
