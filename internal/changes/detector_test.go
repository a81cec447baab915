package changes

import (
	"reflect"
	"testing"

	"github.com/haasonsaas/roomviz/internal/catalog"
)

func products(pairs ...any) []catalog.Product {
	var out []catalog.Product
	for i := 0; i+1 < len(pairs); i += 2 {
		id := pairs[i].(string)
		out = append(out, catalog.Product{ID: id, Name: id, Quantity: pairs[i+1].(int)})
	}
	return out
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name       string
		live       []catalog.Product
		visualized map[string]int
		want       Kind
	}{
		{name: "both empty", live: nil, visualized: nil, want: NoChange},
		{name: "first render", live: products("sofa", 1), visualized: map[string]int{}, want: Initial},
		{name: "identical", live: products("sofa", 1, "lamp", 2), visualized: map[string]int{"sofa": 1, "lamp": 2}, want: NoChange},
		{name: "new product", live: products("sofa", 1, "lamp", 1), visualized: map[string]int{"sofa": 1}, want: Additive},
		{name: "quantity increase", live: products("lamp", 3), visualized: map[string]int{"lamp": 2}, want: Additive},
		{name: "removal", live: products("lamp", 1), visualized: map[string]int{"sofa": 1, "lamp": 1}, want: Reset},
		{name: "removal wins over addition", live: products("lamp", 1, "rug", 1), visualized: map[string]int{"sofa": 1, "lamp": 1}, want: Reset},
		{name: "partial decrement", live: products("lamp", 1), visualized: map[string]int{"lamp": 2}, want: Reset},
		{name: "canvas cleared", live: nil, visualized: map[string]int{"sofa": 1}, want: Reset},
		{name: "zero entries ignored", live: products("sofa", 1), visualized: map[string]int{"ghost": 0}, want: Initial},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Detect(tt.live, tt.visualized); got != tt.want {
				t.Fatalf("Detect() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDetectSupersetIsAdditive(t *testing.T) {
	visualized := map[string]int{"a": 1, "b": 2}
	for extra := 1; extra <= 3; extra++ {
		live := products("a", 1, "b", 2+extra, "c", extra)
		if got := Detect(live, visualized); got != Additive {
			t.Fatalf("superset with extra %d: Detect() = %s", extra, got)
		}
	}
}

func TestDelta(t *testing.T) {
	live := []catalog.Product{
		{ID: "sofa", Name: "Sofa", Quantity: 1},
		{ID: "lamp", Name: "Lamp", Quantity: 3},
		{ID: "rug", Name: "Rug", Quantity: 1},
	}
	visualized := map[string]int{"sofa": 1, "lamp": 1}

	delta := Delta(live, visualized)
	var names []string
	for _, inst := range delta {
		names = append(names, inst.Name)
	}
	want := []string{"Lamp (2 of 3)", "Lamp (3 of 3)", "Rug"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("Delta() names = %v, want %v", names, want)
	}
}

func TestRemoved(t *testing.T) {
	got := Removed(products("lamp", 1), map[string]int{"sofa": 1, "lamp": 1, "bed": 1})
	if !reflect.DeepEqual(got, []string{"bed", "sofa"}) {
		t.Fatalf("Removed() = %v", got)
	}
}

func TestNeedsRerender(t *testing.T) {
	if NeedsRerender(nil, nil) {
		t.Fatalf("empty canvas with nothing rendered should not need a render")
	}
	if !NeedsRerender(products("sofa", 1), nil) {
		t.Fatalf("new product should need a render")
	}
}
