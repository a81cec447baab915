package catalog

import "strings"

// Policy decides what happens when a product of an already present type is
// added to the canvas.
type Policy int

const (
	// SingleInstance types allow one product per canvas. Adding another
	// product of the same type replaces the existing one.
	SingleInstance Policy = iota
	// Unlimited types are always appended.
	Unlimited
)

func (p Policy) String() string {
	switch p {
	case Unlimited:
		return "unlimited"
	default:
		return "single_instance"
	}
}

var policies = map[string]Policy{
	"sofa":         SingleInstance,
	"bed":          SingleInstance,
	"coffee table": SingleInstance,
	"floor rug":    SingleInstance,
	"ceiling lamp": SingleInstance,
	"planter":      Unlimited,
	"lamp":         Unlimited,
	"side table":   Unlimited,
	"ottoman":      Unlimited,
}

var typeAliases = map[string]string{
	"couch":          "sofa",
	"sectional":      "sofa",
	"loveseat":       "sofa",
	"rug":            "floor rug",
	"area rug":       "floor rug",
	"carpet":         "floor rug",
	"chandelier":     "ceiling lamp",
	"pendant":        "ceiling lamp",
	"pendant light":  "ceiling lamp",
	"pendant lamp":   "ceiling lamp",
	"ceiling light":  "ceiling lamp",
	"plant":          "planter",
	"potted plant":   "planter",
	"pot":            "planter",
	"floor lamp":     "lamp",
	"table lamp":     "lamp",
	"desk lamp":      "lamp",
	"end table":      "side table",
	"nightstand":     "side table",
	"accent table":   "side table",
	"pouf":           "ottoman",
	"footstool":      "ottoman",
	"cocktail table": "coffee table",
}

// NormalizeType folds case, separators and simple plurals so that
// "Coffee_Tables", "coffee-table" and "coffee table" compare equal. Known
// synonyms map to their canonical type.
func NormalizeType(productType string) string {
	s := strings.ToLower(strings.TrimSpace(productType))
	s = strings.NewReplacer("_", " ", "-", " ", "/", " ").Replace(s)
	words := strings.Fields(s)
	if len(words) == 0 {
		return ""
	}
	words[len(words)-1] = singular(words[len(words)-1])
	s = strings.Join(words, " ")
	if canonical, ok := typeAliases[s]; ok {
		return canonical
	}
	return s
}

func singular(word string) string {
	switch {
	case len(word) > 3 && strings.HasSuffix(word, "ies"):
		return word[:len(word)-3] + "y"
	case strings.HasSuffix(word, "ches"), strings.HasSuffix(word, "shes"),
		strings.HasSuffix(word, "sses"), strings.HasSuffix(word, "xes"):
		return word[:len(word)-2]
	case len(word) > 1 && strings.HasSuffix(word, "s") && !strings.HasSuffix(word, "ss"):
		return word[:len(word)-1]
	}
	return word
}

// PolicyFor returns the quantity policy for a product type. Unclassified
// types are single-instance.
func PolicyFor(productType string) Policy {
	if p, ok := policies[NormalizeType(productType)]; ok {
		return p
	}
	return SingleInstance
}
