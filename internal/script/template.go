package script

import (
	"fmt"
	"strings"

	"github.com/promoreel/promoreel-api/internal/generation"
)

// styleOpeners maps each style to a fixed opening line so the fallback
// output is deterministic for a given input.
var styleOpeners = map[generation.Style]string{
	generation.StyleModerne:     "Meet the upgrade you didn't know you needed:",
	generation.StyleDynamique:   "Stop scrolling. This changes everything:",
	generation.StyleMinimaliste: "One product. One idea.",
	generation.StyleLuxe:        "Some things are simply in a class of their own.",
}

// TemplateScript builds a deterministic marketing script from the
// product info. Used whenever the script provider is unavailable.
func TemplateScript(product generation.ProductInfo, style generation.Style, durationSeconds int) string {
	opener, ok := styleOpeners[style]
	if !ok {
		opener = styleOpeners[generation.StyleModerne]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s.\n", opener, product.Name)
	fmt.Fprintf(&b, "%s\n", strings.TrimSpace(product.Description))
	if product.TargetAudience != "" {
		fmt.Fprintf(&b, "Made for %s.\n", product.TargetAudience)
	}
	if product.Price != "" {
		fmt.Fprintf(&b, "Yours for %s.\n", product.Price)
	}
	if durationSeconds >= 20 {
		fmt.Fprintf(&b, "Don't just take our word for it. See the difference %s makes, today.\n", product.Name)
	}
	b.WriteString("Order now.")
	return b.String()
}
