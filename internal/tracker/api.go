package tracker

import "github.com/vincentbai/shoptrace/internal/models"

type Product struct {
	SKU      string
	Name     string
	Price    float64
	Category string
}

// CartItem is a line of the shopping cart as the cart UI stores it.
type CartItem struct {
	Code     string
	Quantity int
}

func (e *Engine) TrackSearch(term string, resultsCount int) {
	e.Track(models.KindSearch, map[string]any{
		"term":          term,
		"results_count": resultsCount,
	})
}

func (e *Engine) TrackProductView(p Product) {
	e.Track(models.KindProductView, map[string]any{
		"sku":      p.SKU,
		"name":     p.Name,
		"price":    p.Price,
		"category": p.Category,
	})
}

func (e *Engine) TrackAddToCart(p Product, quantity int) {
	e.Track(models.KindAddToCart, map[string]any{
		"sku":      p.SKU,
		"name":     p.Name,
		"price":    p.Price,
		"quantity": quantity,
	})
}

func (e *Engine) TrackRemoveFromCart(sku, name string) {
	e.Track(models.KindRemoveFromCart, map[string]any{
		"sku":  sku,
		"name": name,
	})
}

func (e *Engine) TrackCheckoutStart(items []CartItem, total float64) {
	lines := make([]map[string]any, 0, len(items))
	for _, item := range items {
		lines = append(lines, map[string]any{
			"sku":      item.Code,
			"quantity": item.Quantity,
		})
	}
	e.Track(models.KindCheckoutStart, map[string]any{
		"items_count": len(items),
		"total":       total,
		"items":       lines,
	})
}

func (e *Engine) TrackCategoryFilter(category string) {
	e.Track(models.KindFilterCategory, map[string]any{"category": category})
}

// TrackFeaturedFilter records the featured-only toggle; value is whatever the
// filter control reports.
func (e *Engine) TrackFeaturedFilter(value any) {
	e.Track(models.KindFilterFeatured, map[string]any{"value": value})
}
