package process

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/supplywise/supplybot/internal/marketplace"
	"github.com/supplywise/supplybot/internal/models"
)

// maxListedArticles bounds how many missing articles the error message
// names before truncating with a count suffix.
const maxListedArticles = 20

// ResolveSKUs fills in the SKU of every line item. Articles that parse
// as a positive number are treated directly as SKUs; the rest are
// batch-resolved through the offer-id lookup. Any article left
// unresolved fails the whole task.
func ResolveSKUs(ctx context.Context, client marketplace.Client, creds models.Credentials, items []models.TaskItem) ([]models.TaskItem, error) {
	resolved := make([]models.TaskItem, len(items))
	copy(resolved, items)

	var pending []string
	for i, item := range resolved {
		if item.SKU > 0 {
			continue
		}
		if sku, err := strconv.ParseInt(strings.TrimSpace(item.Article), 10, 64); err == nil && sku > 0 {
			resolved[i].SKU = sku
			continue
		}
		pending = append(pending, item.Article)
	}

	if len(pending) > 0 {
		skus, err := client.ResolveSKUsByOfferIDs(ctx, creds, pending)
		if err != nil {
			return nil, fmt.Errorf("sku lookup failed: %w", err)
		}
		for i, item := range resolved {
			if item.SKU > 0 {
				continue
			}
			if sku, ok := skus[item.Article]; ok && sku > 0 {
				resolved[i].SKU = sku
			}
		}
	}

	var missing []string
	for _, item := range resolved {
		if item.SKU <= 0 {
			missing = append(missing, item.Article)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("unresolved articles: %s", formatMissing(missing))
	}
	return resolved, nil
}

func formatMissing(missing []string) string {
	if len(missing) <= maxListedArticles {
		return strings.Join(missing, ", ")
	}
	listed := strings.Join(missing[:maxListedArticles], ", ")
	return fmt.Sprintf("%s and %d more", listed, len(missing)-maxListedArticles)
}
