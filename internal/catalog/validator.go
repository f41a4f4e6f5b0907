package catalog

import (
	"fmt"
	"regexp"
	"strings"
)

type Validator struct{}

func NewValidator() *Validator {
	return &Validator{}
}

var skuRegex = regexp.MustCompile(`^[A-Z0-9][A-Z0-9_-]{0,63}$`)

// IsValidSKU accepts upper-case letters, digits, dashes and underscores.
func IsValidSKU(sku string) bool {
	return skuRegex.MatchString(sku)
}

func (v *Validator) Validate(seed *SeedFile) error {
	if seed == nil || len(seed.Products) == 0 {
		return fmt.Errorf("at least one product is required")
	}

	skus := make(map[string]bool, len(seed.Products))
	for i, product := range seed.Products {
		if err := v.validateProduct(product); err != nil {
			return fmt.Errorf("product %d validation failed: %w", i, err)
		}

		if skus[product.SKU] {
			return fmt.Errorf("duplicate SKU: %s", product.SKU)
		}
		skus[product.SKU] = true
	}

	return nil
}

func (v *Validator) validateProduct(product ProductSeed) error {
	if !IsValidSKU(product.SKU) {
		return fmt.Errorf("product SKU %q is invalid", product.SKU)
	}

	if strings.TrimSpace(product.Name) == "" {
		return fmt.Errorf("product name is required")
	}

	if product.PriceCents <= 0 {
		return fmt.Errorf("product price must be positive")
	}

	if product.Stock < 0 {
		return fmt.Errorf("product stock must be zero or positive")
	}

	return nil
}
