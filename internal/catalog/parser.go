// Package catalog loads the product seed file and syncs it into the store.
package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type SeedFile struct {
	Products []ProductSeed `yaml:"products"`
}

type ProductSeed struct {
	SKU        string `yaml:"sku"`
	Name       string `yaml:"name"`
	PriceCents int64  `yaml:"price_cents"`
	Stock      int    `yaml:"stock"`
	// Active defaults to true when omitted.
	Active *bool `yaml:"active"`
}

func (p ProductSeed) IsActive() bool {
	return p.Active == nil || *p.Active
}

type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

func (p *Parser) Parse(content []byte) (*SeedFile, error) {
	var seed SeedFile
	if err := yaml.Unmarshal(content, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return &seed, nil
}

func (p *Parser) ParseFile(path string) (*SeedFile, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog seed %s: %w", path, err)
	}
	return p.Parse(content)
}
