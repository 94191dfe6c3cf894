// Package catalog holds the merchant's sellable items and the matcher port
// that turns a free-text intent into a short list of them.
package catalog

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

//go:embed travel.yaml
var defaultCatalog []byte

// Item is a sellable catalog entry
type Item struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Destination string          `json:"destination,omitempty"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Currency    string          `json:"currency"`
	Refundable  bool            `json:"refundable"`
	Tags        []string        `json:"tags,omitempty"`
}

// Catalog is an ordered, read-only list of items offered by one merchant
type Catalog struct {
	Merchant string
	Currency string
	items    []Item
	byID     map[string]int
}

type catalogFile struct {
	Merchant string     `yaml:"merchant"`
	Currency string     `yaml:"currency"`
	Items    []itemFile `yaml:"items"`
}

// Prices are quoted strings so they never pass through a float
type itemFile struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Destination string   `yaml:"destination,omitempty"`
	Description string   `yaml:"description,omitempty"`
	Price       string   `yaml:"price"`
	Currency    string   `yaml:"currency,omitempty"`
	Refundable  bool     `yaml:"refundable"`
	Tags        []string `yaml:"tags,omitempty"`
}

// Parse parses raw YAML into a Catalog and validates it
func Parse(data []byte) (*Catalog, error) {
	var raw catalogFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	if raw.Merchant == "" {
		return nil, fmt.Errorf("catalog: merchant is required")
	}

	items := make([]Item, 0, len(raw.Items))
	for i, it := range raw.Items {
		if it.ID == "" {
			return nil, fmt.Errorf("catalog: item %d: id is required", i)
		}
		price, err := decimal.NewFromString(it.Price)
		if err != nil {
			return nil, fmt.Errorf("catalog: item %s: invalid price %q: %w", it.ID, it.Price, err)
		}
		if !price.IsPositive() {
			return nil, fmt.Errorf("catalog: item %s: price must be positive", it.ID)
		}
		currency := it.Currency
		if currency == "" {
			currency = raw.Currency
		}
		if currency == "" {
			return nil, fmt.Errorf("catalog: item %s: currency is required", it.ID)
		}
		items = append(items, Item{
			ID:          it.ID,
			Name:        it.Name,
			Destination: it.Destination,
			Description: it.Description,
			Price:       price,
			Currency:    currency,
			Refundable:  it.Refundable,
			Tags:        it.Tags,
		})
	}

	return New(raw.Merchant, raw.Currency, items)
}

// New builds a catalog from items, rejecting duplicate ids
func New(merchant, currency string, items []Item) (*Catalog, error) {
	c := &Catalog{
		Merchant: merchant,
		Currency: currency,
		items:    make([]Item, len(items)),
		byID:     make(map[string]int, len(items)),
	}
	copy(c.items, items)
	for i, it := range c.items {
		if _, dup := c.byID[it.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate item id %s", it.ID)
		}
		c.byID[it.ID] = i
	}
	return c, nil
}

// Load reads a catalog file
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Default returns the built-in travel catalog
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("built-in catalog is invalid: %v", err))
	}
	return c
}

// Items returns a copy of the catalog entries in catalog order
func (c *Catalog) Items() []Item {
	out := make([]Item, len(c.items))
	copy(out, c.items)
	return out
}

// Len returns the number of items
func (c *Catalog) Len() int {
	return len(c.items)
}

// Lookup finds an item by id
func (c *Catalog) Lookup(id string) (Item, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Item{}, false
	}
	return c.items[i], true
}

// Resolve maps ids to items, dropping unknown and repeated ids and keeping
// at most limit entries.
func (c *Catalog) Resolve(ids []string, limit int) []Item {
	seen := make(map[string]bool, len(ids))
	out := make([]Item, 0, limit)
	for _, id := range ids {
		if len(out) == limit {
			break
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		if it, ok := c.Lookup(id); ok {
			out = append(out, it)
		}
	}
	return out
}
