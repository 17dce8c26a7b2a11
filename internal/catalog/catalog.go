// Package catalog holds the priced gifts (mimos) and CRISEX transfer amounts.
package catalog

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownMimo   = errors.New("unknown mimo")
	ErrInvalidAmount = errors.New("amount not offered")
)

type Mimo struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Icon  string `json:"icon" yaml:"icon"`
	Price int64  `json:"price" yaml:"price"`
}

type Catalog struct {
	Mimos          []Mimo  `json:"mimos" yaml:"mimos"`
	CrisexAmounts  []int64 `json:"crisex_amounts" yaml:"crisex_amounts"`
	CrisexGiftIcon string  `json:"crisex_icon" yaml:"crisex_icon"`
}

// Default is the built-in catalog used when no file is configured.
func Default() *Catalog {
	return &Catalog{
		Mimos: []Mimo{
			{ID: "m1", Name: "Curtida Premium", Icon: "❤️", Price: 10},
			{ID: "m2", Name: "Destaque", Icon: "🌟", Price: 50},
			{ID: "m3", Name: "Presente", Icon: "🎁", Price: 100},
			{ID: "m4", Name: "Super Mimo", Icon: "🔥", Price: 500},
			{ID: "m5", Name: "Mimo VIP", Icon: "👑", Price: 1000},
		},
		CrisexAmounts:  []int64{50, 100, 200, 500, 1000, 2000, 5000, 10000},
		CrisexGiftIcon: "💰",
	}
}

// Load reads a YAML catalog. An empty path returns the default catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	c := &Catalog{}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if c.CrisexGiftIcon == "" {
		c.CrisexGiftIcon = Default().CrisexGiftIcon
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) Validate() error {
	if len(c.Mimos) == 0 {
		return errors.New("catalog: no mimos defined")
	}
	seen := make(map[string]bool, len(c.Mimos))
	for _, m := range c.Mimos {
		if m.ID == "" || m.Name == "" {
			return fmt.Errorf("catalog: mimo %q needs an id and a name", m.ID)
		}
		if m.Price <= 0 {
			return fmt.Errorf("catalog: mimo %q must have a positive price", m.ID)
		}
		if seen[m.ID] {
			return fmt.Errorf("catalog: duplicate mimo %q", m.ID)
		}
		seen[m.ID] = true
	}
	for _, a := range c.CrisexAmounts {
		if a <= 0 {
			return fmt.Errorf("catalog: crisex amount %d must be positive", a)
		}
	}
	return nil
}

func (c *Catalog) Mimo(id string) (Mimo, error) {
	for _, m := range c.Mimos {
		if m.ID == id {
			return m, nil
		}
	}
	return Mimo{}, ErrUnknownMimo
}

// CheckCrisexAmount accepts only the offered transfer amounts.
func (c *Catalog) CheckCrisexAmount(amount int64) error {
	for _, a := range c.CrisexAmounts {
		if a == amount {
			return nil
		}
	}
	return ErrInvalidAmount
}
