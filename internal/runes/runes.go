package runes

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/suspectuso/runes-oracle/internal/config"
)

//go:embed runes.json
var catalogJSON []byte

// Rune is one catalog entry
type Rune struct {
	Key        string `json:"key"`
	Name       string `json:"name"`
	Meaning    string `json:"meaning"`
	Reversible bool   `json:"reversible"`
}

// Drawn is a rune as it fell in a spread
type Drawn struct {
	Rune
	Reversed bool
	Position string
}

// Title is the display name including orientation
func (d Drawn) Title() string {
	if d.Reversed {
		return d.Name + " (перевёрнутая)"
	}
	return d.Name
}

// Spread describes a paid draw
type Spread struct {
	Kind      string
	Title     string
	Positions []string
}

// Spreads are keyed by draw kind
var Spreads = map[string]Spread{
	config.KindOneRune: {
		Kind:      config.KindOneRune,
		Title:     "Одна руна",
		Positions: []string{"Ответ"},
	},
	config.KindThreeRunes: {
		Kind:      config.KindThreeRunes,
		Title:     "Три руны",
		Positions: []string{"Ситуация", "Вызов", "Совет"},
	},
	config.KindFourRunes: {
		Kind:      config.KindFourRunes,
		Title:     "Четыре руны",
		Positions: []string{"Ситуация", "Что мешает", "Что поможет", "Итог"},
	},
	config.KindFate: {
		Kind:      config.KindFate,
		Title:     "Судьба",
		Positions: []string{"Прошлое", "Настоящее", "Будущее"},
	},
	config.KindField: {
		Kind:      config.KindField,
		Title:     "Вспаханное поле",
		Positions: []string{"Почва", "Семя", "Рост", "Угроза", "Урожай"},
	},
}

// Catalog draws runes from the embedded set
type Catalog struct {
	runes []Rune

	mu  sync.Mutex
	rng *rand.Rand
}

// Load parses the embedded catalog
func Load() (*Catalog, error) {
	var list []Rune
	if err := json.Unmarshal(catalogJSON, &list); err != nil {
		return nil, fmt.Errorf("parse rune catalog: %w", err)
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("rune catalog is empty")
	}
	return &Catalog{
		runes: list,
		rng:   rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}, nil
}

// Len returns the catalog size
func (c *Catalog) Len() int {
	return len(c.runes)
}

// Draw picks n distinct runes; reversible ones fall reversed half the time
func (c *Catalog) Draw(n int) ([]Drawn, error) {
	if n < 1 || n > len(c.runes) {
		return nil, fmt.Errorf("cannot draw %d of %d runes", n, len(c.runes))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Drawn, 0, n)
	for _, i := range c.rng.Perm(len(c.runes))[:n] {
		r := c.runes[i]
		out = append(out, Drawn{
			Rune:     r,
			Reversed: r.Reversible && c.rng.IntN(2) == 1,
		})
	}
	return out, nil
}

// Cast draws the runes of a spread and assigns positions
func (c *Catalog) Cast(kind string) (Spread, []Drawn, error) {
	spread, ok := Spreads[kind]
	if !ok {
		return Spread{}, nil, fmt.Errorf("unknown spread %q", kind)
	}
	drawn, err := c.Draw(len(spread.Positions))
	if err != nil {
		return Spread{}, nil, err
	}
	for i := range drawn {
		drawn[i].Position = spread.Positions[i]
	}
	return spread, drawn, nil
}
