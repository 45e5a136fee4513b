// Package domains manages the YAML-based registry of guessing domains.
package domains

import (
	"errors"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Domain describes one category of entity that can be guessed.
type Domain struct {
	Name          string   `yaml:"name"`
	Label         string   `yaml:"label"`
	FallbackGuess string   `yaml:"fallback_guess"`
	Aliases       []string `yaml:"aliases"`
}

// Config is the top-level YAML structure.
type Config struct {
	Domains []Domain `yaml:"domains"`
}

// Registry holds domains keyed by canonical name.
type Registry struct {
	byName  map[string]*Domain
	aliases map[string]string
	order   []string // preserves definition order
}

var builtin = []Domain{
	{Name: "animal", Label: "Animal", FallbackGuess: "dog", Aliases: []string{"animals"}},
	{Name: "food", Label: "Food", FallbackGuess: "pizza", Aliases: []string{"foods", "dish"}},
	{Name: "movie", Label: "Movie", FallbackGuess: "Avatar", Aliases: []string{"movies", "film"}},
	{Name: "book", Label: "Book", FallbackGuess: "Harry Potter", Aliases: []string{"books", "novel"}},
	{Name: "sport", Label: "Sport", FallbackGuess: "soccer", Aliases: []string{"sports"}},
	{Name: "country", Label: "Country", FallbackGuess: "France", Aliases: []string{"countries"}},
	{Name: "car", Label: "Car", FallbackGuess: "Toyota", Aliases: []string{"cars"}},
	{Name: "technology", Label: "Technology", FallbackGuess: "smartphone", Aliases: []string{"tech"}},
	{Name: "game", Label: "Game", FallbackGuess: "chess", Aliases: []string{"games"}},
}

// Default returns a registry holding only the built-in domains.
func Default() *Registry {
	r := newRegistry()
	for _, d := range builtin {
		r.add(d)
	}
	return r
}

// Load reads the YAML file at path on top of the built-in domains. Entries
// in the file replace built-ins of the same name. If the file does not
// exist, Load returns the built-in registry (not an error).
func Load(path string) (*Registry, error) {
	r := Default()
	if path == "" {
		return r, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	for _, d := range cfg.Domains {
		if Normalize(d.Name) == "" {
			return nil, errors.New("domain entry without name")
		}
		r.add(d)
	}
	return r, nil
}

func newRegistry() *Registry {
	return &Registry{
		byName:  make(map[string]*Domain),
		aliases: make(map[string]string),
	}
}

func (r *Registry) add(d Domain) {
	d.Name = Normalize(d.Name)
	if _, exists := r.byName[d.Name]; !exists {
		r.order = append(r.order, d.Name)
	}
	r.byName[d.Name] = &d
	for _, a := range d.Aliases {
		r.aliases[Normalize(a)] = d.Name
	}
}

// Normalize lowercases and trims a domain name.
func Normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Canonical maps name (or one of its aliases) to the registered domain name.
// Unknown domains are returned normalized, so free-form domains still work.
func (r *Registry) Canonical(name string) string {
	n := Normalize(name)
	if _, ok := r.byName[n]; ok {
		return n
	}
	if canonical, ok := r.aliases[n]; ok {
		return canonical
	}
	return n
}

// Get returns a domain by name or alias. Returns (nil, false) if not found.
func (r *Registry) Get(name string) (*Domain, bool) {
	d, ok := r.byName[r.Canonical(name)]
	return d, ok
}

// FallbackGuess returns the static guess for domain, or "popular {domain}"
// for domains without one.
func (r *Registry) FallbackGuess(domain string) string {
	if d, ok := r.Get(domain); ok && d.FallbackGuess != "" {
		return d.FallbackGuess
	}
	return "popular " + domain
}

// All returns all domains in definition order.
func (r *Registry) All() []*Domain {
	result := make([]*Domain, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.byName[name])
	}
	return result
}
