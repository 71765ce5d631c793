package spider

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Spider kinds. A source spider walks a shop's category tree; a listing
// spider scrapes the listings off category pages.
const (
	KindSrc = "src"
	KindLst = "lst"
)

var (
	// ErrNoShops indicates the info file declares no shops.
	ErrNoShops = errors.New("no shops found in info file")
	// ErrMissingRequiredField indicates a shop declaration is incomplete.
	ErrMissingRequiredField = errors.New("missing required field")
)

// KindSpec is the per-kind part of a shop declaration: where the crawl
// starts and which CSS selectors pull the fields out.
type KindSpec struct {
	StartURLs []string `mapstructure:"start_urls"`
	// Link selects the category links a source spider follows.
	Link string `mapstructure:"link"`
	// MaxDepth bounds how deep the category tree is walked.
	MaxDepth int `mapstructure:"max_depth"`
	// Item selects one listing on a page.
	Item string `mapstructure:"item"`
	// Text and Price select fields inside an item.
	Text  string `mapstructure:"text"`
	Price string `mapstructure:"price"`
	// Next selects the pagination link, if the shop paginates.
	Next string `mapstructure:"next"`
}

// ShopSpec is one shop's declaration in the info file.
type ShopSpec struct {
	Name           string    `mapstructure:"name"`
	AllowedDomains []string  `mapstructure:"allowed_domains"`
	Src            *KindSpec `mapstructure:"src"`
	Lst            *KindSpec `mapstructure:"lst"`
}

// Spec is one registered spider: a shop and kind pair, named
// <shop>_<kind>.
type Spec struct {
	Name           string
	Shop           string
	Kind           string
	AllowedDomains []string
	Fields         KindSpec
}

// infoFile is the structure of the info YAML file.
type infoFile struct {
	Shops []map[string]any `yaml:"shops"`
}

// Registry holds the spiders declared by the info file.
type Registry struct {
	specs map[string]*Spec
}

// LoadRegistry reads shop declarations from the info file at path and
// registers a spider per declared shop and kind.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read info file: %w", err)
	}

	var file infoFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse info file: %w", err)
	}
	if len(file.Shops) == 0 {
		return nil, ErrNoShops
	}

	registry := &Registry{specs: map[string]*Spec{}}
	for _, raw := range file.Shops {
		shop, convertErr := convertShop(raw)
		if convertErr != nil {
			return nil, convertErr
		}
		if validateErr := validateShop(shop); validateErr != nil {
			return nil, validateErr
		}
		registry.register(shop)
	}
	if len(registry.specs) == 0 {
		return nil, ErrNoShops
	}
	return registry, nil
}

func convertShop(raw map[string]any) (*ShopSpec, error) {
	var shop ShopSpec
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &shop,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToSliceHookFunc(","),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	if decodeErr := decoder.Decode(raw); decodeErr != nil {
		return nil, fmt.Errorf("failed to decode shop: %w", decodeErr)
	}
	return &shop, nil
}

func validateShop(shop *ShopSpec) error {
	if shop.Name == "" {
		return fmt.Errorf("%w: name", ErrMissingRequiredField)
	}
	if shop.Src == nil && shop.Lst == nil {
		return fmt.Errorf("shop %q: %w: src or lst", shop.Name, ErrMissingRequiredField)
	}
	if shop.Src != nil {
		if shop.Src.Link == "" {
			return fmt.Errorf("shop %q src: %w: link", shop.Name, ErrMissingRequiredField)
		}
		if shop.Src.MaxDepth <= 0 {
			shop.Src.MaxDepth = 3
		}
	}
	if shop.Lst != nil {
		if shop.Lst.Item == "" {
			return fmt.Errorf("shop %q lst: %w: item", shop.Name, ErrMissingRequiredField)
		}
		if shop.Lst.Text == "" {
			return fmt.Errorf("shop %q lst: %w: text", shop.Name, ErrMissingRequiredField)
		}
	}
	return nil
}

func (r *Registry) register(shop *ShopSpec) {
	if shop.Src != nil {
		name := fmt.Sprintf("%s_%s", shop.Name, KindSrc)
		r.specs[name] = &Spec{
			Name:           name,
			Shop:           shop.Name,
			Kind:           KindSrc,
			AllowedDomains: shop.AllowedDomains,
			Fields:         *shop.Src,
		}
	}
	if shop.Lst != nil {
		name := fmt.Sprintf("%s_%s", shop.Name, KindLst)
		r.specs[name] = &Spec{
			Name:           name,
			Shop:           shop.Name,
			Kind:           KindLst,
			AllowedDomains: shop.AllowedDomains,
			Fields:         *shop.Lst,
		}
	}
}

// Get returns the spec of the named spider.
func (r *Registry) Get(name string) (*Spec, error) {
	spec, ok := r.specs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSpiderNotFound, name)
	}
	return spec, nil
}

// Names returns the registered spider names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.specs))
	for name := range r.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns the registered specs ordered by name.
func (r *Registry) All() []*Spec {
	all := make([]*Spec, 0, len(r.specs))
	for _, name := range r.Names() {
		all = append(all, r.specs[name])
	}
	return all
}
