package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dealflow/listing-matcher/internal/biz/usecase"
)

// KeywordsConfig contains the keyword lists used to flag message text
type KeywordsConfig struct {
	Price   []string `yaml:"price"`
	Contact []string `yaml:"contact"`
	Domain  []string `yaml:"domain"`
}

// LoadKeywordsConfig loads keyword lists from a YAML file
func LoadKeywordsConfig(configPath string) (*KeywordsConfig, error) {
	// Try multiple paths
	paths := []string{configPath}
	if configPath == "" {
		paths = []string{
			"configs/keywords.yaml",
			"/etc/listing-matcher/keywords.yaml",
		}
		if execPath, err := os.Executable(); err == nil {
			paths = append(paths, filepath.Join(filepath.Dir(execPath), "configs", "keywords.yaml"))
		}
	}

	var data []byte
	for _, p := range paths {
		if b, err := os.ReadFile(p); err == nil {
			data = b
			break
		}
	}

	if data == nil {
		if configPath != "" {
			return nil, fmt.Errorf("keywords file not found: %s", configPath)
		}
		return DefaultKeywordsConfig(), nil
	}

	var config KeywordsConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse keywords.yaml: %w", err)
	}

	config.fillDefaults()
	return &config, nil
}

// fillDefaults fills in default lists for empty sections and normalizes terms
func (c *KeywordsConfig) fillDefaults() {
	defaults := DefaultKeywordsConfig()

	c.Price = normalizeTerms(c.Price)
	c.Contact = normalizeTerms(c.Contact)
	c.Domain = normalizeTerms(c.Domain)

	if len(c.Price) == 0 {
		c.Price = defaults.Price
	}
	if len(c.Contact) == 0 {
		c.Contact = defaults.Contact
	}
	if len(c.Domain) == 0 {
		c.Domain = defaults.Domain
	}
}

// DefaultKeywordsConfig returns the built-in keyword lists
func DefaultKeywordsConfig() *KeywordsConfig {
	d := usecase.DefaultKeywords
	return &KeywordsConfig{
		Price:   append([]string(nil), d.Price...),
		Contact: append([]string(nil), d.Contact...),
		Domain:  append([]string(nil), d.Domain...),
	}
}

// ToKeywords converts to usecase keywords
func (c *KeywordsConfig) ToKeywords() usecase.Keywords {
	if c == nil {
		return usecase.DefaultKeywords
	}
	return usecase.Keywords{
		Price:   c.Price,
		Contact: c.Contact,
		Domain:  c.Domain,
	}
}

func normalizeTerms(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			out = append(out, t)
		}
	}
	return out
}
