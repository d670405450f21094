package catalog

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var embeddedCatalog []byte

// Track represents a catalog song. Tracks are never mutated.
type Track struct {
	ID       string `json:"id" yaml:"id"`
	Title    string `json:"title" yaml:"title"`
	Author   string `json:"author" yaml:"author"`
	Duration string `json:"duration" yaml:"duration"`
	ImageURL string `json:"image" yaml:"image"`
	AudioURL string `json:"url" yaml:"url"`
}

// Category is a named group of tracks
type Category struct {
	Name   string  `json:"name" yaml:"name"`
	Tracks []Track `json:"tracks" yaml:"tracks"`
}

// Catalog is the fixed set of downloadable tracks, grouped by category.
// Track ids are unique within a category only.
type Catalog struct {
	Categories []Category `json:"categories" yaml:"categories"`
}

// Default returns the catalog bundled with the binary
func Default() (*Catalog, error) {
	return Parse(embeddedCatalog)
}

// Load reads a catalog file, falling back to the bundled catalog when path is empty
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file %q: %w", path, err)
	}

	return Parse(data)
}

// Parse decodes and validates a YAML catalog
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal catalog: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}

	return &c, nil
}

// Validate checks category names and track identities
func (c *Catalog) Validate() error {
	seenCategories := make(map[string]bool, len(c.Categories))

	for _, category := range c.Categories {
		if category.Name == "" {
			return fmt.Errorf("category name cannot be empty")
		}
		if seenCategories[category.Name] {
			return fmt.Errorf("duplicate category: %s", category.Name)
		}
		seenCategories[category.Name] = true

		seenIDs := make(map[string]bool, len(category.Tracks))
		for _, track := range category.Tracks {
			if track.ID == "" {
				return fmt.Errorf("track in category %s has no id", category.Name)
			}
			if seenIDs[track.ID] {
				return fmt.Errorf("duplicate track id %s in category %s", track.ID, category.Name)
			}
			seenIDs[track.ID] = true

			if track.AudioURL == "" {
				return fmt.Errorf("track %s in category %s has no audio url", track.ID, category.Name)
			}
		}
	}

	return nil
}

// CategoryNames returns the category names in declared order
func (c *Catalog) CategoryNames() []string {
	names := make([]string, 0, len(c.Categories))
	for _, category := range c.Categories {
		names = append(names, category.Name)
	}
	return names
}

// HasCategory reports whether the catalog declares the category
func (c *Catalog) HasCategory(name string) bool {
	for _, category := range c.Categories {
		if category.Name == name {
			return true
		}
	}
	return false
}

// Tracks returns the tracks of a category in catalog order
func (c *Catalog) Tracks(category string) ([]Track, error) {
	for _, cat := range c.Categories {
		if cat.Name == category {
			tracks := make([]Track, len(cat.Tracks))
			copy(tracks, cat.Tracks)
			return tracks, nil
		}
	}
	return nil, fmt.Errorf("category not found: %s", category)
}

// Track looks up a single track by category and id
func (c *Catalog) Track(category, id string) (Track, error) {
	tracks, err := c.Tracks(category)
	if err != nil {
		return Track{}, err
	}

	for _, track := range tracks {
		if track.ID == id {
			return track, nil
		}
	}

	return Track{}, fmt.Errorf("track %s not found in category %s", id, category)
}
