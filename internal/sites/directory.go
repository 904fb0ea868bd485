// Package sites serves the customer site directory: the list of known
// fulfillment-center names the portal autocompletes against.
package sites

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// maxResults caps any search response.
const maxResults = 50

// Directory is the in-memory site list and the search fallback when
// Meilisearch is not available.
type Directory struct {
	names []string
}

// Load reads the site list from a JSON array file.
func Load(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read site list: %w", err)
	}
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, fmt.Errorf("decode site list: %w", err)
	}
	return &Directory{names: names}, nil
}

// NewDirectory wraps an already-loaded name list.
func NewDirectory(names []string) *Directory {
	return &Directory{names: names}
}

// Names returns the full site list.
func (d *Directory) Names() []string {
	return d.names
}

// Search returns up to maxResults site names containing the query,
// case-insensitively. An empty query returns the head of the list.
func (d *Directory) Search(q string) []string {
	q = strings.ToLower(q)
	results := make([]string, 0, maxResults)
	for _, name := range d.names {
		if q != "" && !strings.Contains(strings.ToLower(name), q) {
			continue
		}
		results = append(results, name)
		if len(results) == maxResults {
			break
		}
	}
	return results
}
