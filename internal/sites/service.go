package sites

import "log"

// Service is the facade that tries Meilisearch first and falls back to the
// in-memory directory.
type Service struct {
	meili     *Meili
	directory *Directory
}

// NewService creates a site search service. meili may be nil if Meilisearch
// is not configured.
func NewService(meili *Meili, directory *Directory) *Service {
	return &Service{meili: meili, directory: directory}
}

// Bootstrap pushes the site list into Meilisearch if it is reachable.
func (s *Service) Bootstrap() {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	if err := s.meili.IndexNames(s.directory.Names()); err != nil {
		log.Printf("sites: index site list: %v", err)
	}
}

// Search tries Meilisearch if healthy, otherwise falls back to the in-memory
// substring scan. Responses are capped at 50 names either way.
func (s *Service) Search(q string) []string {
	if s.meili != nil && s.meili.Healthy() {
		names, err := s.meili.Search(q)
		if err == nil {
			return names
		}
		log.Printf("sites: meilisearch error, falling back to directory scan: %v", err)
	}
	return s.directory.Search(q)
}
