package sites

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxSites = "crmbridge_sites"

type siteRecord struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Meili indexes and searches the site directory via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the sites index.
// The caller should proceed without it when the server is unreachable; the
// health loop will pick it up if it comes back.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("sites: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxSites,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("sites: create index %s (may already exist): %v", idxSites, err)
	}
	searchable := []string{"name"}
	if _, err := m.client.Index(idxSites).UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("sites: update searchable attrs: %v", err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("sites: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// IndexNames bulk-indexes the site list.
func (m *Meili) IndexNames(names []string) error {
	if len(names) == 0 {
		return nil
	}
	records := make([]siteRecord, 0, len(names))
	for _, name := range names {
		records = append(records, siteRecord{ID: recordID(name), Name: name})
	}
	_, err := m.client.Index(idxSites).AddDocuments(records, nil)
	return err
}

// Search queries the sites index.
func (m *Meili) Search(q string) ([]string, error) {
	if !m.healthy.Load() {
		return nil, fmt.Errorf("meilisearch unhealthy")
	}

	resp, err := m.client.Index(idxSites).Search(q, &meili.SearchRequest{
		Limit: maxResults,
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, fmt.Errorf("meilisearch search: %w", err)
	}

	names := make([]string, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		if name := decodeName(hit); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

func decodeName(hit meili.Hit) string {
	raw, ok := hit["name"]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

// recordID derives a stable document id from the site name; meilisearch ids
// cannot contain spaces.
func recordID(name string) string {
	sum := sha1.Sum([]byte(name))
	return hex.EncodeToString(sum[:])
}
