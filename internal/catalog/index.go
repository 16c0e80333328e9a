package catalog

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"reportlens/internal/logging"
	"reportlens/internal/ontology"
	"reportlens/internal/types"
)

// Index is one immutable capability snapshot. A turn resolves against a
// single Index; refreshes swap in a new one.
type Index struct {
	Rows        []types.CapabilityRow
	GeneratedAt time.Time
	Summary     Summary
}

// Summary carries index-level counts for observability.
type Summary struct {
	TotalRows         int            `json:"total_rows"`
	FreshRows         int            `json:"fresh_rows"`
	HighConfidence    int            `json:"high_confidence_rows"`
	KnownRequirements int            `json:"known_requirements_rows"`
	InvalidRows       map[string]int `json:"invalid_rows"`
}

// catalogFile is the YAML snapshot layout.
type catalogFile struct {
	GeneratedAt time.Time `yaml:"generated_at"`
	Reports     []Source  `yaml:"reports"`
}

// BuildIndex constructs rows from sources in parallel and validates them.
// Disabled and invalid sources are dropped; the return order is by name.
func BuildIndex(ont *ontology.Catalog, sources []Source, generatedAt time.Time, freshnessHours float64) (*Index, error) {
	var usable []Source
	for _, s := range sources {
		if s.Disabled || s.Name == "" {
			continue
		}
		usable = append(usable, s)
	}
	if len(usable) == 0 {
		return nil, ErrCatalogEmpty
	}
	if generatedAt.IsZero() {
		generatedAt = time.Now().UTC()
	}

	rows := make([]types.CapabilityRow, len(usable))
	var g errgroup.Group
	g.SetLimit(8)
	for i := range usable {
		g.Go(func() error {
			rows[i] = BuildRow(ont, usable[i], generatedAt, freshnessHours)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to build capability rows: %w", err)
	}

	idx := &Index{GeneratedAt: generatedAt}
	idx.Summary.InvalidRows = map[string]int{}
	now := time.Now()
	for i := range rows {
		if errs := ValidateRow(&rows[i]); len(errs) > 0 {
			for _, code := range errs {
				idx.Summary.InvalidRows[code]++
			}
			continue
		}
		idx.Rows = append(idx.Rows, rows[i])
		idx.Summary.TotalRows++
		if rows[i].Fresh(now) {
			idx.Summary.FreshRows++
		}
		if rows[i].Confidence >= 0.6 {
			idx.Summary.HighConfidence++
		}
		if rows[i].Constraints.RequirementsKnown {
			idx.Summary.KnownRequirements++
		}
	}
	sort.Slice(idx.Rows, func(a, b int) bool { return idx.Rows[a].Name < idx.Rows[b].Name })

	logging.Catalog("index built: %d rows, %d fresh, %d high confidence",
		idx.Summary.TotalRows, idx.Summary.FreshRows, idx.Summary.HighConfidence)
	return idx, nil
}

// LoadFile reads catalog sources from a YAML file and builds the index.
func LoadFile(ont *ontology.Catalog, path string, freshnessHours float64) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	var cf catalogFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file: %w", err)
	}
	return BuildIndex(ont, cf.Reports, cf.GeneratedAt, freshnessHours)
}

// Row returns the named row, or nil.
func (i *Index) Row(name string) *types.CapabilityRow {
	for idx := range i.Rows {
		if i.Rows[idx].Name == name {
			return &i.Rows[idx]
		}
	}
	return nil
}

// Provider hands out the current index and allows atomic replacement from a
// refresh goroutine.
type Provider struct {
	mu  sync.RWMutex
	idx *Index
}

// NewProvider wraps an initial index.
func NewProvider(idx *Index) *Provider {
	return &Provider{idx: idx}
}

// Current returns the active snapshot.
func (p *Provider) Current() *Index {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.idx
}

// Replace swaps in a fresh snapshot.
func (p *Provider) Replace(idx *Index) {
	if idx == nil {
		return
	}
	p.mu.Lock()
	p.idx = idx
	p.mu.Unlock()
}
