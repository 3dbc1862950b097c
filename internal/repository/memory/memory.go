// Package memory provides an in-process implementation of every repository
// interface, backed by maps behind one mutex. It powers local development
// without Postgres and the API handler tests. Data does not survive a
// restart.
package memory

import (
	"sync"

	"github.com/google/uuid"

	"github.com/embermail/embermail/internal/domain"
)

// DB is the shared in-memory dataset. The typed repositories returned by
// the accessor methods all operate on the same maps, so a campaign created
// through Campaigns() is visible to Dispatch().
type DB struct {
	mu sync.RWMutex

	campaigns   map[uuid.UUID]*domain.Campaign
	subscribers map[uuid.UUID]*domain.Subscriber
	templates   map[uuid.UUID]*domain.Template
	jobs        map[uuid.UUID]*domain.SendJob
	events      []domain.Event
	suppressed  map[string]*domain.Suppression
	metrics     map[uuid.UUID]*domain.CampaignMetrics
	instances   map[uuid.UUID]*domain.WorkflowInstance
}

// New creates an empty in-memory dataset.
func New() *DB {
	return &DB{
		campaigns:   make(map[uuid.UUID]*domain.Campaign),
		subscribers: make(map[uuid.UUID]*domain.Subscriber),
		templates:   make(map[uuid.UUID]*domain.Template),
		jobs:        make(map[uuid.UUID]*domain.SendJob),
		suppressed:  make(map[string]*domain.Suppression),
		metrics:     make(map[uuid.UUID]*domain.CampaignMetrics),
		instances:   make(map[uuid.UUID]*domain.WorkflowInstance),
	}
}

// Campaigns returns the campaign repository view.
func (db *DB) Campaigns() *CampaignRepo { return &CampaignRepo{db: db} }

// Subscribers returns the subscriber repository view.
func (db *DB) Subscribers() *SubscriberRepo { return &SubscriberRepo{db: db} }

// Templates returns the template repository view.
func (db *DB) Templates() *TemplateRepo { return &TemplateRepo{db: db} }

// Suppressions returns the suppression repository view.
func (db *DB) Suppressions() *SuppressionRepo { return &SuppressionRepo{db: db} }

// Dispatch returns the dispatch store view.
func (db *DB) Dispatch() *DispatchStore { return &DispatchStore{db: db} }

// Metrics returns the metrics store view.
func (db *DB) Metrics() *MetricsStore { return &MetricsStore{db: db} }

// Workflows returns the workflow store view.
func (db *DB) Workflows() *WorkflowStore { return &WorkflowStore{db: db} }

func copyCampaign(c *domain.Campaign) *domain.Campaign {
	out := *c
	out.SegmentTags = append([]string(nil), c.SegmentTags...)
	out.ABVariants = append([]domain.ABVariant(nil), c.ABVariants...)
	return &out
}

func copySubscriber(s *domain.Subscriber) *domain.Subscriber {
	out := *s
	out.Tags = append([]string(nil), s.Tags...)
	if s.CustomFields != nil {
		out.CustomFields = make(map[string]any, len(s.CustomFields))
		for k, v := range s.CustomFields {
			out.CustomFields[k] = v
		}
	}
	return &out
}
