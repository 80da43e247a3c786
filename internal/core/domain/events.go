package domain

// EntityType identifies one of the entity collections the push stream
// distributes changes for.
type EntityType string

const (
	EntityIncident    EntityType = "incident"
	EntityFieldReport EntityType = "field_report"
)

// KnownEntityTypes returns every entity type the stream can carry. A bulk
// invalidation is published for each of them.
func KnownEntityTypes() []EntityType {
	return []EntityType{EntityIncident, EntityFieldReport}
}

// Valid reports whether t is a member of the closed entity-type set.
func (t EntityType) Valid() bool {
	switch t {
	case EntityIncident, EntityFieldReport:
		return true
	}
	return false
}

// Topic is the name of one cross-context channel.
type Topic string

const (
	TopicIncidentUpdate    Topic = "incident_update"
	TopicFieldReportUpdate Topic = "field_report_update"
)

// Topic returns the cross-context topic changes of this entity type are
// published on.
func (t EntityType) Topic() Topic {
	if t == EntityFieldReport {
		return TopicFieldReportUpdate
	}
	return TopicIncidentUpdate
}

// ChangeEvent describes one server-side mutation. It is constructed by the
// push client from a raw stream frame and consumed by each reconciler.
type ChangeEvent struct {
	EntityType EntityType `json:"entityType"`
	EventID    string     `json:"eventId"`
	Scope      string     `json:"scope,omitempty"`
	EntityKey  string     `json:"entityKey,omitempty"`

	// BulkInvalidation means the entire collection must be treated as
	// stale, not just one item.
	BulkInvalidation bool `json:"bulkInvalidation"`
}
