package changeset

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mkoidl/chronicle/internal/platform/constants"
	"github.com/mkoidl/chronicle/pkg/slug"
)

// FieldDescriptor describes one tracked field of a registered model.
type FieldDescriptor struct {
	// Name is the snapshot key, e.g. "pub_date".
	Name string
	// Label is the verbose display name. Empty means "derive from Name".
	Label string
	// IsRelation marks fields whose value is the key of another model
	// (single relations) or a serialized summary (many relations).
	IsRelation bool
	// Choices maps stored values to display values for enumerated fields.
	Choices map[string]string
}

// ModelConfig declares how one model participates in change tracking.
//
// It is the Go rendition of per-model tracking metadata: which fields are
// diffed, which field keys the object, which boolean field marks the trash
// state, and how long the aggregation window is.
type ModelConfig struct {
	// ObjectType is the dotted content-type identifier, e.g. "polls.poll".
	ObjectType string

	// TrackBy names the field whose value keys changesets for this model.
	// Defaults to [constants.DefaultTrackBy].
	TrackBy string

	// TrackFields lists the snapshot fields to diff, in display order.
	TrackFields []string

	// TrackSoftDeleteBy names the boolean field whose transitions are
	// recorded as soft-delete (false→true) and restore (true→false)
	// changesets. Empty disables the detection.
	TrackSoftDeleteBy string

	// TrackRelated lists the relation names under which child changes may
	// propagate into this model's history. Propagation under any other
	// name is refused.
	TrackRelated []string

	// AggregateWithin folds an update into the previous changeset when that
	// changeset was created by the same user no longer than this duration
	// ago. Zero disables aggregation.
	AggregateWithin time.Duration

	// Fields holds optional display metadata per tracked field.
	Fields map[string]FieldDescriptor
}

// descriptor returns the field's descriptor, zero-valued when unregistered.
func (c ModelConfig) descriptor(field string) FieldDescriptor {
	if c.Fields == nil {
		return FieldDescriptor{Name: field}
	}
	d, ok := c.Fields[field]
	if !ok {
		return FieldDescriptor{Name: field}
	}
	return d
}

// tracks reports whether the named field is in TrackFields.
func (c ModelConfig) tracks(field string) bool {
	for _, f := range c.TrackFields {
		if f == field {
			return true
		}
	}
	return false
}

// tracksRelation reports whether the relation name is in TrackRelated.
func (c ModelConfig) tracksRelation(relation string) bool {
	for _, r := range c.TrackRelated {
		if r == relation {
			return true
		}
	}
	return false
}

// # Model Registry

// Registry is the process-wide catalogue of tracked models.
//
// Registration happens once during wiring; lookups are read-mostly and safe
// for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	models map[string]ModelConfig
}

// NewRegistry creates an empty model registry.
func NewRegistry() *Registry {
	return &Registry{models: make(map[string]ModelConfig)}
}

// Register validates and stores a model configuration.
//
// The object type is normalized to "<namespace>.<model>" with both halves
// slugified, so registration is tolerant of display-cased input.
func (r *Registry) Register(cfg ModelConfig) error {
	normalized, err := NormalizeObjectType(cfg.ObjectType)
	if err != nil {
		return err
	}
	cfg.ObjectType = normalized

	if cfg.TrackBy == "" {
		cfg.TrackBy = constants.DefaultTrackBy
	}
	if len(cfg.TrackFields) == 0 {
		return fmt.Errorf("changeset: model %q registers no tracked fields", cfg.ObjectType)
	}
	if cfg.TrackSoftDeleteBy != "" && !cfg.tracks(cfg.TrackSoftDeleteBy) {
		return fmt.Errorf("changeset: model %q: soft-delete field %q is not tracked", cfg.ObjectType, cfg.TrackSoftDeleteBy)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.models[cfg.ObjectType]; exists {
		return fmt.Errorf("changeset: model %q is already registered", cfg.ObjectType)
	}
	r.models[cfg.ObjectType] = cfg
	return nil
}

// MustRegister registers a model or panics. Intended for wiring code only.
func (r *Registry) MustRegister(cfg ModelConfig) {
	if err := r.Register(cfg); err != nil {
		panic(err)
	}
}

// Lookup returns the configuration registered for the given object type.
func (r *Registry) Lookup(objectType string) (ModelConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.models[objectType]
	return cfg, ok
}

// ObjectTypes returns the sorted-insertion list of registered object types.
func (r *Registry) ObjectTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.models))
	for t := range r.models {
		types = append(types, t)
	}
	return types
}

// NormalizeObjectType slugifies both halves of a dotted content-type name.
//
// "Polls.Actual Vote" → "polls.actual-vote". An error is returned when the
// value does not split into exactly two non-empty parts.
func NormalizeObjectType(objectType string) (string, error) {
	parts := strings.SplitN(objectType, ".", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("changeset: object type %q is not of the form namespace.model", objectType)
	}

	namespace := slug.From(parts[0])
	model := slug.From(parts[1])
	if namespace == "" || model == "" {
		return "", fmt.Errorf("changeset: object type %q is not of the form namespace.model", objectType)
	}

	return namespace + "." + model, nil
}
