// Package specialization maps a twin's specialization kind to the profile
// that tunes prompting and retrieval for it. The set of kinds is closed;
// profiles are looked up once when a twin is loaded.
package specialization

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/scrypster/twinrag/internal/storage"
	"github.com/scrypster/twinrag/pkg/types"
)

// ErrUnknownKind is returned for a specialization kind outside the registry.
var ErrUnknownKind = errors.New("unknown specialization kind")

// Kind is a specialization kind.
type Kind string

const (
	General Kind = "general"
	Coach   Kind = "coach"
	Expert  Kind = "expert"
	Creator Kind = "creator"
)

// Profile holds the per-kind prompting and retrieval settings.
type Profile struct {
	Kind       Kind    `json:"kind"`
	Preamble   string  `json:"preamble"`
	TopK       int     `json:"top_k"`
	GraphBoost float64 `json:"graph_boost"` // zero disables the graph lookup
	MinScore   float64 `json:"min_score"`
}

// UseGraph reports whether retrieval should consult the concept graph.
func (p Profile) UseGraph() bool { return p.GraphBoost > 0 }

// Registry resolves kinds to profiles.
type Registry struct {
	profiles map[Kind]Profile
}

// NewRegistry returns the registry of built-in profiles.
func NewRegistry() *Registry {
	return &Registry{profiles: map[Kind]Profile{
		General: {
			Kind:       General,
			Preamble:   "You are extracting knowledge for a personal digital twin.",
			TopK:       5,
			GraphBoost: 0.05,
			MinScore:   0.1,
		},
		Coach: {
			Kind:       Coach,
			Preamble:   "You are extracting knowledge for a coach. Favour methods, habits, exercises and the outcomes they drive.",
			TopK:       6,
			GraphBoost: 0.08,
			MinScore:   0.1,
		},
		Expert: {
			Kind:       Expert,
			Preamble:   "You are extracting knowledge for a domain expert. Favour precise technical concepts, tools and how they relate.",
			TopK:       8,
			GraphBoost: 0.1,
			MinScore:   0.15,
		},
		Creator: {
			Kind:       Creator,
			Preamble:   "You are extracting knowledge for a content creator. Favour topics, projects, audiences and recurring themes.",
			TopK:       5,
			GraphBoost: 0,
			MinScore:   0.05,
		},
	}}
}

// Resolve returns the profile of a kind. The empty kind resolves to General.
func (r *Registry) Resolve(kind string) (Profile, error) {
	if kind == "" {
		kind = string(General)
	}
	p, ok := r.profiles[Kind(kind)]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return p, nil
}

// Kinds lists the registered kinds in name order.
func (r *Registry) Kinds() []Kind {
	kinds := make([]Kind, 0, len(r.profiles))
	for k := range r.profiles {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// ForTwin loads a twin and resolves its profile.
func (r *Registry) ForTwin(ctx context.Context, twins storage.TwinStore, twinID string) (*types.Twin, Profile, error) {
	twin, err := twins.GetTwin(ctx, twinID)
	if err != nil {
		return nil, Profile{}, err
	}
	p, err := r.Resolve(twin.Specialization)
	if err != nil {
		return nil, Profile{}, fmt.Errorf("twin %s: %w", twinID, err)
	}
	return twin, p, nil
}

// PreambleFunc returns a resolver of the prompt preamble of a twin.
func (r *Registry) PreambleFunc(twins storage.TwinStore) func(ctx context.Context, twinID string) (string, error) {
	return func(ctx context.Context, twinID string) (string, error) {
		_, p, err := r.ForTwin(ctx, twins, twinID)
		if err != nil {
			return "", err
		}
		return p.Preamble, nil
	}
}
