package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/scrypster/twinrag/internal/specialization"
	"github.com/scrypster/twinrag/internal/storage"
	"github.com/scrypster/twinrag/pkg/types"
)

var (
	// ErrPublicUnavailable replaces every internal error on the public path.
	ErrPublicUnavailable = errors.New("public retrieval unavailable")

	// ErrInvalidShareToken is returned for unknown, revoked or expired share tokens.
	ErrInvalidShareToken = errors.New("invalid share token")
)

// Service runs owner and public queries. The public path reads the share
// token and the allowlist from the store on every call.
type Service struct {
	engine   *Engine
	twins    storage.TwinStore
	publish  storage.PublishStore
	profiles *specialization.Registry

	// now is replaced in tests.
	now func() time.Time
}

// NewService creates a query service.
func NewService(engine *Engine, twins storage.TwinStore, publish storage.PublishStore, profiles *specialization.Registry) *Service {
	return &Service{
		engine:   engine,
		twins:    twins,
		publish:  publish,
		profiles: profiles,
		now:      time.Now,
	}
}

// OwnerQuery retrieves for the twin owner. Results are not filtered.
func (s *Service) OwnerQuery(ctx context.Context, twinID, text string, topK int) (*GatedResult, error) {
	raw, err := s.retrieve(ctx, twinID, text, topK)
	if err != nil {
		return nil, err
	}
	return Apply(raw, types.TrustOwner, nil), nil
}

// PublicQuery retrieves for a public caller holding a share token. Only
// allowlisted sources reach the result. Apart from ErrInvalidShareToken and
// input validation, every failure is logged and returned as ErrPublicUnavailable.
func (s *Service) PublicQuery(ctx context.Context, token, text string, topK int) (*GatedResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: query text is required", storage.ErrInvalidInput)
	}
	tok, err := s.publish.GetShareToken(ctx, token)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrInvalidShareToken
	}
	if err != nil {
		log.Printf("ERROR: retrieval: failed to load share token: %v", err)
		return nil, ErrPublicUnavailable
	}
	if !tok.Valid(s.now()) {
		return nil, ErrInvalidShareToken
	}

	raw, err := s.retrieve(ctx, tok.TwinID, text, topK)
	if err != nil {
		log.Printf("ERROR: retrieval: public query for twin %s failed: %v", tok.TwinID, err)
		return nil, ErrPublicUnavailable
	}
	allowlist, err := s.publish.GetAllowlist(ctx, tok.TwinID)
	if err != nil {
		log.Printf("ERROR: retrieval: failed to load allowlist of twin %s: %v", tok.TwinID, err)
		return nil, ErrPublicUnavailable
	}

	gated := Apply(raw, types.TrustPublic, allowlist)
	if n := len(gated.Trace.Filtered()); n > 0 {
		log.Printf("retrieval: public query for twin %s filtered %d items", tok.TwinID, n)
	}
	return gated, nil
}

// retrieve resolves the twin's profile and runs the engine with it. A
// positive topK overrides the profile's, up to MaxTopK.
func (s *Service) retrieve(ctx context.Context, twinID, text string, topK int) (*RawResult, error) {
	_, profile, err := s.profiles.ForTwin(ctx, s.twins, twinID)
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = profile.TopK
	}
	return s.engine.Retrieve(ctx, Query{
		TwinID:     twinID,
		Text:       text,
		TopK:       topK,
		UseGraph:   profile.UseGraph(),
		GraphBoost: profile.GraphBoost,
		MinScore:   profile.MinScore,
	})
}
