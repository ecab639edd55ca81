package retrieval

import "github.com/scrypster/twinrag/pkg/types"

// GatedResult is retrieval output cleared for a trust level.
type GatedResult struct {
	Trust      types.TrustLevel  `json:"trust"`
	Citations  []types.Citation  `json:"citations"`
	GraphFacts []types.GraphFact `json:"graph_facts"`
	Trace      *Trace            `json:"trace,omitempty"`
}

// Apply is the visibility gate. Owner results pass unchanged. Every other
// trust level is treated as public: a citation survives only if its source id
// is in the allowlist, and a graph fact survives with its source ids narrowed
// to the published ones, or not at all. Matching is by exact identifier.
// Each discarded item adds a filtered_out trace event carrying ids and the
// reason, never text.
func Apply(raw *RawResult, trust types.TrustLevel, allowlist *types.PublishAllowlist) *GatedResult {
	if raw == nil {
		raw = &RawResult{}
	}
	out := &GatedResult{
		Trust:      trust,
		Citations:  []types.Citation{},
		GraphFacts: []types.GraphFact{},
		Trace:      raw.Trace.clone(),
	}

	if trust == types.TrustOwner {
		out.Citations = append(out.Citations, raw.Citations...)
		out.GraphFacts = append(out.GraphFacts, raw.GraphFacts...)
		return out
	}
	out.Trust = types.TrustPublic

	published := make(map[string]bool)
	if allowlist != nil {
		for _, id := range allowlist.SourceIDs {
			published[id] = true
		}
	}

	for _, c := range raw.Citations {
		if !published[c.SourceID] {
			out.Trace.add(EventFilteredOut(c.ChunkID, c.SourceID, ReasonNotPublished))
			continue
		}
		out.Citations = append(out.Citations, c)
	}

	for _, f := range raw.GraphFacts {
		var keep []string
		for _, id := range f.SourceIDs {
			if published[id] {
				keep = append(keep, id)
			}
		}
		if len(keep) == 0 {
			out.Trace.add(EventFactFilteredOut(f.NodeID, ReasonNotPublished))
			continue
		}
		f.SourceIDs = keep
		out.GraphFacts = append(out.GraphFacts, f)
	}
	return out
}
