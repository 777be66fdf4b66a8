package app

import (
	"context"
	"strings"

	"margin/api/internal/metadata"
	"margin/api/internal/store"
)

// ContainsAll reports whether candidate satisfies every requirement in
// required. systemId, responseStatus, and version are special-cased against
// the candidate's dedicated fields; every other key must appear in the
// candidate's property blob with an equal value. A nil required always
// matches. The caller's map is never mutated.
func ContainsAll(required metadata.Simple, candidate *store.Metadata, checkVersion bool) bool {
	if required == nil {
		return true
	}
	if candidate == nil {
		return len(required) == 0
	}

	working := required.Clone()

	if want, ok := working[metadata.KeySystemID]; ok {
		if candidate.SystemID == "" || candidate.SystemID != want {
			return false
		}
		delete(working, metadata.KeySystemID)
	}

	if want, ok := working[metadata.KeyResponseStatus]; ok {
		if candidate.ResponseStatus == metadata.ResponseStatusUnset || candidate.ResponseStatus.String() != want {
			return false
		}
		delete(working, metadata.KeyResponseStatus)
	}

	if want, ok := working[metadata.KeyVersion]; ok {
		if checkVersion && !matchesVersion(candidate.Version, want) {
			return false
		}
		delete(working, metadata.KeyVersion)
	}

	if len(working) == 0 {
		return true
	}

	props := candidate.Props()
	for key, want := range working {
		have, ok := props[key]
		if !ok || have != want {
			return false
		}
	}
	return true
}

// matchesVersion compares a candidate version against a requested one. A
// "<=" prefix means "at most"; otherwise the match is exact. Comparison is
// plain string ordering, kept for compatibility with existing stored data.
func matchesVersion(candidateVersion, requested string) bool {
	if tail, ok := strings.CutPrefix(requested, metadata.VersionUpToPrefix); ok {
		return candidateVersion != "" && candidateVersion <= tail
	}
	return candidateVersion == requested
}

// transientMetadata builds a metadata value for comparison only. It is
// never persisted and never carries an id.
func transientMetadata(systemID string, props metadata.Simple) *store.Metadata {
	item := &store.Metadata{SystemID: systemID}
	item.SetProps(props)
	return item
}

// metadataEquals reports whether the candidate carries exactly the
// requested properties: mutual containment in both directions.
func metadataEquals(requested metadata.Simple, candidate *store.Metadata, systemID string) bool {
	if !ContainsAll(requested, candidate, true) {
		return false
	}
	return ContainsAll(candidate.AllProps(), transientMetadata(systemID, requested), true)
}

// FindExactMetadata returns the metadata row with the given identity triple
// whose properties are exactly the requested ones, or nil when no such row
// exists. Candidates come back ordered by id, so when duplicates exist the
// lowest id wins.
func (s *Service) FindExactMetadata(ctx context.Context, documentID, groupID int64, systemID string, props metadata.Simple) (*store.Metadata, error) {
	if documentID == 0 || groupID == 0 || systemID == "" {
		return nil, nil
	}
	candidates, err := s.store.MetadataByTriple(ctx, documentID, groupID, systemID)
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		if metadataEquals(props, &candidates[i], systemID) {
			return &candidates[i], nil
		}
	}
	return nil, nil
}

// FindExactMetadataIgnoringResponseVersion returns the ids of all metadata
// rows matching the requested properties exactly, except that the
// responseVersion key is excluded from the comparison on both sides.
func (s *Service) FindExactMetadataIgnoringResponseVersion(ctx context.Context, documentID, groupID int64, systemID string, props metadata.Simple) ([]int64, error) {
	if documentID == 0 {
		return nil, validationError("document is required")
	}
	if groupID == 0 {
		return nil, validationError("group is required")
	}
	if systemID == "" {
		return nil, validationError("systemId is required")
	}

	requested := props.Clone()
	if requested == nil {
		requested = metadata.Simple{}
	}
	delete(requested, metadata.KeyResponseVersion)

	candidates, err := s.store.MetadataByTriple(ctx, documentID, groupID, systemID)
	if err != nil {
		return nil, err
	}

	var ids []int64
	for i := range candidates {
		stripped := candidates[i]
		candidateProps := stripped.Props()
		delete(candidateProps, metadata.KeyResponseVersion)
		stripped.SetProps(candidateProps)

		if metadataEquals(requested, &stripped, systemID) {
			ids = append(ids, candidates[i].ID)
		}
	}
	return ids, nil
}

// IDsOfMatchingMetadata filters candidates by one or more requested
// property sets. Within one set all keys must match (AND); across sets the
// results are unioned (OR). An empty request, or a request holding a single
// empty set, passes every candidate through.
func IDsOfMatchingMetadata(candidates []store.Metadata, requested []metadata.Simple) []int64 {
	if candidates == nil {
		return nil
	}
	if noFilter(requested) {
		ids := make([]int64, 0, len(candidates))
		for i := range candidates {
			ids = append(ids, candidates[i].ID)
		}
		return ids
	}

	var ids []int64
	seen := make(map[int64]bool)
	for _, filter := range requested {
		working := filter.Clone()
		pool := candidates
		if want, ok := working[metadata.KeyVersion]; ok {
			filtered := make([]store.Metadata, 0, len(pool))
			for i := range pool {
				if matchesVersion(pool[i].Version, want) {
					filtered = append(filtered, pool[i])
				}
			}
			pool = filtered
			delete(working, metadata.KeyVersion)
		}
		for i := range pool {
			if seen[pool[i].ID] {
				continue
			}
			if ContainsAll(working, &pool[i], false) {
				seen[pool[i].ID] = true
				ids = append(ids, pool[i].ID)
			}
		}
	}
	return ids
}

func noFilter(requested []metadata.Simple) bool {
	if len(requested) == 0 {
		return true
	}
	return len(requested) == 1 && len(requested[0]) == 0
}
