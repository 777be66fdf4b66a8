package app

import (
	"context"

	"margin/api/internal/authority"
	"margin/api/internal/metadata"
	"margin/api/internal/store"
)

// lineageProps strips the response-workflow keys and the document version
// from a property set so lineage members compare on response identity alone.
func lineageProps(props metadata.Simple) metadata.Simple {
	working := props.Clone()
	delete(working, metadata.KeyResponseVersion)
	delete(working, metadata.KeyResponseStatus)
	delete(working, metadata.KeyVersion)
	return working
}

// responseFamily returns every metadata row that belongs to the same
// response lineage as item: same identity triple and exactly the same
// remaining properties, disregarding responseVersion, responseStatus, and
// the document version so that successive SENT rounds and the current draft
// all land in one family. The comparison is mutual, so rows carrying extra
// properties stay out.
func (s *Service) responseFamily(ctx context.Context, item *store.Metadata) ([]store.Metadata, error) {
	candidates, err := s.store.MetadataByTriple(ctx, item.DocumentID, item.GroupID, item.SystemID)
	if err != nil {
		return nil, err
	}

	template := lineageProps(item.AllProps())

	var family []store.Metadata
	for i := range candidates {
		stripped := transientMetadata(item.SystemID, lineageProps(candidates[i].AllProps()))
		if metadataEquals(template, stripped, item.SystemID) {
			family = append(family, candidates[i])
		}
	}
	return family, nil
}

// HighestResponseVersion computes the response version currently being
// prepared for the annotation's metadata lineage. It returns -1 for
// annotations outside the ISC workflow and when no lineage exists.
//
// When a single IN_PREPARATION row exists it already carries the answer.
// Otherwise the result is one past the highest finalized version, where
// "finalized" is the larger of the highest SENT metadata version and the
// highest version stamped on sent-deleted annotations in the lineage.
func (s *Service) HighestResponseVersion(ctx context.Context, annot *store.Annotation) (int64, error) {
	item, err := s.store.GetMetadata(ctx, annot.MetadataID)
	if err != nil {
		return 0, err
	}
	if s.kindOf(item.SystemID) != authority.KindISC {
		return -1, nil
	}

	family, err := s.responseFamily(ctx, &item)
	if err != nil {
		return 0, err
	}
	if len(family) == 0 {
		return -1, nil
	}

	var inPrep []store.Metadata
	var maxSent int64
	familyIDs := make([]int64, 0, len(family))
	for i := range family {
		familyIDs = append(familyIDs, family[i].ID)
		switch family[i].ResponseStatus {
		case metadata.ResponseStatusInPreparation:
			inPrep = append(inPrep, family[i])
		case metadata.ResponseStatusSent:
			if family[i].ResponseVersion > maxSent {
				maxSent = family[i].ResponseVersion
			}
		}
	}

	// At most one IN_PREPARATION row exists per lineage; when it does,
	// its version is the one being prepared.
	if len(inPrep) == 1 {
		return inPrep[0].ResponseVersion, nil
	}

	maxDeleted, err := s.store.MaxSentDeletedVersion(ctx, familyIDs)
	if err != nil {
		return 0, err
	}
	if maxDeleted > maxSent {
		return maxDeleted + 1, nil
	}
	return maxSent + 1, nil
}

// FindOrCreateInPrepMetadata returns the IN_PREPARATION metadata row for
// the annotation's lineage, creating one at the next response version when
// none exists yet. It returns nil when the annotation has no lineage at all
// or no meaningful next version can be computed.
func (s *Service) FindOrCreateInPrepMetadata(ctx context.Context, annot *store.Annotation) (*store.Metadata, error) {
	item, err := s.store.GetMetadata(ctx, annot.MetadataID)
	if err != nil {
		return nil, err
	}

	family, err := s.responseFamily(ctx, &item)
	if err != nil {
		return nil, err
	}
	if len(family) == 0 {
		return nil, nil
	}

	for i := range family {
		if family[i].ResponseStatus == metadata.ResponseStatusInPreparation {
			return &family[i], nil
		}
	}

	version, err := s.HighestResponseVersion(ctx, annot)
	if err != nil {
		return nil, err
	}
	if version <= 0 {
		return nil, nil
	}

	draft := store.Metadata{
		DocumentID:      item.DocumentID,
		GroupID:         item.GroupID,
		SystemID:        item.SystemID,
		Version:         item.Version,
		ResponseStatus:  metadata.ResponseStatusInPreparation,
		ResponseVersion: version,
		KeyValuePairs:   item.KeyValuePairs,
	}
	created, err := s.store.InsertMetadata(ctx, draft)
	if err != nil {
		return nil, err
	}
	return &created, nil
}
