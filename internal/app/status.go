package app

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"margin/api/internal/metadata"
	"margin/api/internal/store"
)

// StatusUpdateRequest drives one response-status transition over all
// metadata rows matching the given document, group, authority, and filter
// properties.
type StatusUpdateRequest struct {
	DocumentURI string
	GroupName   string
	Authority   string
	NewStatus   metadata.ResponseStatus
	Filters     []metadata.Simple
}

// StatusUpdateResult reports which annotations were touched, for
// downstream notification.
type StatusUpdateResult struct {
	UpdatedIDs []string
	DeletedIDs []string
}

// UpdateAnnotationResponseStatus moves every matching metadata row to the
// requested response status, then settles the annotations hanging off the
// transition: drafts that superseded a SENT annotation cause the old one
// to be soft-deleted, and annotations marked sent-deleted against the now
// completed round are finalized as DELETED.
func (s *Service) UpdateAnnotationResponseStatus(ctx context.Context, req StatusUpdateRequest, user UserInformation) (StatusUpdateResult, error) {
	doc, err := s.store.GetDocumentByURI(ctx, req.DocumentURI)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return StatusUpdateResult{}, notFound("document not found")
		}
		return StatusUpdateResult{}, err
	}
	group, err := s.store.GetGroupByName(ctx, req.GroupName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return StatusUpdateResult{}, notFound("group not found")
		}
		return StatusUpdateResult{}, err
	}

	candidates, err := s.store.MetadataByTriple(ctx, doc.ID, group.ID, req.Authority)
	if err != nil {
		return StatusUpdateResult{}, err
	}
	matchedIDs := IDsOfMatchingMetadata(candidates, req.Filters)

	now := time.Now().UTC()
	matched := make([]store.Metadata, 0, len(matchedIDs))
	for i := range candidates {
		for _, id := range matchedIDs {
			if candidates[i].ID == id {
				matched = append(matched, candidates[i])
			}
		}
	}
	for i := range matched {
		matched[i].ResponseStatus = req.NewStatus
		matched[i].ResponseStatusUpdated = &now
		matched[i].ResponseStatusUpdatedBy = user.User.ID
		if err := s.store.UpdateMetadata(ctx, matched[i]); err != nil {
			return StatusUpdateResult{}, err
		}
	}

	var result StatusUpdateResult

	annots, err := s.store.AnnotationsByMetadataIDs(ctx, matchedIDs, store.AnnotationStatusNormal)
	if err != nil {
		return StatusUpdateResult{}, err
	}
	for i := range annots {
		result.UpdatedIDs = append(result.UpdatedIDs, annots[i].ID)
		if annots[i].LinkedAnnotationID == "" {
			continue
		}
		// The draft superseded its SENT original; the original goes now.
		old, err := s.store.GetAnnotation(ctx, annots[i].LinkedAnnotationID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return StatusUpdateResult{}, err
		}
		old.Status = store.AnnotationStatusDeleted
		old.StatusUpdated = &now
		old.StatusUpdatedBy = user.User.ID
		old.LinkedAnnotationID = ""
		if err := s.store.UpdateAnnotation(ctx, old); err != nil {
			return StatusUpdateResult{}, err
		}
		annots[i].LinkedAnnotationID = ""
		if err := s.store.UpdateAnnotation(ctx, annots[i]); err != nil {
			return StatusUpdateResult{}, err
		}
		result.DeletedIDs = append(result.DeletedIDs, old.ID)
		s.unindexAnnotation(old.ID)
	}

	var finalized []store.Annotation
	if req.NewStatus == metadata.ResponseStatusSent {
		finalized, err = s.finalizeSentDeleted(ctx, matched, candidates, now, user)
		if err != nil {
			return StatusUpdateResult{}, err
		}
		for i := range finalized {
			result.DeletedIDs = append(result.DeletedIDs, finalized[i].ID)
		}
	}

	if len(matchedIDs) == 0 && len(finalized) == 0 {
		return StatusUpdateResult{}, nothingToUpdate("no matching metadata and no pending deletions")
	}
	return result, nil
}

// finalizeSentDeleted finds annotations in the updated rows' lineages that
// were marked sent-deleted while waiting for the next response round and
// finalizes them as DELETED now that the round has been sent. The lineage
// comparison ignores responseVersion and version and only considers SENT
// rows.
func (s *Service) finalizeSentDeleted(ctx context.Context, updated, candidates []store.Metadata, now time.Time, user UserInformation) ([]store.Annotation, error) {
	seen := make(map[int64]bool)
	var lineageIDs []int64
	for i := range updated {
		template := updated[i].AllProps()
		delete(template, metadata.KeyResponseVersion)
		delete(template, metadata.KeyVersion)
		template[metadata.KeyResponseStatus] = metadata.ResponseStatusSent.String()
		for j := range candidates {
			if seen[candidates[j].ID] {
				continue
			}
			if ContainsAll(template, &candidates[j], false) {
				seen[candidates[j].ID] = true
				lineageIDs = append(lineageIDs, candidates[j].ID)
			}
		}
	}
	if len(lineageIDs) == 0 {
		return nil, nil
	}

	pending, err := s.store.SentDeletedPendingByMetadataIDs(ctx, lineageIDs)
	if err != nil {
		return nil, err
	}
	for i := range pending {
		pending[i].Status = store.AnnotationStatusDeleted
		pending[i].StatusUpdated = &now
		pending[i].StatusUpdatedBy = user.User.ID
		if err := s.store.UpdateAnnotation(ctx, pending[i]); err != nil {
			return nil, err
		}
		s.unindexAnnotation(pending[i].ID)
	}
	return pending, nil
}

// PublishRequest makes one contributor's private drafts visible to their
// group, scoped to a document and an ISC reference.
type PublishRequest struct {
	DocumentURI  string
	GroupName    string
	UserLogin    string
	ISCReference string
}

// PublishContributions shares the private draft annotations of one
// contributor. Metadata rows are shared across annotations, so the origin
// marker is only stamped in place when every annotation on the row was
// published; otherwise the row is cloned, the marker goes on the clone,
// and only the published annotations move over.
func (s *Service) PublishContributions(ctx context.Context, req PublishRequest, user UserInformation) ([]string, error) {
	doc, err := s.store.GetDocumentByURI(ctx, req.DocumentURI)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("document not found")
		}
		return nil, err
	}
	group, err := s.store.GetGroupByName(ctx, req.GroupName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("group not found")
		}
		return nil, err
	}
	contributor, err := s.store.GetUserByLogin(ctx, req.UserLogin)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("user not found")
		}
		return nil, err
	}

	candidates, err := s.store.MetadataByTriple(ctx, doc.ID, group.ID, s.cfg.ISCAuthority)
	if err != nil {
		return nil, err
	}

	filter := metadata.Simple{}
	if req.ISCReference != "" {
		filter[metadata.KeyISCReference] = req.ISCReference
	}
	byID := make(map[int64]store.Metadata)
	var matchedIDs []int64
	for i := range candidates {
		if ContainsAll(filter, &candidates[i], false) {
			byID[candidates[i].ID] = candidates[i]
			matchedIDs = append(matchedIDs, candidates[i].ID)
		}
	}
	if len(matchedIDs) == 0 {
		return nil, nothingToUpdate("no matching metadata")
	}

	drafts, err := s.store.UnsharedAnnotationsByMetadataIDs(ctx, matchedIDs, contributor.ID)
	if err != nil {
		return nil, err
	}
	if len(drafts) == 0 {
		return nil, nothingToUpdate("no private contributions to publish")
	}

	perMetadata := make(map[int64][]store.Annotation)
	for i := range drafts {
		perMetadata[drafts[i].MetadataID] = append(perMetadata[drafts[i].MetadataID], drafts[i])
	}

	var published []string
	for metadataID, batch := range perMetadata {
		item := byID[metadataID]
		total, err := s.store.CountAnnotationsByMetadata(ctx, metadataID)
		if err != nil {
			return nil, err
		}

		target := item
		if len(batch) == total {
			props := item.Props()
			props[metadata.KeyOriginMode] = metadata.OriginModePrivate
			target.KeyValuePairs = metadata.FormatProps(props)
			if err := s.store.UpdateMetadata(ctx, target); err != nil {
				return nil, err
			}
		} else {
			clone := store.Metadata{
				DocumentID:      item.DocumentID,
				GroupID:         item.GroupID,
				SystemID:        item.SystemID,
				Version:         item.Version,
				ResponseStatus:  item.ResponseStatus,
				ResponseVersion: item.ResponseVersion,
			}
			props := item.Props()
			props[metadata.KeyOriginMode] = metadata.OriginModePrivate
			clone.KeyValuePairs = metadata.FormatProps(props)
			target, err = s.store.InsertMetadata(ctx, clone)
			if err != nil {
				return nil, err
			}
		}

		for i := range batch {
			batch[i].Shared = true
			batch[i].MetadataID = target.ID
			if err := s.store.UpdateAnnotation(ctx, batch[i]); err != nil {
				return nil, err
			}
			published = append(published, batch[i].ID)
			s.indexAnnotation(batch[i], doc.URI, group.Name)
		}
	}
	return published, nil
}
