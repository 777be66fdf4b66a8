package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"margin/api/internal/authority"
	"margin/api/internal/metadata"
	"margin/api/internal/store"
)

// CreateAnnotationInput is the payload for a new annotation. References
// carries the reply-thread ancestry, oldest first; empty for roots.
type CreateAnnotationInput struct {
	DocumentURI   string
	DocumentTitle string
	GroupName     string
	Text          string
	Shared        bool
	References    []string
	Metadata      metadata.Simple
}

// CreateAnnotation stores a new annotation, reusing an existing metadata
// row when one with exactly the requested properties already exists and
// creating one otherwise.
func (s *Service) CreateAnnotation(ctx context.Context, in CreateAnnotationInput, user UserInformation) (store.Annotation, error) {
	if strings.TrimSpace(in.Text) == "" {
		return store.Annotation{}, validationError("annotation text is required")
	}
	if in.Metadata[metadata.KeyResponseStatus] == metadata.ResponseStatusSent.String() {
		return store.Annotation{}, invalidState("cannot create an annotation that is already SENT")
	}

	group, err := s.store.GetGroupByName(ctx, in.GroupName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Annotation{}, notFound("group not found")
		}
		return store.Annotation{}, err
	}
	doc, err := s.store.EnsureDocument(ctx, in.DocumentURI, in.DocumentTitle)
	if err != nil {
		return store.Annotation{}, err
	}

	if len(in.References) > 0 {
		parent, err := s.store.GetAnnotation(ctx, in.References[len(in.References)-1])
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.Annotation{}, notFound("parent annotation not found")
			}
			return store.Annotation{}, err
		}
		parentMeta, err := s.store.GetMetadata(ctx, parent.MetadataID)
		if err != nil {
			return store.Annotation{}, err
		}
		if parentMeta.IsResponseSent() {
			return store.Annotation{}, invalidState("replies on SENT annotations are not allowed")
		}
	}

	systemID := in.Metadata[metadata.KeySystemID]
	if systemID == "" {
		systemID = user.Authority
	}

	meta, err := s.FindExactMetadata(ctx, doc.ID, group.ID, systemID, in.Metadata)
	if err != nil {
		return store.Annotation{}, err
	}
	if meta == nil {
		fresh := store.Metadata{DocumentID: doc.ID, GroupID: group.ID, SystemID: systemID}
		fresh.SetProps(in.Metadata)
		fresh.SystemID = systemID
		created, err := s.store.InsertMetadata(ctx, fresh)
		if err != nil {
			return store.Annotation{}, err
		}
		meta = &created
	}

	annot := store.Annotation{
		ID:         uuid.NewString(),
		Text:       in.Text,
		UserID:     user.User.ID,
		UserLogin:  user.Login,
		Shared:     in.Shared,
		Status:     store.AnnotationStatusNormal,
		MetadataID: meta.ID,
		References: strings.Join(in.References, ","),
	}
	if err := s.store.InsertAnnotation(ctx, annot); err != nil {
		return store.Annotation{}, err
	}
	s.indexAnnotation(annot, doc.URI, group.Name)
	return annot, nil
}

// UpdateAnnotation edits an annotation's text. Before the response is
// finalized the edit happens in place. Editing a SENT ISC annotation
// instead spawns a linked draft on the current IN_PREPARATION metadata,
// leaving the sent original untouched until the next round completes.
func (s *Service) UpdateAnnotation(ctx context.Context, annotationID, text string, user UserInformation) (store.Annotation, error) {
	annot, err := s.store.GetAnnotation(ctx, annotationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Annotation{}, notFound("annotation not found")
		}
		return store.Annotation{}, err
	}
	meta, err := s.store.GetMetadata(ctx, annot.MetadataID)
	if err != nil {
		return store.Annotation{}, err
	}

	allowed, err := s.HasUserPermissionToUpdateAnnotation(ctx, &annot, &meta, user)
	if err != nil {
		return store.Annotation{}, err
	}
	if !allowed {
		return store.Annotation{}, permissionDenied("not allowed to update this annotation")
	}

	if CanAnnotationBeUpdated(&annot, &meta) {
		annot.Text = text
		if err := s.store.UpdateAnnotation(ctx, annot); err != nil {
			return store.Annotation{}, err
		}
		s.reindex(ctx, annot, meta)
		return annot, nil
	}

	if s.kindOf(meta.SystemID) != authority.KindISC {
		return store.Annotation{}, invalidState("annotation belongs to a finalized response")
	}

	draftMeta, err := s.FindOrCreateInPrepMetadata(ctx, &annot)
	if err != nil {
		return store.Annotation{}, err
	}
	if draftMeta == nil {
		return store.Annotation{}, invalidState("no response draft available for this annotation")
	}

	draft := store.Annotation{
		ID:                 uuid.NewString(),
		Text:               text,
		UserID:             user.User.ID,
		UserLogin:          user.Login,
		Shared:             annot.Shared,
		Status:             store.AnnotationStatusNormal,
		MetadataID:         draftMeta.ID,
		References:         annot.References,
		LinkedAnnotationID: annot.ID,
	}
	if err := s.store.InsertAnnotation(ctx, draft); err != nil {
		return store.Annotation{}, err
	}
	annot.LinkedAnnotationID = draft.ID
	if err := s.store.UpdateAnnotation(ctx, annot); err != nil {
		return store.Annotation{}, err
	}
	s.reindex(ctx, draft, *draftMeta)
	return draft, nil
}

// DeleteAnnotation removes an annotation, gated by the computed delete
// permission. SENT ISC annotations are not deleted outright: they are
// marked sent-deleted with the version of the response round being
// prepared, and finalized when that round is sent. Deleting a thread root
// soft-deletes all of its NORMAL replies with it.
func (s *Service) DeleteAnnotation(ctx context.Context, annotationID string, user UserInformation) error {
	annot, err := s.store.GetAnnotation(ctx, annotationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("annotation not found")
		}
		return err
	}
	meta, err := s.store.GetMetadata(ctx, annot.MetadataID)
	if err != nil {
		return err
	}
	group, err := s.store.GetGroup(ctx, meta.GroupID)
	if err != nil {
		return err
	}
	creator, err := s.store.GetUserByLogin(ctx, annot.UserLogin)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	perms := s.ComputePermissions(&annot, &meta, &group, creator, user)
	allowed, err := s.principalAllows(ctx, perms.Delete, &group, user)
	if err != nil {
		return err
	}
	if !allowed {
		return permissionDenied("not allowed to delete this annotation")
	}

	now := time.Now().UTC()

	if meta.IsResponseSent() && s.kindOf(meta.SystemID) == authority.KindISC {
		version, err := s.HighestResponseVersion(ctx, &annot)
		if err != nil {
			return err
		}
		if version <= 0 {
			return invalidState("cannot determine the response version for deletion")
		}
		// Keep a draft row around so later annotations in this round
		// have metadata to attach to.
		if _, err := s.FindOrCreateInPrepMetadata(ctx, &annot); err != nil {
			return err
		}
		annot.SentDeleted = true
		annot.RespVersionSentDeleted = version
		return s.store.UpdateAnnotation(ctx, annot)
	}

	annot.Status = store.AnnotationStatusDeleted
	annot.StatusUpdated = &now
	annot.StatusUpdatedBy = user.User.ID
	if err := s.store.UpdateAnnotation(ctx, annot); err != nil {
		return err
	}
	s.unindexAnnotation(annot.ID)

	if !annot.IsReply() {
		replies, err := s.store.RepliesByRoot(ctx, annot.ID, store.AnnotationStatusNormal)
		if err != nil {
			return err
		}
		for i := range replies {
			replies[i].Status = store.AnnotationStatusDeleted
			replies[i].StatusUpdated = &now
			replies[i].StatusUpdatedBy = user.User.ID
			if err := s.store.UpdateAnnotation(ctx, replies[i]); err != nil {
				return err
			}
			s.unindexAnnotation(replies[i].ID)
		}
	}
	return nil
}

// DeleteAnnotationsByID deletes a batch of annotations, tolerating
// per-item domain failures (missing, forbidden) by collecting their ids,
// but aborting immediately on anything unexpected.
func (s *Service) DeleteAnnotationsByID(ctx context.Context, ids []string, user UserInformation) (deleted, failed []string, err error) {
	for _, id := range ids {
		deleteErr := s.DeleteAnnotation(ctx, id, user)
		if deleteErr == nil {
			deleted = append(deleted, id)
			continue
		}
		var domainErr *DomainError
		if errors.As(deleteErr, &domainErr) {
			failed = append(failed, id)
			continue
		}
		return deleted, failed, deleteErr
	}
	return deleted, failed, nil
}

// AcceptSuggestion marks a suggestion as accepted. Any member of the
// annotation's group may do this.
func (s *Service) AcceptSuggestion(ctx context.Context, annotationID string, user UserInformation) error {
	return s.resolveSuggestion(ctx, annotationID, store.AnnotationStatusAccepted, user)
}

// RejectSuggestion marks a suggestion as rejected. Any member of the
// annotation's group may do this.
func (s *Service) RejectSuggestion(ctx context.Context, annotationID string, user UserInformation) error {
	return s.resolveSuggestion(ctx, annotationID, store.AnnotationStatusRejected, user)
}

func (s *Service) resolveSuggestion(ctx context.Context, annotationID string, status store.AnnotationStatus, user UserInformation) error {
	annot, err := s.store.GetAnnotation(ctx, annotationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("annotation not found")
		}
		return err
	}
	allowed, err := s.CanAcceptOrRejectSuggestion(ctx, &annot, &user.User)
	if err != nil {
		return err
	}
	if !allowed {
		return permissionDenied("only group members may resolve suggestions")
	}
	if annot.Status != store.AnnotationStatusNormal {
		return invalidState("suggestion is already resolved")
	}

	now := time.Now().UTC()
	annot.Status = status
	annot.StatusUpdated = &now
	annot.StatusUpdatedBy = user.User.ID
	if err := s.store.UpdateAnnotation(ctx, annot); err != nil {
		return err
	}
	s.unindexAnnotation(annot.ID)
	return nil
}

// reindex refreshes the search record for an annotation after a mutation.
func (s *Service) reindex(ctx context.Context, annot store.Annotation, meta store.Metadata) {
	if s.search == nil {
		return
	}
	doc, err := s.store.GetDocument(ctx, meta.DocumentID)
	if err != nil {
		return
	}
	group, err := s.store.GetGroup(ctx, meta.GroupID)
	if err != nil {
		return
	}
	s.indexAnnotation(annot, doc.URI, group.Name)
}
