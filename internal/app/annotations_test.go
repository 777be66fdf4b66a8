package app

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"margin/api/internal/metadata"
	"margin/api/internal/store"
)

func createFixture() *fakeStore {
	return &fakeStore{
		getGroupByNameFn: func(_ context.Context, name string) (store.Group, error) {
			return store.Group{ID: 5, Name: name}, nil
		},
	}
}

func TestCreateAnnotationReusesExactMetadata(t *testing.T) {
	existing := metadataWith(4, "ISC", "1.0", metadata.ResponseStatusUnset, metadata.Simple{"ISCReference": "A"})

	fs := createFixture()
	fs.metadataByTripleFn = func(context.Context, int64, int64, string) ([]store.Metadata, error) {
		return []store.Metadata{existing}, nil
	}
	fs.insertMetadataFn = func(context.Context, store.Metadata) (store.Metadata, error) {
		t.Fatal("an exact metadata match must be reused")
		return store.Metadata{}, nil
	}
	var inserted store.Annotation
	fs.insertAnnotationFn = func(_ context.Context, a store.Annotation) error {
		inserted = a
		return nil
	}
	svc := newTestService(fs)

	annot, err := svc.CreateAnnotation(context.Background(), CreateAnnotationInput{
		DocumentURI: "uri://doc",
		GroupName:   "SG-review",
		Text:        "needs a citation",
		Metadata:    metadata.Simple{"systemId": "ISC", "version": "1.0", "ISCReference": "A"},
	}, UserInformation{User: store.User{ID: 9}, Login: "carol"})
	if err != nil {
		t.Fatalf("CreateAnnotation failed: %v", err)
	}

	if annot.MetadataID != 4 {
		t.Errorf("expected metadata 4 to be reused, got %d", annot.MetadataID)
	}
	if annot.ID == "" {
		t.Error("annotation must get an id")
	}
	if inserted.UserLogin != "carol" {
		t.Errorf("expected creator carol, got %q", inserted.UserLogin)
	}
}

func TestCreateAnnotationCreatesMetadata(t *testing.T) {
	fs := createFixture()
	var insertedMeta store.Metadata
	fs.insertMetadataFn = func(_ context.Context, m store.Metadata) (store.Metadata, error) {
		m.ID = 11
		insertedMeta = m
		return m, nil
	}
	svc := newTestService(fs)

	annot, err := svc.CreateAnnotation(context.Background(), CreateAnnotationInput{
		DocumentURI: "uri://doc",
		GroupName:   "SG-review",
		Text:        "first",
		Metadata:    metadata.Simple{"systemId": "ISC", "ISCReference": "A"},
	}, UserInformation{User: store.User{ID: 9}, Login: "carol", Authority: "ISC"})
	if err != nil {
		t.Fatalf("CreateAnnotation failed: %v", err)
	}

	if annot.MetadataID != 11 {
		t.Errorf("expected fresh metadata 11, got %d", annot.MetadataID)
	}
	if insertedMeta.SystemID != "ISC" {
		t.Errorf("systemId must land in its column, got %q", insertedMeta.SystemID)
	}
	if insertedMeta.Props()["ISCReference"] != "A" {
		t.Errorf("free-form keys must land in the blob, got %q", insertedMeta.KeyValuePairs)
	}
}

func TestCreateAnnotationRejectsSentStatus(t *testing.T) {
	svc := newTestService(createFixture())

	_, err := svc.CreateAnnotation(context.Background(), CreateAnnotationInput{
		DocumentURI: "uri://doc",
		GroupName:   "SG-review",
		Text:        "too late",
		Metadata:    metadata.Simple{"responseStatus": "SENT"},
	}, UserInformation{})

	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "INVALID_STATE" {
		t.Fatalf("expected INVALID_STATE, got %v", err)
	}
}

func TestCreateAnnotationRejectsReplyOnSent(t *testing.T) {
	fs := createFixture()
	fs.getAnnotationFn = func(_ context.Context, id string) (store.Annotation, error) {
		return store.Annotation{ID: id, MetadataID: 1}, nil
	}
	fs.getMetadataFn = func(context.Context, int64) (store.Metadata, error) {
		return metadataWith(1, "ISC", "1.0", metadata.ResponseStatusSent, nil), nil
	}
	svc := newTestService(fs)

	_, err := svc.CreateAnnotation(context.Background(), CreateAnnotationInput{
		DocumentURI: "uri://doc",
		GroupName:   "SG-review",
		Text:        "reply",
		References:  []string{"root-id"},
	}, UserInformation{})

	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "INVALID_STATE" {
		t.Fatalf("expected INVALID_STATE for a reply on SENT, got %v", err)
	}
}

func TestUpdateAnnotationInPlace(t *testing.T) {
	fs := &fakeStore{
		getAnnotationFn: func(_ context.Context, id string) (store.Annotation, error) {
			return store.Annotation{ID: id, UserID: 9, MetadataID: 1}, nil
		},
		getMetadataFn: func(context.Context, int64) (store.Metadata, error) {
			return metadataWith(1, "LEOS", "1.0", metadata.ResponseStatusUnset, nil), nil
		},
	}
	var saved store.Annotation
	fs.updateAnnotationFn = func(_ context.Context, a store.Annotation) error {
		saved = a
		return nil
	}
	svc := newTestService(fs)

	got, err := svc.UpdateAnnotation(context.Background(), "a1", "better wording", UserInformation{User: store.User{ID: 9}, Authority: "LEOS"})
	if err != nil {
		t.Fatalf("UpdateAnnotation failed: %v", err)
	}
	if got.ID != "a1" || saved.Text != "better wording" {
		t.Errorf("expected in-place edit of a1, got %+v", saved)
	}
}

func TestUpdateAnnotationSentSpawnsLinkedDraft(t *testing.T) {
	sent := metadataWith(1, "ISC", "1.0", metadata.ResponseStatusSent, metadata.Simple{"ISCReference": "A"})
	sent.ResponseVersion = 1
	inPrep := metadataWith(2, "ISC", "1.0", metadata.ResponseStatusInPreparation, metadata.Simple{"ISCReference": "A"})
	inPrep.ResponseVersion = 2

	saved := map[string]store.Annotation{}
	var insertedDraft store.Annotation
	fs := &fakeStore{
		getAnnotationFn: func(_ context.Context, id string) (store.Annotation, error) {
			return store.Annotation{ID: "a1", UserID: 9, MetadataID: 1, Shared: true}, nil
		},
		getMetadataFn: func(context.Context, int64) (store.Metadata, error) {
			return sent, nil
		},
		metadataByTripleFn: func(context.Context, int64, int64, string) ([]store.Metadata, error) {
			return []store.Metadata{sent, inPrep}, nil
		},
		isGroupMemberFn: func(context.Context, int64, int64) (bool, error) {
			return true, nil
		},
		insertAnnotationFn: func(_ context.Context, a store.Annotation) error {
			insertedDraft = a
			return nil
		},
		updateAnnotationFn: func(_ context.Context, a store.Annotation) error {
			saved[a.ID] = a
			return nil
		},
	}
	svc := newTestService(fs)

	draft, err := svc.UpdateAnnotation(context.Background(), "a1", "second thoughts", UserInformation{User: store.User{ID: 9}, Login: "carol", Authority: "ISC"})
	if err != nil {
		t.Fatalf("UpdateAnnotation failed: %v", err)
	}

	if draft.ID == "a1" {
		t.Fatal("editing sent content must spawn a new draft, not edit in place")
	}
	if insertedDraft.MetadataID != 2 {
		t.Errorf("draft must attach to the IN_PREPARATION metadata, got %d", insertedDraft.MetadataID)
	}
	if insertedDraft.LinkedAnnotationID != "a1" {
		t.Errorf("draft must point back to the sent original, got %q", insertedDraft.LinkedAnnotationID)
	}
	if saved["a1"].LinkedAnnotationID != draft.ID {
		t.Errorf("original must point forward to the draft, got %q", saved["a1"].LinkedAnnotationID)
	}
}

func TestUpdateAnnotationPermissionDenied(t *testing.T) {
	fs := &fakeStore{
		getAnnotationFn: func(_ context.Context, id string) (store.Annotation, error) {
			return store.Annotation{ID: id, UserID: 9, MetadataID: 1}, nil
		},
		getMetadataFn: func(context.Context, int64) (store.Metadata, error) {
			return metadataWith(1, "LEOS", "1.0", metadata.ResponseStatusUnset, nil), nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.UpdateAnnotation(context.Background(), "a1", "nope", UserInformation{User: store.User{ID: 20}, Authority: "LEOS"})

	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "PERMISSION_DENIED" {
		t.Fatalf("expected PERMISSION_DENIED, got %v", err)
	}
}

func deleteFixture(annot store.Annotation, meta store.Metadata) *fakeStore {
	return &fakeStore{
		getAnnotationFn: func(_ context.Context, id string) (store.Annotation, error) {
			if id == annot.ID {
				return annot, nil
			}
			return store.Annotation{}, sql.ErrNoRows
		},
		getMetadataFn: func(context.Context, int64) (store.Metadata, error) {
			return meta, nil
		},
		getGroupFn: func(context.Context, int64) (store.Group, error) {
			return store.Group{ID: 5, Name: "SG-review"}, nil
		},
		getUserByLoginFn: func(_ context.Context, login string) (store.User, error) {
			return store.User{ID: 9, Login: login, Authority: "ISC"}, nil
		},
	}
}

func TestDeleteAnnotationCascadesToReplies(t *testing.T) {
	annot := store.Annotation{ID: "root", UserID: 9, UserLogin: "carol", MetadataID: 1}
	meta := metadataWith(1, "ISC", "1.0", metadata.ResponseStatusUnset, nil)

	fs := deleteFixture(annot, meta)
	fs.repliesByRootFn = func(_ context.Context, rootID string, status store.AnnotationStatus) ([]store.Annotation, error) {
		if rootID != "root" || status != store.AnnotationStatusNormal {
			t.Errorf("cascade must target NORMAL replies of the root, got %q %v", rootID, status)
		}
		return []store.Annotation{
			{ID: "r1", References: "root", Status: store.AnnotationStatusNormal},
			{ID: "r2", References: "root,r1", Status: store.AnnotationStatusNormal},
		}, nil
	}
	deleted := map[string]store.Annotation{}
	fs.updateAnnotationFn = func(_ context.Context, a store.Annotation) error {
		deleted[a.ID] = a
		return nil
	}
	svc := newTestService(fs)

	user := UserInformation{User: store.User{ID: 9}, Login: "carol", Authority: "ISC"}
	if err := svc.DeleteAnnotation(context.Background(), "root", user); err != nil {
		t.Fatalf("DeleteAnnotation failed: %v", err)
	}

	for _, id := range []string{"root", "r1", "r2"} {
		if deleted[id].Status != store.AnnotationStatusDeleted {
			t.Errorf("annotation %s must be soft-deleted", id)
		}
	}
}

func TestDeleteAnnotationSentMarksSentDeleted(t *testing.T) {
	annot := store.Annotation{ID: "a1", UserID: 9, UserLogin: "carol", MetadataID: 1}
	meta := metadataWith(1, "ISC", "1.0", metadata.ResponseStatusSent, metadata.Simple{"responseId": "DIGIT"})
	meta.ResponseVersion = 1

	fs := deleteFixture(annot, meta)
	fs.metadataByTripleFn = func(context.Context, int64, int64, string) ([]store.Metadata, error) {
		return []store.Metadata{meta}, nil
	}
	var saved store.Annotation
	fs.updateAnnotationFn = func(_ context.Context, a store.Annotation) error {
		saved = a
		return nil
	}
	svc := newTestService(fs)

	user := UserInformation{User: store.User{ID: 9}, Login: "carol", Authority: "ISC", Role: "ISC", ConnectedEntity: "DIGIT"}
	if err := svc.DeleteAnnotation(context.Background(), "a1", user); err != nil {
		t.Fatalf("DeleteAnnotation failed: %v", err)
	}

	if !saved.SentDeleted {
		t.Fatal("sent annotation must be marked sent-deleted, not removed")
	}
	if saved.Status != store.AnnotationStatusNormal {
		t.Errorf("status must stay NORMAL until the round completes, got %v", saved.Status)
	}
	if saved.RespVersionSentDeleted != 2 {
		t.Errorf("expected deletion stamped at the next response version 2, got %d", saved.RespVersionSentDeleted)
	}
}

func TestDeleteAnnotationSentWrongEntity(t *testing.T) {
	annot := store.Annotation{ID: "a1", UserID: 9, UserLogin: "carol", MetadataID: 1}
	meta := metadataWith(1, "ISC", "1.0", metadata.ResponseStatusSent, metadata.Simple{"responseId": "DIGIT"})

	svc := newTestService(deleteFixture(annot, meta))

	user := UserInformation{User: store.User{ID: 9}, Login: "carol", Authority: "ISC", Role: "ISC", ConnectedEntity: "AGRI"}
	err := svc.DeleteAnnotation(context.Background(), "a1", user)

	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "PERMISSION_DENIED" {
		t.Fatalf("expected PERMISSION_DENIED for another entity's sent content, got %v", err)
	}
}

func TestDeleteAnnotationsByIDPartialFailure(t *testing.T) {
	good := store.Annotation{ID: "good", UserID: 9, UserLogin: "carol", MetadataID: 1}
	meta := metadataWith(1, "ISC", "1.0", metadata.ResponseStatusUnset, nil)

	fs := deleteFixture(good, meta)
	svc := newTestService(fs)

	user := UserInformation{User: store.User{ID: 9}, Login: "carol", Authority: "ISC"}
	deleted, failed, err := svc.DeleteAnnotationsByID(context.Background(), []string{"good", "missing"}, user)
	if err != nil {
		t.Fatalf("unexpected hard failure: %v", err)
	}
	if len(deleted) != 1 || deleted[0] != "good" {
		t.Errorf("expected deleted [good], got %v", deleted)
	}
	if len(failed) != 1 || failed[0] != "missing" {
		t.Errorf("expected failed [missing], got %v", failed)
	}
}

func TestDeleteAnnotationsByIDAbortsOnUnexpectedError(t *testing.T) {
	boom := errors.New("connection reset")
	fs := &fakeStore{
		getAnnotationFn: func(context.Context, string) (store.Annotation, error) {
			return store.Annotation{}, boom
		},
	}
	svc := newTestService(fs)

	_, _, err := svc.DeleteAnnotationsByID(context.Background(), []string{"a1", "a2"}, UserInformation{})
	if !errors.Is(err, boom) {
		t.Fatalf("unexpected errors must abort the batch, got %v", err)
	}
}

func TestAcceptAndRejectSuggestion(t *testing.T) {
	meta := metadataWith(1, "LEOS", "1.0", metadata.ResponseStatusUnset, nil)
	annot := store.Annotation{ID: "s1", UserID: 9, MetadataID: 1, Status: store.AnnotationStatusNormal}

	var saved store.Annotation
	fs := &fakeStore{
		getAnnotationFn: func(context.Context, string) (store.Annotation, error) {
			return annot, nil
		},
		getMetadataFn: func(context.Context, int64) (store.Metadata, error) {
			return meta, nil
		},
		isGroupMemberFn: func(context.Context, int64, int64) (bool, error) {
			return true, nil
		},
		updateAnnotationFn: func(_ context.Context, a store.Annotation) error {
			saved = a
			return nil
		},
	}
	svc := newTestService(fs)
	user := UserInformation{User: store.User{ID: 20}}

	if err := svc.AcceptSuggestion(context.Background(), "s1", user); err != nil {
		t.Fatalf("AcceptSuggestion failed: %v", err)
	}
	if saved.Status != store.AnnotationStatusAccepted {
		t.Errorf("expected ACCEPTED, got %v", saved.Status)
	}

	if err := svc.RejectSuggestion(context.Background(), "s1", user); err != nil {
		t.Fatalf("RejectSuggestion failed: %v", err)
	}
	if saved.Status != store.AnnotationStatusRejected {
		t.Errorf("expected REJECTED, got %v", saved.Status)
	}
}

func TestResolveSuggestionNonMember(t *testing.T) {
	fs := &fakeStore{
		getAnnotationFn: func(context.Context, string) (store.Annotation, error) {
			return store.Annotation{ID: "s1", MetadataID: 1}, nil
		},
		getMetadataFn: func(context.Context, int64) (store.Metadata, error) {
			return metadataWith(1, "LEOS", "1.0", metadata.ResponseStatusUnset, nil), nil
		},
	}
	svc := newTestService(fs)

	err := svc.AcceptSuggestion(context.Background(), "s1", UserInformation{User: store.User{ID: 30}})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "PERMISSION_DENIED" {
		t.Fatalf("expected PERMISSION_DENIED, got %v", err)
	}
}
