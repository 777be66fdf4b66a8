package app

import (
	"context"

	"margin/api/internal/authority"
	"margin/api/internal/config"
	"margin/api/internal/directory"
	"margin/api/internal/search"
	"margin/api/internal/store"
)

type dataStore interface {
	EnsureUserByLogin(context.Context, string, string) (store.User, error)
	GetUserByLogin(context.Context, string) (store.User, error)
	GetGroupByName(context.Context, string) (store.Group, error)
	GetGroup(context.Context, int64) (store.Group, error)
	EnsureGroup(context.Context, string, string, bool) (store.Group, error)
	IsGroupMember(context.Context, int64, int64) (bool, error)
	AssignUserToGroup(context.Context, int64, int64) error
	GetDocumentByURI(context.Context, string) (store.Document, error)
	GetDocument(context.Context, int64) (store.Document, error)
	EnsureDocument(context.Context, string, string) (store.Document, error)
	MetadataByTriple(context.Context, int64, int64, string) ([]store.Metadata, error)
	GetMetadata(context.Context, int64) (store.Metadata, error)
	InsertMetadata(context.Context, store.Metadata) (store.Metadata, error)
	UpdateMetadata(context.Context, store.Metadata) error
	DeleteMetadata(context.Context, int64) error
	CountAnnotationsByMetadata(context.Context, int64) (int, error)
	GetAnnotation(context.Context, string) (store.Annotation, error)
	InsertAnnotation(context.Context, store.Annotation) error
	UpdateAnnotation(context.Context, store.Annotation) error
	AnnotationsByMetadataIDs(context.Context, []int64, store.AnnotationStatus) ([]store.Annotation, error)
	UnsharedAnnotationsByMetadataIDs(context.Context, []int64, int64) ([]store.Annotation, error)
	SentDeletedPendingByMetadataIDs(context.Context, []int64) ([]store.Annotation, error)
	MaxSentDeletedVersion(context.Context, []int64) (int64, error)
	RepliesByRoot(context.Context, string, store.AnnotationStatus) ([]store.Annotation, error)
	Ping(ctx context.Context) error
}

type searchIndex interface {
	IndexAnnotation(search.AnnotationRecord)
	DeleteAnnotation(string)
}

type userDirectory interface {
	UserDetails(ctx context.Context, login string) (directory.UserDetails, error)
}

// UserInformation carries the acting user's identity and role for one
// request. ConnectedEntity is the ISC entity the user responds on behalf
// of, empty for EdiT users.
type UserInformation struct {
	User            store.User
	Login           string
	Authority       string
	Role            authority.Role
	ConnectedEntity string
}

type Service struct {
	cfg       config.Config
	store     dataStore
	search    searchIndex
	directory userDirectory
}

func New(cfg config.Config, dataStore *store.PostgresStore, searchService *search.Service, dir *directory.CachedDirectory) *Service {
	s := &Service{
		cfg:   cfg,
		store: dataStore,
	}
	if searchService != nil {
		s.search = searchService
	}
	if dir != nil {
		s.directory = dir
	}
	return s
}

// kindOf maps an authority string to the workflow it belongs to, using the
// configured authority names.
func (s *Service) kindOf(systemID string) authority.Kind {
	return authority.Classify(systemID, s.cfg.EditAuthority, s.cfg.ISCAuthority)
}

// ResolveUser builds the request-scoped user context from a login and role
// string, consulting the external directory for the connected entity when
// a directory is configured.
func (s *Service) ResolveUser(ctx context.Context, login, authorityName, role string) (UserInformation, error) {
	user, err := s.store.EnsureUserByLogin(ctx, login, authorityName)
	if err != nil {
		return UserInformation{}, err
	}
	info := UserInformation{
		User:      user,
		Login:     login,
		Authority: authorityName,
		Role:      authority.NormalizeRole(role, s.kindOf(authorityName)),
	}
	if s.directory != nil {
		details, err := s.directory.UserDetails(ctx, login)
		if err == nil {
			info.ConnectedEntity = details.Entity
		}
	}
	return info, nil
}

func (s *Service) Health(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) indexAnnotation(annot store.Annotation, documentURI, groupName string) {
	if s.search == nil {
		return
	}
	s.search.IndexAnnotation(search.AnnotationRecord{
		ID:          annot.ID,
		Text:        annot.Text,
		DocumentURI: documentURI,
		GroupName:   groupName,
		Shared:      annot.Shared,
		Status:      annot.Status.String(),
	})
}

func (s *Service) unindexAnnotation(id string) {
	if s.search != nil {
		s.search.DeleteAnnotation(id)
	}
}
