package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"margin/api/internal/metadata"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// placeholders renders "$start, $start+1, ..." for n values, for IN clauses.
func placeholders(start, n int) string {
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ", ")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// ---------------------------------------------------------------------------
// Users and groups

func (s *PostgresStore) EnsureUserByLogin(ctx context.Context, login, authorityName string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, login, authority, display_name, created_at
		FROM users
		WHERE login=$1 AND authority=$2
	`, login, authorityName).Scan(&user.ID, &user.Login, &user.Authority, &user.DisplayName, &user.CreatedAt)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO users (login, authority, display_name)
		VALUES ($1, $2, $1)
		RETURNING id, login, authority, display_name, created_at
	`, login, authorityName).Scan(&user.ID, &user.Login, &user.Authority, &user.DisplayName, &user.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByLogin(ctx context.Context, login string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, login, authority, display_name, created_at
		FROM users
		WHERE login=$1
	`, login).Scan(&user.ID, &user.Login, &user.Authority, &user.DisplayName, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetGroupByName(ctx context.Context, name string) (Group, error) {
	var group Group
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, display_name, description, is_public, created_at
		FROM groups
		WHERE name=$1
	`, name).Scan(&group.ID, &group.Name, &group.DisplayName, &group.Description, &group.IsPublic, &group.CreatedAt)
	if err != nil {
		return Group{}, err
	}
	return group, nil
}

func (s *PostgresStore) GetGroup(ctx context.Context, groupID int64) (Group, error) {
	var group Group
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, display_name, description, is_public, created_at
		FROM groups
		WHERE id=$1
	`, groupID).Scan(&group.ID, &group.Name, &group.DisplayName, &group.Description, &group.IsPublic, &group.CreatedAt)
	if err != nil {
		return Group{}, err
	}
	return group, nil
}

func (s *PostgresStore) EnsureGroup(ctx context.Context, name, displayName string, isPublic bool) (Group, error) {
	group, err := s.GetGroupByName(ctx, name)
	if err == nil {
		return group, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Group{}, fmt.Errorf("lookup group: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO groups (name, display_name, is_public)
		VALUES ($1, $2, $3)
		RETURNING id, name, display_name, description, is_public, created_at
	`, name, displayName, isPublic).Scan(&group.ID, &group.Name, &group.DisplayName, &group.Description, &group.IsPublic, &group.CreatedAt)
	if err != nil {
		return Group{}, fmt.Errorf("insert group: %w", err)
	}
	return group, nil
}

func (s *PostgresStore) IsGroupMember(ctx context.Context, userID, groupID int64) (bool, error) {
	var member bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM users_groups WHERE user_id=$1 AND group_id=$2)
	`, userID, groupID).Scan(&member)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return member, nil
}

// AssignUserToGroup is idempotent: assigning twice leaves one membership.
func (s *PostgresStore) AssignUserToGroup(ctx context.Context, userID, groupID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users_groups (user_id, group_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, group_id) DO NOTHING
	`, userID, groupID)
	if err != nil {
		return fmt.Errorf("assign user to group: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Documents

func (s *PostgresStore) GetDocumentByURI(ctx context.Context, uri string) (Document, error) {
	var doc Document
	err := s.db.QueryRowContext(ctx, `
		SELECT id, uri, title, created_at FROM documents WHERE uri=$1
	`, uri).Scan(&doc.ID, &doc.URI, &doc.Title, &doc.CreatedAt)
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID int64) (Document, error) {
	var doc Document
	err := s.db.QueryRowContext(ctx, `
		SELECT id, uri, title, created_at FROM documents WHERE id=$1
	`, documentID).Scan(&doc.ID, &doc.URI, &doc.Title, &doc.CreatedAt)
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (s *PostgresStore) EnsureDocument(ctx context.Context, uri, title string) (Document, error) {
	doc, err := s.GetDocumentByURI(ctx, uri)
	if err == nil {
		return doc, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Document{}, fmt.Errorf("lookup document: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO documents (uri, title)
		VALUES ($1, $2)
		RETURNING id, uri, title, created_at
	`, uri, title).Scan(&doc.ID, &doc.URI, &doc.Title, &doc.CreatedAt)
	if err != nil {
		return Document{}, fmt.Errorf("insert document: %w", err)
	}
	return doc, nil
}

// ---------------------------------------------------------------------------
// Metadata

const metadataColumns = `id, document_id, group_id, system_id, version, response_status,
	response_version, response_status_updated, response_status_updated_by,
	key_value_pairs, created_at, updated_at`

func scanMetadata(row interface{ Scan(...any) error }) (Metadata, error) {
	var m Metadata
	var status string
	err := row.Scan(&m.ID, &m.DocumentID, &m.GroupID, &m.SystemID, &m.Version, &status,
		&m.ResponseVersion, &m.ResponseStatusUpdated, &m.ResponseStatusUpdatedBy,
		&m.KeyValuePairs, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return Metadata{}, err
	}
	m.ResponseStatus = metadata.ParseResponseStatus(status)
	return m, nil
}

// MetadataByTriple returns all metadata rows for the identity triple,
// ordered by id so exact-match lookups have a deterministic tie-break.
func (s *PostgresStore) MetadataByTriple(ctx context.Context, documentID, groupID int64, systemID string) ([]Metadata, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+metadataColumns+`
		FROM metadata
		WHERE document_id=$1 AND group_id=$2 AND system_id=$3
		ORDER BY id
	`, documentID, groupID, systemID)
	if err != nil {
		return nil, fmt.Errorf("list metadata: %w", err)
	}
	defer rows.Close()

	items := make([]Metadata, 0)
	for rows.Next() {
		item, err := scanMetadata(rows)
		if err != nil {
			return nil, fmt.Errorf("scan metadata: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate metadata: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetMetadata(ctx context.Context, metadataID int64) (Metadata, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+metadataColumns+` FROM metadata WHERE id=$1
	`, metadataID)
	return scanMetadata(row)
}

// InsertMetadata persists a new metadata row and returns it with the
// assigned id.
func (s *PostgresStore) InsertMetadata(ctx context.Context, item Metadata) (Metadata, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO metadata (document_id, group_id, system_id, version, response_status,
			response_version, response_status_updated, response_status_updated_by, key_value_pairs)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+metadataColumns+`
	`, item.DocumentID, item.GroupID, item.SystemID, item.Version, item.ResponseStatus.String(),
		item.ResponseVersion, item.ResponseStatusUpdated, item.ResponseStatusUpdatedBy, item.KeyValuePairs)
	saved, err := scanMetadata(row)
	if err != nil {
		return Metadata{}, fmt.Errorf("insert metadata: %w", err)
	}
	return saved, nil
}

func (s *PostgresStore) UpdateMetadata(ctx context.Context, item Metadata) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE metadata
		SET version=$2, response_status=$3, response_version=$4,
			response_status_updated=$5, response_status_updated_by=$6,
			key_value_pairs=$7, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.Version, item.ResponseStatus.String(), item.ResponseVersion,
		item.ResponseStatusUpdated, item.ResponseStatusUpdatedBy, item.KeyValuePairs)
	if err != nil {
		return fmt.Errorf("update metadata: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteMetadata(ctx context.Context, metadataID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM metadata WHERE id=$1`, metadataID)
	if err != nil {
		return fmt.Errorf("delete metadata: %w", err)
	}
	return nil
}

// CountAnnotationsByMetadata counts the annotations still referencing the
// metadata row. Soft-deleted annotations no longer count as references.
func (s *PostgresStore) CountAnnotationsByMetadata(ctx context.Context, metadataID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM annotations WHERE metadata_id=$1 AND status <> 'DELETED'
	`, metadataID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count annotations: %w", err)
	}
	return count, nil
}

// ---------------------------------------------------------------------------
// Annotations

const annotationColumns = `id, text, user_id, user_login, shared, status, metadata_id,
	references_chain, linked_annotation_id, sent_deleted, resp_version_sent_deleted,
	created_at, updated_at, status_updated, status_updated_by`

func scanAnnotation(row interface{ Scan(...any) error }) (Annotation, error) {
	var a Annotation
	var status string
	err := row.Scan(&a.ID, &a.Text, &a.UserID, &a.UserLogin, &a.Shared, &status, &a.MetadataID,
		&a.References, &a.LinkedAnnotationID, &a.SentDeleted, &a.RespVersionSentDeleted,
		&a.CreatedAt, &a.UpdatedAt, &a.StatusUpdated, &a.StatusUpdatedBy)
	if err != nil {
		return Annotation{}, err
	}
	a.Status = parseAnnotationStatus(status)
	return a, nil
}

func parseAnnotationStatus(s string) AnnotationStatus {
	switch s {
	case "DELETED":
		return AnnotationStatusDeleted
	case "ACCEPTED":
		return AnnotationStatusAccepted
	case "REJECTED":
		return AnnotationStatusRejected
	default:
		return AnnotationStatusNormal
	}
}

func (s *PostgresStore) GetAnnotation(ctx context.Context, annotationID string) (Annotation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+annotationColumns+` FROM annotations WHERE id=$1
	`, annotationID)
	return scanAnnotation(row)
}

func (s *PostgresStore) InsertAnnotation(ctx context.Context, item Annotation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO annotations (id, text, user_id, user_login, shared, status, metadata_id,
			references_chain, linked_annotation_id, sent_deleted, resp_version_sent_deleted,
			status_updated, status_updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, item.ID, item.Text, item.UserID, item.UserLogin, item.Shared, item.Status.String(),
		item.MetadataID, item.References, item.LinkedAnnotationID, item.SentDeleted,
		item.RespVersionSentDeleted, item.StatusUpdated, item.StatusUpdatedBy)
	if err != nil {
		return fmt.Errorf("insert annotation: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateAnnotation(ctx context.Context, item Annotation) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE annotations
		SET text=$2, shared=$3, status=$4, metadata_id=$5, linked_annotation_id=$6,
			sent_deleted=$7, resp_version_sent_deleted=$8, updated_at=NOW(),
			status_updated=$9, status_updated_by=$10
		WHERE id=$1
	`, item.ID, item.Text, item.Shared, item.Status.String(), item.MetadataID,
		item.LinkedAnnotationID, item.SentDeleted, item.RespVersionSentDeleted,
		item.StatusUpdated, item.StatusUpdatedBy)
	if err != nil {
		return fmt.Errorf("update annotation: %w", err)
	}
	return nil
}

// AnnotationsByMetadataIDs returns annotations referencing any of the given
// metadata rows and carrying the given status.
func (s *PostgresStore) AnnotationsByMetadataIDs(ctx context.Context, metadataIDs []int64, status AnnotationStatus) ([]Annotation, error) {
	if len(metadataIDs) == 0 {
		return []Annotation{}, nil
	}
	query := `
		SELECT ` + annotationColumns + `
		FROM annotations
		WHERE status=$1 AND metadata_id IN (` + placeholders(2, len(metadataIDs)) + `)
		ORDER BY created_at`
	args := append([]any{status.String()}, int64Args(metadataIDs)...)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list annotations by metadata: %w", err)
	}
	defer rows.Close()
	return collectAnnotations(rows)
}

// UnsharedAnnotationsByMetadataIDs returns a user's private NORMAL
// annotations referencing any of the given metadata rows.
func (s *PostgresStore) UnsharedAnnotationsByMetadataIDs(ctx context.Context, metadataIDs []int64, userID int64) ([]Annotation, error) {
	if len(metadataIDs) == 0 {
		return []Annotation{}, nil
	}
	query := `
		SELECT ` + annotationColumns + `
		FROM annotations
		WHERE status='NORMAL' AND shared=FALSE AND user_id=$1
			AND metadata_id IN (` + placeholders(2, len(metadataIDs)) + `)
		ORDER BY created_at`
	args := append([]any{userID}, int64Args(metadataIDs)...)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list unshared annotations: %w", err)
	}
	defer rows.Close()
	return collectAnnotations(rows)
}

// SentDeletedPendingByMetadataIDs returns annotations flagged sentDeleted
// whose soft deletion has not yet been finalized.
func (s *PostgresStore) SentDeletedPendingByMetadataIDs(ctx context.Context, metadataIDs []int64) ([]Annotation, error) {
	if len(metadataIDs) == 0 {
		return []Annotation{}, nil
	}
	query := `
		SELECT ` + annotationColumns + `
		FROM annotations
		WHERE sent_deleted=TRUE AND status <> 'DELETED'
			AND metadata_id IN (` + placeholders(1, len(metadataIDs)) + `)
		ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, int64Args(metadataIDs)...)
	if err != nil {
		return nil, fmt.Errorf("list sent-deleted annotations: %w", err)
	}
	defer rows.Close()
	return collectAnnotations(rows)
}

// MaxSentDeletedVersion returns the highest resp_version_sent_deleted among
// already-deleted sentDeleted annotations referencing the metadata rows.
// Returns 0 when there are none.
func (s *PostgresStore) MaxSentDeletedVersion(ctx context.Context, metadataIDs []int64) (int64, error) {
	if len(metadataIDs) == 0 {
		return 0, nil
	}
	query := `
		SELECT COALESCE(MAX(resp_version_sent_deleted), 0)
		FROM annotations
		WHERE status='DELETED' AND sent_deleted=TRUE
			AND metadata_id IN (` + placeholders(1, len(metadataIDs)) + `)`

	var max int64
	if err := s.db.QueryRowContext(ctx, query, int64Args(metadataIDs)...).Scan(&max); err != nil {
		return 0, fmt.Errorf("max sent-deleted version: %w", err)
	}
	return max, nil
}

// RepliesByRoot returns the replies of a thread root carrying the given
// status.
func (s *PostgresStore) RepliesByRoot(ctx context.Context, rootID string, status AnnotationStatus) ([]Annotation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+annotationColumns+`
		FROM annotations
		WHERE status=$1 AND (references_chain=$2 OR references_chain LIKE $3)
		ORDER BY created_at
	`, status.String(), rootID, rootID+",%")
	if err != nil {
		return nil, fmt.Errorf("list replies: %w", err)
	}
	defer rows.Close()
	return collectAnnotations(rows)
}

func collectAnnotations(rows *sql.Rows) ([]Annotation, error) {
	items := make([]Annotation, 0)
	for rows.Next() {
		item, err := scanAnnotation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan annotation: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate annotations: %w", err)
	}
	return items, nil
}
