package store

import (
	"strings"
	"time"

	"margin/api/internal/metadata"
)

type User struct {
	ID          int64
	Login       string
	Authority   string
	DisplayName string
	CreatedAt   time.Time
}

type Group struct {
	ID          int64
	Name        string
	DisplayName string
	Description string
	IsPublic    bool
	CreatedAt   time.Time
}

type Document struct {
	ID        int64
	URI       string
	Title     string
	CreatedAt time.Time
}

// Metadata links (document, group, systemId) to a response-workflow state
// and a bag of free-form key-value properties. Many annotations may share
// one metadata row.
type Metadata struct {
	ID                      int64
	DocumentID              int64
	GroupID                 int64
	SystemID                string
	Version                 string
	ResponseStatus          metadata.ResponseStatus
	ResponseVersion         int64
	ResponseStatusUpdated   *time.Time
	ResponseStatusUpdatedBy int64
	KeyValuePairs           string
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// Props returns the free-form properties stored in the key-value blob.
// systemId, version, and responseStatus live in dedicated columns and are
// not part of the blob.
func (m *Metadata) Props() metadata.Simple {
	return metadata.ParseProps(m.KeyValuePairs)
}

// AllProps returns the blob properties plus the dedicated-column fields
// materialized under their well-known keys. Unset fields are omitted.
func (m *Metadata) AllProps() metadata.Simple {
	props := m.Props()
	if m.SystemID != "" {
		props[metadata.KeySystemID] = m.SystemID
	}
	if m.Version != "" {
		props[metadata.KeyVersion] = m.Version
	}
	if m.ResponseStatus != metadata.ResponseStatusUnset {
		props[metadata.KeyResponseStatus] = m.ResponseStatus.String()
	}
	return props
}

// SetProps stores the given properties on the metadata row. The dedicated
// fields are lifted out of the bag into their columns; everything else is
// serialized into the blob.
func (m *Metadata) SetProps(props metadata.Simple) {
	working := props.Clone()
	if v, ok := working[metadata.KeySystemID]; ok {
		m.SystemID = v
		delete(working, metadata.KeySystemID)
	}
	if v, ok := working[metadata.KeyVersion]; ok {
		m.Version = v
		delete(working, metadata.KeyVersion)
	}
	if v, ok := working[metadata.KeyResponseStatus]; ok {
		m.ResponseStatus = metadata.ParseResponseStatus(v)
		delete(working, metadata.KeyResponseStatus)
	}
	m.KeyValuePairs = metadata.FormatProps(working)
}

// IsResponseSent reports whether the metadata set has been finalized.
func (m *Metadata) IsResponseSent() bool {
	return m != nil && m.ResponseStatus == metadata.ResponseStatusSent
}

type AnnotationStatus int

const (
	AnnotationStatusNormal AnnotationStatus = iota
	AnnotationStatusDeleted
	AnnotationStatusAccepted
	AnnotationStatusRejected
)

func (s AnnotationStatus) String() string {
	switch s {
	case AnnotationStatusDeleted:
		return "DELETED"
	case AnnotationStatusAccepted:
		return "ACCEPTED"
	case AnnotationStatusRejected:
		return "REJECTED"
	default:
		return "NORMAL"
	}
}

// Annotation is a comment, highlight, or suggestion anchored to a document.
type Annotation struct {
	ID        string
	Text      string
	UserID    int64
	UserLogin string
	Shared    bool
	Status    AnnotationStatus

	MetadataID int64

	// References holds the reply-thread ancestry as a comma-separated list
	// of annotation ids, oldest first. Empty for thread roots.
	References string

	// LinkedAnnotationID is the forward pointer created when editing a SENT
	// annotation spawns a new draft superseding it.
	LinkedAnnotationID string

	// SentDeleted marks a SENT annotation as logically removed;
	// RespVersionSentDeleted records the response version at which the
	// removal took effect and is only meaningful while SentDeleted is set.
	SentDeleted            bool
	RespVersionSentDeleted int64

	CreatedAt       time.Time
	UpdatedAt       time.Time
	StatusUpdated   *time.Time
	StatusUpdatedBy int64
}

// RootAnnotationID returns the id of the thread root this annotation
// replies to, or "" if the annotation is itself a root.
func (a *Annotation) RootAnnotationID() string {
	if a.References == "" {
		return ""
	}
	refs := strings.SplitN(a.References, ",", 2)
	return refs[0]
}

// IsReply reports whether the annotation is a reply rather than a root.
func (a *Annotation) IsReply() bool {
	return a.References != ""
}
