package app

import (
	"context"
	"fmt"
	"strings"

	"margin/api/internal/authority"
	"margin/api/internal/metadata"
	"margin/api/internal/store"
)

// PermissionSet holds the principals allowed to act on an annotation, one
// list per axis. Each list is one of: the creator's account, the
// annotation's group, the configured everybody group, or the single empty
// string meaning no one.
type PermissionSet struct {
	Admin  []string `json:"admin"`
	Delete []string `json:"delete"`
	Update []string `json:"update"`
	Read   []string `json:"read"`
}

type permAxis int

const (
	axisAdmin permAxis = iota
	axisDelete
	axisUpdate
)

// permContext bundles everything a permission rule may consult.
type permContext struct {
	annot   *store.Annotation
	meta    *store.Metadata
	group   *store.Group
	creator store.User
	user    UserInformation
	cfg     permConfig
}

type permConfig struct {
	defaultGroupName string
}

func userAccount(login, authorityName string) string {
	return fmt.Sprintf("acct:%s@%s", login, authorityName)
}

func groupPrincipal(name string) string {
	return "group:" + name
}

func (c permContext) userPermission() []string {
	return []string{userAccount(c.creator.Login, c.creator.Authority)}
}

func (c permContext) groupPermission() []string {
	return []string{groupPrincipal(c.group.Name)}
}

func (c permContext) everybodyPermission() []string {
	return []string{groupPrincipal(c.cfg.defaultGroupName)}
}

// noPermission is a deliberately unmatchable principal list.
func noPermission() []string {
	return []string{""}
}

func (c permContext) ownedByActingUser() bool {
	return c.annot.UserID == c.user.User.ID
}

func (c permContext) sent() bool {
	return c.meta.IsResponseSent()
}

// isResponseFromUsersEntity reports whether the acting user's connected
// entity authored the response the metadata belongs to. Both sides must be
// non-empty.
func isResponseFromUsersEntity(user UserInformation, responseID string) bool {
	return user.ConnectedEntity != "" && responseID != "" && user.ConnectedEntity == responseID
}

// contributorOwnDraft is the Contributor rule shared by the delete and
// update axes: only the author of a still-private, non-deleted draft.
func contributorOwnDraft(c permContext) []string {
	if c.annot.Status == store.AnnotationStatusDeleted {
		return noPermission()
	}
	if !c.annot.Shared && c.ownedByActingUser() {
		return c.userPermission()
	}
	return noPermission()
}

// iscSentGate is the ISC rule shared by delete and update: once SENT, only
// users from the responding entity may touch the annotation.
func iscSentGate(c permContext) []string {
	if c.sent() {
		if c.annot.Status == store.AnnotationStatusDeleted {
			return noPermission()
		}
		if isResponseFromUsersEntity(c.user, c.meta.Props()[metadata.KeyResponseID]) {
			return c.userPermission()
		}
		return noPermission()
	}
	return c.userPermission()
}

// permissionPolicy maps (role, axis) to a rule. Keeping the matrix in one
// table stops the axes drifting apart.
var permissionPolicy = map[authority.Role]map[permAxis]func(permContext) []string{
	authority.RoleContributor: {
		axisAdmin: func(c permContext) []string {
			if !c.annot.Shared && c.ownedByActingUser() {
				return c.userPermission()
			}
			return noPermission()
		},
		axisDelete: contributorOwnDraft,
		axisUpdate: contributorOwnDraft,
	},
	authority.RoleEdiT: {
		axisAdmin: func(c permContext) []string {
			if c.sent() {
				return noPermission()
			}
			return c.userPermission()
		},
		axisDelete: func(c permContext) []string {
			if c.sent() {
				return c.everybodyPermission()
			}
			return c.userPermission()
		},
		axisUpdate: func(c permContext) []string {
			if c.sent() {
				return noPermission()
			}
			return c.userPermission()
		},
	},
	authority.RoleISC: {
		axisAdmin: func(c permContext) []string {
			if c.sent() {
				return noPermission()
			}
			return c.userPermission()
		},
		axisDelete: iscSentGate,
		axisUpdate: iscSentGate,
	},
}

// ComputePermissions derives the four permission lists for one annotation
// as seen by the acting user. The read axis is role-independent: shared
// annotations are readable by the group, private ones by their creator.
func (s *Service) ComputePermissions(annot *store.Annotation, meta *store.Metadata, group *store.Group, creator store.User, user UserInformation) PermissionSet {
	c := permContext{
		annot:   annot,
		meta:    meta,
		group:   group,
		creator: creator,
		user:    user,
		cfg:     permConfig{defaultGroupName: s.cfg.DefaultGroupName},
	}

	rules, ok := permissionPolicy[user.Role]
	if !ok {
		rules = permissionPolicy[authority.RoleEdiT]
	}

	set := PermissionSet{
		Admin:  rules[axisAdmin](c),
		Delete: rules[axisDelete](c),
		Update: rules[axisUpdate](c),
	}
	if annot.Shared {
		set.Read = c.groupPermission()
	} else {
		set.Read = c.userPermission()
	}
	return set
}

// principalAllows reports whether the acting user matches any principal in
// the list. The empty-string sentinel matches no one.
func (s *Service) principalAllows(ctx context.Context, principals []string, group *store.Group, user UserInformation) (bool, error) {
	for _, principal := range principals {
		if principal == "" {
			continue
		}
		if principal == userAccount(user.Login, user.Authority) {
			return true, nil
		}
		name, ok := strings.CutPrefix(principal, "group:")
		if !ok {
			continue
		}
		if name == s.cfg.DefaultGroupName {
			return true, nil
		}
		if group != nil && name == group.Name {
			member, err := s.store.IsGroupMember(ctx, user.User.ID, group.ID)
			if err != nil {
				return false, err
			}
			if member {
				return true, nil
			}
		}
	}
	return false, nil
}

// HasUserPermissionToSeeAnnotation reports whether the user may read the
// annotation: its creator always may; anyone else needs the annotation
// shared and membership in its group. Fails closed on missing inputs.
func (s *Service) HasUserPermissionToSeeAnnotation(ctx context.Context, annot *store.Annotation, user *store.User) (bool, error) {
	if annot == nil || user == nil {
		return false, nil
	}
	if annot.UserID == user.ID {
		return true, nil
	}
	if !annot.Shared {
		return false, nil
	}
	meta, err := s.store.GetMetadata(ctx, annot.MetadataID)
	if err != nil {
		return false, err
	}
	return s.store.IsGroupMember(ctx, user.ID, meta.GroupID)
}

// HasUserPermissionToUpdateAnnotation applies the workflow-specific edit
// rule. EdiT users may only edit their own annotations before the response
// is finalized; ISC users may edit their own drafts, and once SENT any
// member of the annotation's group may trigger the draft-superseding edit.
func (s *Service) HasUserPermissionToUpdateAnnotation(ctx context.Context, annot *store.Annotation, meta *store.Metadata, user UserInformation) (bool, error) {
	if annot == nil || meta == nil {
		return false, nil
	}
	owned := annot.UserID == user.User.ID
	if s.kindOf(user.Authority) == authority.KindEdiT {
		return !meta.IsResponseSent() && owned, nil
	}
	if meta.IsResponseSent() {
		return s.store.IsGroupMember(ctx, user.User.ID, meta.GroupID)
	}
	return owned, nil
}

// CanAnnotationBeUpdated is the coarse role-independent precheck: nothing
// on a finalized response may be edited in place.
func CanAnnotationBeUpdated(annot *store.Annotation, meta *store.Metadata) bool {
	if annot == nil {
		return false
	}
	return !meta.IsResponseSent()
}

// CanAcceptOrRejectSuggestion allows any member of the annotation's group,
// regardless of role. Fails closed when the user is unknown.
func (s *Service) CanAcceptOrRejectSuggestion(ctx context.Context, annot *store.Annotation, user *store.User) (bool, error) {
	if annot == nil || user == nil {
		return false, nil
	}
	meta, err := s.store.GetMetadata(ctx, annot.MetadataID)
	if err != nil {
		return false, err
	}
	return s.store.IsGroupMember(ctx, user.ID, meta.GroupID)
}
