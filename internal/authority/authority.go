package authority

// Kind classifies the originating subsystem of a metadata set or user.
type Kind string

// Role is the acting user's role for permission dispatch. A Contributor is a
// restricted sub-role of ISC-authority users authoring unshared drafts, so
// the role comes from the request context, never from the raw authority
// string alone.
type Role string

const (
	KindEdiT    Kind = "EdiT"
	KindISC     Kind = "ISC"
	KindUnknown Kind = "unknown"
)

const (
	RoleContributor Role = "CONTRIBUTOR"
	RoleEdiT        Role = "EDIT"
	RoleISC         Role = "ISC"
)

// Classify maps an authority string to its kind. editName and iscName are
// the configured authority identifiers (e.g. "LEOS" and "ISC").
func Classify(systemID, editName, iscName string) Kind {
	switch systemID {
	case "":
		return KindUnknown
	case editName:
		return KindEdiT
	case iscName:
		return KindISC
	default:
		return KindUnknown
	}
}

// NormalizeRole maps a role string to a Role, defaulting to the ISC role
// for anything unrecognised from an ISC context and EdiT otherwise.
func NormalizeRole(role string, kind Kind) Role {
	switch Role(role) {
	case RoleContributor, RoleEdiT, RoleISC:
		return Role(role)
	}
	if kind == KindISC {
		return RoleISC
	}
	return RoleEdiT
}
