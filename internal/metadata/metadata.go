// Package metadata holds the value types shared by the matching and
// response-workflow engines: the simple key-value property bag, the
// response-status enum, and the key:value blob codec used to persist
// free-form metadata properties.
package metadata

import (
	"sort"
	"strings"
)

// Well-known property keys. systemId, version, and responseStatus live in
// dedicated metadata columns; the remaining keys travel in the blob.
const (
	KeySystemID        = "systemId"
	KeyVersion         = "version"
	KeyResponseStatus  = "responseStatus"
	KeyResponseVersion = "responseVersion"
	KeyISCReference    = "ISCReference"
	KeyResponseID      = "responseId"
	KeyOriginMode      = "originMode"
)

// OriginModePrivate marks metadata whose annotations were published from a
// contributor's private drafts.
const OriginModePrivate = "private"

// VersionUpToPrefix marks a version filter as "at most this version".
const VersionUpToPrefix = "<="

// Simple is a string-to-string property bag. Keys are case-sensitive and a
// key is never mapped to an empty presence marker: absence means the key is
// not there.
type Simple map[string]string

// Clone returns an independent copy. Mutating the copy never affects the
// original, which the matching engine relies on when it removes keys during
// multi-step containment checks.
func (m Simple) Clone() Simple {
	if m == nil {
		return nil
	}
	out := make(Simple, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ResponseStatus is the workflow stage of a metadata set.
type ResponseStatus int

const (
	ResponseStatusUnset ResponseStatus = iota
	ResponseStatusInPreparation
	ResponseStatusSent
)

func (s ResponseStatus) String() string {
	switch s {
	case ResponseStatusInPreparation:
		return "IN_PREPARATION"
	case ResponseStatusSent:
		return "SENT"
	default:
		return ""
	}
}

// ParseResponseStatus maps the string form back to the enum. Anything
// unrecognised is treated as unset.
func ParseResponseStatus(s string) ResponseStatus {
	switch s {
	case "IN_PREPARATION":
		return ResponseStatusInPreparation
	case "SENT":
		return ResponseStatusSent
	default:
		return ResponseStatusUnset
	}
}

// ParseProps decodes the newline-separated key:value blob. Each line is
// split on the FIRST colon only, so values may themselves contain colons.
// Lines without a colon and empty lines are skipped.
func ParseProps(blob string) Simple {
	props := make(Simple)
	for _, line := range strings.Split(blob, "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 || parts[0] == "" {
			continue
		}
		props[parts[0]] = parts[1]
	}
	return props
}

// FormatProps encodes the bag as newline-separated key:value lines. Keys are
// emitted in sorted order so the serialized form is deterministic.
func FormatProps(props Simple) string {
	if len(props) == 0 {
		return ""
	}
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(":")
		b.WriteString(props[k])
		b.WriteString("\n")
	}
	return b.String()
}
