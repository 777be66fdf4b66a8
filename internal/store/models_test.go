package store

import (
	"testing"

	"margin/api/internal/metadata"
)

func TestMetadataPropsStripDedicatedColumns(t *testing.T) {
	var m Metadata
	m.SetProps(metadata.Simple{
		"systemId":       "ISC",
		"version":        "2.0",
		"responseStatus": "IN_PREPARATION",
		"ISCReference":   "ISC/2024/539",
	})

	if m.SystemID != "ISC" || m.Version != "2.0" || m.ResponseStatus != metadata.ResponseStatusInPreparation {
		t.Fatalf("dedicated columns not lifted: %+v", m)
	}

	props := m.Props()
	if _, ok := props["systemId"]; ok {
		t.Error("systemId must not remain in the blob")
	}
	if _, ok := props["version"]; ok {
		t.Error("version must not remain in the blob")
	}
	if _, ok := props["responseStatus"]; ok {
		t.Error("responseStatus must not remain in the blob")
	}
	if props["ISCReference"] != "ISC/2024/539" {
		t.Errorf("blob property lost: %v", props)
	}
}

func TestMetadataAllPropsAddsColumnsBack(t *testing.T) {
	m := Metadata{
		SystemID:       "ISC",
		Version:        "1.0",
		ResponseStatus: metadata.ResponseStatusSent,
		KeyValuePairs:  "responseId:AGRI\n",
	}

	all := m.AllProps()
	if all["systemId"] != "ISC" || all["version"] != "1.0" || all["responseStatus"] != "SENT" || all["responseId"] != "AGRI" {
		t.Fatalf("AllProps missing fields: %v", all)
	}

	// Unset fields stay absent rather than appearing as empty strings.
	empty := Metadata{SystemID: "LEOS"}
	all = empty.AllProps()
	if _, ok := all["version"]; ok {
		t.Error("empty version must be omitted")
	}
	if _, ok := all["responseStatus"]; ok {
		t.Error("unset responseStatus must be omitted")
	}
}

func TestAnnotationRootAndReply(t *testing.T) {
	root := Annotation{ID: "a1"}
	if root.IsReply() || root.RootAnnotationID() != "" {
		t.Fatal("annotation without references must be a root")
	}

	reply := Annotation{ID: "a3", References: "a1,a2"}
	if !reply.IsReply() {
		t.Fatal("annotation with references must be a reply")
	}
	if got := reply.RootAnnotationID(); got != "a1" {
		t.Fatalf("root id = %q, want a1", got)
	}

	direct := Annotation{ID: "a2", References: "a1"}
	if got := direct.RootAnnotationID(); got != "a1" {
		t.Fatalf("root id = %q, want a1", got)
	}
}
