package metadata

import "testing"

func TestPropsRoundTrip(t *testing.T) {
	props := Simple{
		"ISCReference": "ISC/2024/539",
		"responseId":   "AGRI",
		"originMode":   "private",
	}

	blob := FormatProps(props)
	parsed := ParseProps(blob)

	if len(parsed) != len(props) {
		t.Fatalf("expected %d keys after round trip, got %d", len(props), len(parsed))
	}
	for k, v := range props {
		if parsed[k] != v {
			t.Errorf("key %q: expected %q, got %q", k, v, parsed[k])
		}
	}
}

func TestPropsValueContainingColon(t *testing.T) {
	props := Simple{"href": "https://example.org/doc:42"}

	parsed := ParseProps(FormatProps(props))
	if parsed["href"] != "https://example.org/doc:42" {
		t.Fatalf("value with colon not preserved: %q", parsed["href"])
	}
}

func TestFormatPropsDeterministic(t *testing.T) {
	props := Simple{"b": "2", "a": "1", "c": "3"}

	first := FormatProps(props)
	for i := 0; i < 10; i++ {
		if got := FormatProps(props); got != first {
			t.Fatalf("serialization not deterministic: %q vs %q", first, got)
		}
	}
	if first != "a:1\nb:2\nc:3\n" {
		t.Fatalf("unexpected serialized form: %q", first)
	}
}

func TestParsePropsSkipsMalformedLines(t *testing.T) {
	parsed := ParseProps("a:1\n\nnocolon\n:emptykey\nb:2\n")
	if len(parsed) != 2 || parsed["a"] != "1" || parsed["b"] != "2" {
		t.Fatalf("unexpected parse result: %v", parsed)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	original := Simple{"a": "1"}
	copied := original.Clone()
	copied["a"] = "changed"
	delete(copied, "a")
	copied["b"] = "2"

	if original["a"] != "1" || len(original) != 1 {
		t.Fatalf("mutating the clone affected the original: %v", original)
	}
}

func TestParseResponseStatus(t *testing.T) {
	cases := []struct {
		in   string
		want ResponseStatus
	}{
		{in: "IN_PREPARATION", want: ResponseStatusInPreparation},
		{in: "SENT", want: ResponseStatusSent},
		{in: "", want: ResponseStatusUnset},
		{in: "bogus", want: ResponseStatusUnset},
	}
	for _, tc := range cases {
		if got := ParseResponseStatus(tc.in); got != tc.want {
			t.Errorf("ParseResponseStatus(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
	if ResponseStatusSent.String() != "SENT" || ResponseStatusInPreparation.String() != "IN_PREPARATION" || ResponseStatusUnset.String() != "" {
		t.Fatal("String forms do not round trip")
	}
}
