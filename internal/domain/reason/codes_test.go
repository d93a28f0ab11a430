package reason

import (
	"strings"
	"testing"
)

func TestAll_ClosedSet(t *testing.T) {
	t.Parallel()

	codes := All()
	if len(codes) != 30 {
		t.Errorf("All() has %d codes, want 30", len(codes))
	}

	seen := make(map[Code]bool, len(codes))
	for _, c := range codes {
		if seen[c] {
			t.Errorf("duplicate code %s", c)
		}
		seen[c] = true
	}
}

func TestCodes_StableFormat(t *testing.T) {
	t.Parallel()

	for _, c := range All() {
		s := c.String()
		if s == "" {
			t.Error("empty code")
			continue
		}
		if s != strings.ToUpper(s) {
			t.Errorf("code %q is not upper case", s)
		}
		for _, r := range s {
			if (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '_' {
				t.Errorf("code %q contains %q", s, r)
			}
		}
	}
}

func TestValid(t *testing.T) {
	t.Parallel()

	for _, c := range []Code{CIFQuarantined, ConsentStopActive, UnfetchedChunks} {
		if !Valid(c) {
			t.Errorf("Valid(%s) = false, want true", c)
		}
	}
	for _, c := range []Code{"", "NOT_A_CODE", "cif_quarantined"} {
		if Valid(c) {
			t.Errorf("Valid(%q) = true, want false", c)
		}
	}
}
