// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"strings"
	"testing"
)

func TestHashContentDeterministic(t *testing.T) {
	first := HashContent([]byte("build output"))
	second := HashContent([]byte("build output"))
	if first != second {
		t.Fatal("HashContent is not deterministic")
	}
	if first == HashContent([]byte("build output!")) {
		t.Fatal("different inputs produced the same hash")
	}
	if first.IsZero() {
		t.Fatal("hash is zero")
	}
}

func TestParseHashRoundTrip(t *testing.T) {
	hash := HashContent([]byte("x"))
	parsed, err := ParseHash(hash.String())
	if err != nil {
		t.Fatalf("ParseHash: %v", err)
	}
	if parsed != hash {
		t.Errorf("ParseHash(%s) = %s", hash, parsed)
	}
	if len(hash.Short()) != 12 || !strings.HasPrefix(hash.String(), hash.Short()) {
		t.Errorf("Short() = %q", hash.Short())
	}
}

func TestParseHashRejectsMalformed(t *testing.T) {
	for _, input := range []string{"", "abc", strings.Repeat("z", 64)} {
		if _, err := ParseHash(input); err == nil {
			t.Errorf("ParseHash(%q) should fail", input)
		}
	}
}
