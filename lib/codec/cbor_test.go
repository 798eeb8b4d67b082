// Copyright 2026 The Hangar Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"errors"
	"io/fs"
	"path/filepath"
	"testing"
)

type scopeRecord struct {
	Token    string            `cbor:"token"`
	Platform string            `cbor:"platform"`
	Labels   map[string]string `cbor:"labels,omitempty"`
}

func TestMarshalIsDeterministic(t *testing.T) {
	t.Parallel()

	record := scopeRecord{
		Token:    "7d0c",
		Platform: "linux",
		Labels:   map[string]string{"z": "1", "a": "2", "m": "3"},
	}
	first, err := Marshal(record)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for range 20 {
		again, err := Marshal(record)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatal("Marshal produced different bytes for the same value")
		}
	}
}

func TestWriteFileReadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state", "scope.cbor")
	original := scopeRecord{Token: "abc", Platform: "macos"}
	if err := WriteFile(path, original); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	var decoded scopeRecord
	if err := ReadFile(path, &decoded); err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if decoded.Token != original.Token || decoded.Platform != original.Platform {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestReadFileMissing(t *testing.T) {
	t.Parallel()

	var decoded scopeRecord
	err := ReadFile(filepath.Join(t.TempDir(), "absent.cbor"), &decoded)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("ReadFile error = %v, want fs.ErrNotExist", err)
	}
}

func TestUnmarshalAnyProducesStringKeyedMaps(t *testing.T) {
	t.Parallel()

	data, err := Marshal(map[string]any{"outer": map[string]any{"inner": "value"}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	outer, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded type = %T, want map[string]any", decoded)
	}
	if _, ok := outer["outer"].(map[string]any); !ok {
		t.Errorf("nested type = %T, want map[string]any", outer["outer"])
	}
}
