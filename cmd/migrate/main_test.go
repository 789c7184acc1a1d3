package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseFilename(t *testing.T) {
	tests := []struct {
		filename string
		valid    bool
		version  int
		name     string
	}{
		{"0001_create_import_tables.sql", true, 1, "create_import_tables"},
		{"0012_add_text_uri.sql", true, 12, "add_text_uri"},
		{"001_short_version.sql", false, 0, ""},
		{"0001_missing_extension", false, 0, ""},
		{"0001.sql", false, 0, ""},
		{"notes.txt", false, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, ok := parseFilename(tt.filename)
			assert.Equal(t, tt.valid, ok)
			if tt.valid {
				assert.Equal(t, tt.version, version)
				assert.Equal(t, tt.name, name)
			}
		})
	}
}
