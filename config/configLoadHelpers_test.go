package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_formatFromExt(t *testing.T) {
	tests := map[string]Format{
		"a":         FormatUnknown,
		"a.yaml":    FormatYAML,
		"a.YML":     FormatYAML,
		"a.toml":    FormatTOML,
		"a.json":    FormatJSON,
		"a.txt":     FormatUnknown,
		"a.":        FormatUnknown,
		"dir.toml/": FormatUnknown,
	}
	for path, want := range tests {
		assert.Equal(t, want, formatFromExt(path), path)
	}
}

func Test_formatFromContentType(t *testing.T) {
	tests := map[string]Format{
		"application/json":                FormatJSON,
		"application/json; charset=utf-8": FormatJSON,
		"application/x-toml":              FormatTOML,
		"text/toml":                       FormatTOML,
		"text/x-yaml":                     FormatYAML,
		"text/plain":                      FormatUnknown,
		"":                                FormatUnknown,
	}
	for ct, want := range tests {
		assert.Equal(t, want, formatFromContentType(ct), ct)
	}
}

func Test_openLocationBadInput(t *testing.T) {
	for _, u := range []string{"", "ftp://example.com/beacon.yaml", "/does/not/exist.yaml"} {
		_, _, err := openLocation(u)
		assert.Error(t, err, u)
	}
}
