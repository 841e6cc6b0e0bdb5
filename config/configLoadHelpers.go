package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/creasty/defaults"
	jsoniter "github.com/json-iterator/go"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

type Format string

const (
	FormatUnknown Format = "unknown"
	FormatYAML    Format = "yaml"
	FormatJSON    Format = "json"
	FormatTOML    Format = "toml"
)

var formatsByExt = map[string]Format{
	".yaml": FormatYAML,
	".yml":  FormatYAML,
	".toml": FormatTOML,
	".json": FormatJSON,
}

var formatsByMediaType = map[string]Format{
	"application/json":   FormatJSON,
	"text/json":          FormatJSON,
	"application/toml":   FormatTOML,
	"application/x-toml": FormatTOML,
	"text/toml":          FormatTOML,
	"text/x-toml":        FormatTOML,
	"application/yaml":   FormatYAML,
	"application/x-yaml": FormatYAML,
	"text/yaml":          FormatYAML,
	"text/x-yaml":        FormatYAML,
}

func formatFromExt(path string) Format {
	if f, ok := formatsByExt[strings.ToLower(filepath.Ext(path))]; ok {
		return f
	}
	return FormatUnknown
}

// formatFromContentType ignores parameters such as charset.
func formatFromContentType(contentType string) Format {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return FormatUnknown
	}
	if f, ok := formatsByMediaType[mt]; ok {
		return f
	}
	return FormatUnknown
}

func (f Format) decode(r io.Reader, into any) error {
	switch f {
	case FormatYAML:
		return yaml.NewDecoder(r).Decode(into)
	case FormatTOML:
		return toml.NewDecoder(r).Decode(into)
	case FormatJSON:
		return jsoniter.ConfigCompatibleWithStandardLibrary.NewDecoder(r).Decode(into)
	default:
		return fmt.Errorf("unable to determine data format")
	}
}

var configClient = &http.Client{Timeout: 10 * time.Second}

// openLocation opens a config file path or file/http(s) URL.
func openLocation(location string) (io.ReadCloser, Format, error) {
	if location == "" {
		return nil, FormatUnknown, fmt.Errorf("empty config location")
	}
	u, err := url.Parse(location)
	if err != nil {
		return nil, FormatUnknown, err
	}

	switch u.Scheme {
	case "", "file":
		f, err := os.Open(u.Path)
		if err != nil {
			return nil, FormatUnknown, err
		}
		return f, formatFromExt(u.Path), nil

	case "http", "https":
		resp, err := configClient.Get(location)
		if err != nil {
			return nil, FormatUnknown, err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, FormatUnknown, fmt.Errorf("fetching %s: %s", location, resp.Status)
		}
		format := formatFromContentType(resp.Header.Get("Content-Type"))
		if format == FormatUnknown {
			format = formatFromExt(u.Path)
		}
		return resp.Body, format, nil

	default:
		return nil, FormatUnknown, fmt.Errorf("unsupported config scheme %q", u.Scheme)
	}
}

// readConfigInto decodes every location into dest in order, so later ones
// override earlier ones, then fills defaults and applies command line and
// environment overrides. It returns a hash of everything that was read.
func readConfigInto(dest any, locations []string, opts *CmdEnv) (string, error) {
	h := sha256.New()
	for _, location := range locations {
		location = strings.TrimSpace(location)
		r, format, err := openLocation(location)
		if err != nil {
			return "", err
		}
		err = format.decode(io.TeeReader(r, h), dest)
		r.Close()
		if err != nil {
			return "", fmt.Errorf("loading config %s: %w", location, err)
		}
	}
	hash := hex.EncodeToString(h.Sum(nil))

	if err := defaults.Set(dest); err != nil {
		return hash, fmt.Errorf("applying config defaults: %w", err)
	}
	if opts != nil {
		if err := opts.ApplyTags(reflect.ValueOf(dest)); err != nil {
			return hash, fmt.Errorf("applying command line options: %w", err)
		}
	}
	return hash, nil
}
