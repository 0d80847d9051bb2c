// Package entity describes how the engine reads and writes the system
// properties (id, version, updatedAt, deleted) of a synchronized entity.
//
// Entities travel through the engine as JSON documents. Each entity type
// registers one Descriptor, resolved once at registration, instead of the
// engine discovering properties per call.
package entity

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/jbctechsolutions/datasync/internal/domain/errors"
)

// Descriptor is the capability set the engine needs from an entity type.
type Descriptor interface {
	ID(doc []byte) (string, error)
	SetID(doc []byte, id string) ([]byte, error)
	Version(doc []byte) string
	SetVersion(doc []byte, version string) ([]byte, error)
	UpdatedAt(doc []byte) (time.Time, bool)
	SetUpdatedAt(doc []byte, t time.Time) ([]byte, error)
	Deleted(doc []byte) bool

	// SupportsIncremental reports whether the type carries an updatedAt
	// field that pulls can filter and order on.
	SupportsIncremental() bool
	// UpdatedAtField is the wire name used in pull filters.
	UpdatedAtField() string
	// IDField is the wire name used as the pull tiebreak.
	IDField() string

	// IfMatch renders an entity version as a conditional request header value.
	IfMatch(version string) string
	// VersionFromETag converts an ETag response header back into an entity version.
	VersionFromETag(etag string) string
}

// VersionEncoding is how an entity version is carried in If-Match/ETag.
type VersionEncoding string

const (
	VersionString VersionEncoding = "string" // version is an opaque string
	VersionBase64 VersionEncoding = "base64" // version is a byte array, base64 on the wire
)

// Fields is a Descriptor driven by JSON field names.
type Fields struct {
	IDName        string
	VersionName   string
	UpdatedAtName string // empty disables incremental pull
	DeletedName   string // empty disables soft-delete handling
	Encoding      VersionEncoding
}

// DefaultFields returns the field names used by the standard table controller.
func DefaultFields() *Fields {
	return &Fields{
		IDName:        "id",
		VersionName:   "version",
		UpdatedAtName: "updatedAt",
		DeletedName:   "deleted",
		Encoding:      VersionString,
	}
}

// Validate checks that the descriptor names at least an id and version field.
func (f *Fields) Validate() error {
	if f.IDName == "" {
		return errors.NewError(errors.CodeConfiguration, "id field is required", errors.ErrMissingEntityID)
	}
	if f.VersionName == "" {
		return errors.NewError(errors.CodeConfiguration, "version field is required", nil)
	}
	switch f.Encoding {
	case "", VersionString, VersionBase64:
	default:
		return errors.NewError(errors.CodeConfiguration, fmt.Sprintf("unknown version encoding %q", f.Encoding), nil)
	}
	return nil
}

// ID returns the entity id, or ErrMissingEntityID when it is absent or empty.
func (f *Fields) ID(doc []byte) (string, error) {
	if !gjson.ValidBytes(doc) {
		return "", errors.NewError(errors.CodeSerialization, "entity is not valid JSON", nil)
	}
	v := gjson.GetBytes(doc, escapePath(f.IDName))
	if !v.Exists() || v.String() == "" {
		return "", errors.NewError(errors.CodeValidation, fmt.Sprintf("entity has no %q", f.IDName), errors.ErrMissingEntityID)
	}
	return v.String(), nil
}

// SetID writes the id field.
func (f *Fields) SetID(doc []byte, id string) ([]byte, error) {
	return setField(doc, f.IDName, id)
}

// Version returns the version field as a string, empty when absent.
func (f *Fields) Version(doc []byte) string {
	return gjson.GetBytes(doc, escapePath(f.VersionName)).String()
}

// SetVersion writes the version field.
func (f *Fields) SetVersion(doc []byte, version string) ([]byte, error) {
	return setField(doc, f.VersionName, version)
}

// UpdatedAt reads the updatedAt field. Strings are parsed as RFC 3339 and
// numbers as Unix milliseconds.
func (f *Fields) UpdatedAt(doc []byte) (time.Time, bool) {
	if f.UpdatedAtName == "" {
		return time.Time{}, false
	}
	v := gjson.GetBytes(doc, escapePath(f.UpdatedAtName))
	switch v.Type {
	case gjson.String:
		t, err := time.Parse(time.RFC3339Nano, v.String())
		if err != nil {
			return time.Time{}, false
		}
		return t.UTC(), true
	case gjson.Number:
		return time.UnixMilli(v.Int()).UTC(), true
	default:
		return time.Time{}, false
	}
}

// SetUpdatedAt writes the updatedAt field in RFC 3339 form.
func (f *Fields) SetUpdatedAt(doc []byte, t time.Time) ([]byte, error) {
	if f.UpdatedAtName == "" {
		return doc, nil
	}
	return setField(doc, f.UpdatedAtName, t.UTC().Format(time.RFC3339Nano))
}

// Deleted reports whether the document is a soft-deleted row.
func (f *Fields) Deleted(doc []byte) bool {
	if f.DeletedName == "" {
		return false
	}
	return gjson.GetBytes(doc, escapePath(f.DeletedName)).Bool()
}

// SupportsIncremental reports whether an updatedAt field is configured.
func (f *Fields) SupportsIncremental() bool { return f.UpdatedAtName != "" }

// UpdatedAtField returns the updatedAt field name.
func (f *Fields) UpdatedAtField() string { return f.UpdatedAtName }

// IDField returns the id field name.
func (f *Fields) IDField() string { return f.IDName }

// IfMatch quotes the version. Byte-array versions are sent base64 encoded.
func (f *Fields) IfMatch(version string) string {
	if version == "" {
		return ""
	}
	if f.Encoding == VersionBase64 {
		if _, err := base64.StdEncoding.DecodeString(version); err != nil {
			version = base64.StdEncoding.EncodeToString([]byte(version))
		}
	}
	return `"` + version + `"`
}

// VersionFromETag strips the weak prefix and quotes from an ETag.
func (f *Fields) VersionFromETag(etag string) string {
	etag = strings.TrimSpace(etag)
	etag = strings.TrimPrefix(etag, "W/")
	return strings.Trim(etag, `"`)
}

// escapePath keeps dots in field names from being read as gjson/sjson paths.
func escapePath(name string) string {
	return strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`).Replace(name)
}

// setField writes one top-level field in place. The rest of the document
// keeps its bytes and key order.
func setField(doc []byte, name string, value string) ([]byte, error) {
	if len(bytes.TrimSpace(doc)) == 0 {
		doc = []byte("{}")
	}
	if !gjson.ValidBytes(doc) || !gjson.ParseBytes(doc).IsObject() {
		return nil, errors.NewError(errors.CodeSerialization, "entity is not a JSON object", nil)
	}
	out, err := sjson.SetBytes(doc, escapePath(name), value)
	if err != nil {
		return nil, errors.NewError(errors.CodeSerialization, fmt.Sprintf("could not write %q", name), err)
	}
	return out, nil
}
