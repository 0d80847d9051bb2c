// Package query builds the OData query strings sent by pull requests and
// derives the query ids that scope delta tokens.
package query

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jbctechsolutions/datasync/internal/domain/errors"
)

// IncludeDeletedParam asks the service to return soft-deleted rows.
const IncludeDeletedParam = "__includedeleted"

// Description is a server-side query: filter, ordering, paging and projection.
// Filter and OrderBy are OData expressions and are passed through verbatim.
type Description struct {
	Filter  string
	OrderBy []string
	Select  []string
	Top     int
	Skip    int
}

// IsEmpty reports whether the description narrows nothing.
func (d Description) IsEmpty() bool {
	return d.Filter == "" && len(d.OrderBy) == 0 && len(d.Select) == 0 && d.Top == 0 && d.Skip == 0
}

// Values renders the description as OData query parameters.
func (d Description) Values() url.Values {
	v := url.Values{}
	if d.Filter != "" {
		v.Set("$filter", d.Filter)
	}
	if len(d.OrderBy) > 0 {
		v.Set("$orderby", strings.Join(d.OrderBy, ","))
	}
	if len(d.Select) > 0 {
		v.Set("$select", strings.Join(d.Select, ","))
	}
	if d.Top > 0 {
		v.Set("$top", strconv.Itoa(d.Top))
	}
	if d.Skip > 0 {
		v.Set("$skip", strconv.Itoa(d.Skip))
	}
	return v
}

// String returns the encoded query string. Parameters are sorted by key so
// the same description always produces the same string.
func (d Description) String() string {
	return d.Values().Encode()
}

// Incremental returns the description a pull sends to the service. When
// updatedAtField is set the filter is narrowed to rows changed after since
// and rows are ordered by updatedAt then id; otherwise the full set is
// requested ordered by id. Deleted rows are always included.
func Incremental(base Description, updatedAtField, idField string, since time.Time) url.Values {
	d := base
	d.Skip = 0
	if updatedAtField != "" {
		clause := fmt.Sprintf("(%s gt cast(%s,Edm.DateTimeOffset))", updatedAtField, FormatTime(since))
		if base.Filter != "" {
			d.Filter = "(" + base.Filter + ") and " + clause
		} else {
			d.Filter = clause
		}
		d.OrderBy = []string{updatedAtField, idField}
	} else {
		d.OrderBy = []string{idField}
	}
	v := d.Values()
	v.Set(IncludeDeletedParam, "true")
	return v
}

// FormatTime renders a watermark in the form used inside filters.
func FormatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

var queryIDPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_.|:-]{0,254}$`)

// ValidateID checks an explicit query id.
func ValidateID(id string) error {
	if !queryIDPattern.MatchString(id) {
		return errors.NewError(errors.CodeValidation, fmt.Sprintf("query id %q", id), errors.ErrInvalidQueryID)
	}
	return nil
}

// DeriveID builds the default query id for an entity type and query, so two
// pulls of the same query share one delta token.
func DeriveID(entityType string, d Description) string {
	sum := sha256.Sum256([]byte(d.String()))
	id := "q-" + sanitize(entityType) + "-" + hex.EncodeToString(sum[:])
	if len(id) > 255 {
		id = id[:255]
	}
	return id
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// DeltaToken is the watermark of one pull scope.
type DeltaToken struct {
	QueryID string
	Value   time.Time
}

// Epoch is the watermark of a scope that has never been pulled.
var Epoch = time.UnixMilli(0).UTC()

// ToMillis converts a watermark to its stored form.
func ToMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromMillis converts a stored watermark back to a time.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
