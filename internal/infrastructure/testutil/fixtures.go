// Package testutil provides test fixtures and helpers for testing.
package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/jbctechsolutions/datasync/internal/domain/operation"
	"github.com/jbctechsolutions/datasync/internal/domain/query"
)

// NewTestOperation creates a pending operation or fails the test.
func NewTestOperation(t *testing.T, entityType, itemID string, kind operation.Kind, item string) *operation.Operation {
	t.Helper()
	var data []byte
	if item != "" {
		data = []byte(item)
	}
	op, err := operation.New(entityType, itemID, kind, data, "")
	if err != nil {
		t.Fatalf("operation.New(%s, %s, %s) error = %v", entityType, itemID, kind, err)
	}
	return op
}

// MovieDoc renders a movie row with the default system properties.
func MovieDoc(id, version string, updatedAt time.Time, title string) string {
	return fmt.Sprintf(`{"id":%q,"version":%q,"updatedAt":%q,"deleted":false,"title":%q}`,
		id, version, query.FormatTime(updatedAt), title)
}

// DeletedMovieDoc renders a soft-deleted movie row.
func DeletedMovieDoc(id, version string, updatedAt time.Time) string {
	return fmt.Sprintf(`{"id":%q,"version":%q,"updatedAt":%q,"deleted":true}`,
		id, version, query.FormatTime(updatedAt))
}

// Page renders a pull page envelope around rows.
func Page(nextLink string, rows ...string) string {
	body := `{"items":[`
	for i, r := range rows {
		if i > 0 {
			body += ","
		}
		body += r
	}
	body += "]"
	if nextLink != "" {
		body += fmt.Sprintf(`,"nextLink":%q`, nextLink)
	}
	return body + "}"
}
