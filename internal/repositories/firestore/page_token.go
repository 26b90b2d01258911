package firestore

import (
	"time"

	"github.com/quimera-ai/commerce-api/internal/platform/pagination"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

func normalisePageSize(size int) int {
	return pagination.ClampPageSize(size, defaultPageSize, maxPageSize)
}

// listPageToken resumes createdAt-ordered queries at the last seen document.
type listPageToken struct {
	ID        string
	CreatedAt time.Time
}

func encodeListPageToken(token listPageToken) (string, error) {
	return pagination.EncodeToken(token)
}

func decodeListPageToken(encoded string) (*listPageToken, error) {
	var token listPageToken
	if err := pagination.DecodeToken(encoded, &token); err != nil {
		return nil, err
	}
	return &token, nil
}
