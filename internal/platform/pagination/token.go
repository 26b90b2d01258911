package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPageToken signals a page token that cannot be decoded.
var ErrInvalidPageToken = errors.New("pagination: invalid page token")

// EncodeToken serialises a repository cursor as an opaque URL-safe token.
func EncodeToken(cursor any) (string, error) {
	data, err := json.Marshal(cursor)
	if err != nil {
		return "", fmt.Errorf("pagination: encode token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeToken parses a token produced by EncodeToken into the supplied cursor.
func DecodeToken(encoded string, cursor any) error {
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	if err := json.Unmarshal(data, cursor); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	return nil
}
