package catalog

import (
	"encoding/base64"
	"strconv"
	"strings"

	domainerrors "github.com/bookshelfapp/bookshelf-server/internal/errors"
)

const cursorPrefix = "offset:"

// EncodeCursor creates an opaque cursor for a shelf offset.
// Offset 0 is the beginning and encodes to "".
func EncodeCursor(offset int) string {
	if offset <= 0 {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString([]byte(cursorPrefix + strconv.Itoa(offset)))
}

// DecodeCursor decodes a cursor back to an offset.
func DecodeCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, domainerrors.Validation("invalid cursor").WithCause(err)
	}
	raw, ok := strings.CutPrefix(string(decoded), cursorPrefix)
	if !ok {
		return 0, domainerrors.Validation("invalid cursor")
	}
	offset, err := strconv.Atoi(raw)
	if err != nil || offset < 0 {
		return 0, domainerrors.Validation("invalid cursor")
	}
	return offset, nil
}
