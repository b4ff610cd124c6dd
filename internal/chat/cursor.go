package chat

import (
	"encoding/hex"
	"fmt"
	"time"
)

// cursorLayout is a fixed-width RFC3339 layout with nanosecond precision.
// Fixed width keeps the lexicographic order of the formatted timestamps
// aligned with the order of the instants they encode.
const cursorLayout = "2006-01-02T15:04:05.000000000Z07:00"

// EncodeCursor encodes a message timestamp into an opaque pagination cursor.
// createdAt is used as the cursor because it is indexed together with the
// thread id and stays stable under concurrent inserts.
//
// The encoding is hex over the fixed-width UTC timestamp: hex digits sort in
// value order, so encoded cursors compare the same way as the timestamps
// behind them.
func EncodeCursor(t time.Time) string {
	return hex.EncodeToString([]byte(t.UTC().Format(cursorLayout)))
}

// DecodeCursor decodes a cursor back into the timestamp it was built from.
// Returns ErrInvalidCursor if the string is not hex or does not parse as a
// timestamp.
func DecodeCursor(cursor string) (time.Time, error) {
	raw, err := hex.DecodeString(cursor)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s", ErrInvalidCursor, cursor)
	}
	t, err := time.Parse(time.RFC3339Nano, string(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s", ErrInvalidCursor, cursor)
	}
	return t, nil
}
