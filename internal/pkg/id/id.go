package id

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewAt generates a ULID whose timestamp part is t, so ids sort with the
// created_at of the record they identify.
func NewAt(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}

// Time returns the creation time encoded in a ULID.
func Time(s string) (time.Time, error) {
	u, err := ulid.ParseStrict(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(u.Time()), nil
}
