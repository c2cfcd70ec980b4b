package source

import (
	"errors"
	"strconv"
	"time"
)

var errUnsupportedKind = errors.New("source: unsupported event kind")

func parseInt64(s string) int64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func unixToTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func nowUTC() time.Time { return time.Now().UTC() }
