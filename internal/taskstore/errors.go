package taskstore

import "github.com/dynamous-community/YokeFlow/internal/yokeerr"

func errNotFound(format string, args ...any) error {
	return yokeerr.New(yokeerr.KindNotFound, false, format, args...)
}

func errPrecondition(format string, args ...any) error {
	return yokeerr.New(yokeerr.KindPrecondition, false, format, args...)
}

func errStorage(cause error, format string, args ...any) error {
	return yokeerr.Wrap(yokeerr.KindStorage, true, cause, format, args...)
}
