package toolbridge

import "github.com/dynamous-community/YokeFlow/internal/yokeerr"

func notOwnedError(kind, id string) error {
	return yokeerr.New(yokeerr.KindForbidden, false, "%s %s belongs to a different project", kind, id)
}
