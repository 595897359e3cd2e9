package cache

import (
	"context"
	"fmt"
)

// TileKey addresses one tile. Values are not range checked.
type TileKey struct {
	Z int
	X int
	Y int
}

func (k TileKey) String() string {
	return fmt.Sprintf("%d/%d/%d", k.Z, k.X, k.Y)
}

// Cache stores encoded tiles. Get reports a missing entry with ok == false
// and a nil error; any error means the entry could not be read.
type Cache interface {
	Get(ctx context.Context, key TileKey) (data []byte, ok bool, err error)
	Set(ctx context.Context, key TileKey, value []byte) error
}
