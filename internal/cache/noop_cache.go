package cache

import "context"

// NoopCache never stores anything; every Get is a miss.
type NoopCache struct{}

var _ Cache = NoopCache{}

func (NoopCache) Get(context.Context, TileKey) ([]byte, bool, error) {
	return nil, false, nil
}

func (NoopCache) Set(context.Context, TileKey, []byte) error {
	return nil
}
