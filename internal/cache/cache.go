package cache

import (
	"context"
	"time"
)

// BytesCache — best-effort кэш байтов: промах и ошибка равнозначны,
// вызывающий всегда умеет сходить в БД.
type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
