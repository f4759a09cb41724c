package blob

import (
	"context"
	"errors"
	"io"
)

// ErrNotExist возвращается, если объекта нет в хранилище
var ErrNotExist = errors.New("blob does not exist")

// Store определяет хранилище байтов ассетов
type Store interface {
	Put(ctx context.Context, key string, r io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}
