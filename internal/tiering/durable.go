package tiering

import (
	"bytes"
	"context"
	"errors"
	"io"

	"soundvault/pkg/storage"
)

// DurableTier adapts the object store into the tier capability. Reads buffer
// the whole object in memory; acceptable for audio-sized payloads and
// explicitly inappropriate for video.
type DurableTier struct {
	objects storage.ObjectStore
}

func NewDurableTier(objects storage.ObjectStore) *DurableTier {
	return &DurableTier{objects: objects}
}

func (t *DurableTier) Name() string { return "durable" }

func (t *DurableTier) Exists(ctx context.Context, key string) bool {
	ok, err := t.objects.Exists(ctx, key)
	return err == nil && ok
}

func (t *DurableTier) Open(ctx context.Context, key string) (io.ReadSeekCloser, int64, error) {
	data, err := t.objects.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, 0, ErrMiss
		}
		return nil, 0, err
	}
	return nopReadSeekCloser{bytes.NewReader(data)}, int64(len(data)), nil
}

type nopReadSeekCloser struct {
	*bytes.Reader
}

func (nopReadSeekCloser) Close() error { return nil }
