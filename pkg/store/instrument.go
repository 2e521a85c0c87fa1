package store

import (
	"context"
	"time"

	"github.com/astromechza/copypad/pkg/metrics"
)

type instrumented struct {
	inner Store
}

// Instrument records count, outcome and latency of every call on s.
func Instrument(s Store) Store {
	if _, ok := s.(*instrumented); ok {
		return s
	}
	return &instrumented{inner: s}
}

func (i *instrumented) Load(ctx context.Context, path string) (doc Document, err error) {
	defer func(started time.Time) { metrics.ObserveStoreOp("load", started, err) }(time.Now())
	return i.inner.Load(ctx, path)
}

func (i *instrumented) SaveText(ctx context.Context, path, text string) (err error) {
	defer func(started time.Time) { metrics.ObserveStoreOp("save_text", started, err) }(time.Now())
	return i.inner.SaveText(ctx, path, text)
}

func (i *instrumented) SaveAttachment(ctx context.Context, path string, attachment *Attachment) (err error) {
	defer func(started time.Time) { metrics.ObserveStoreOp("save_attachment", started, err) }(time.Now())
	return i.inner.SaveAttachment(ctx, path, attachment)
}

func (i *instrumented) Expire(ctx context.Context, before time.Time) (n int64, err error) {
	defer func(started time.Time) { metrics.ObserveStoreOp("expire", started, err) }(time.Now())
	return i.inner.Expire(ctx, before)
}

func (i *instrumented) Close() error {
	return i.inner.Close()
}
