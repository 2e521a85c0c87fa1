package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, s Store) {
	ctx := context.Background()

	// A path never saved loads as empty text without an attachment.
	doc, err := s.Load(ctx, "never/seen")
	require.NoError(t, err)
	require.Equal(t, "never/seen", doc.Path)
	require.Equal(t, "", doc.Text)
	require.Nil(t, doc.Attachment)

	require.NoError(t, s.SaveText(ctx, "notes", "hello\nworld ✓"))
	doc, err = s.Load(ctx, "notes")
	require.NoError(t, err)
	require.Equal(t, "hello\nworld ✓", doc.Text)
	require.Nil(t, doc.Attachment)

	// Saving again overwrites.
	require.NoError(t, s.SaveText(ctx, "notes", "second"))
	doc, err = s.Load(ctx, "notes")
	require.NoError(t, err)
	require.Equal(t, "second", doc.Text)

	// Paths are case sensitive.
	doc, err = s.Load(ctx, "Notes")
	require.NoError(t, err)
	require.Equal(t, "", doc.Text)

	// Attachments leave the text alone, and text saves leave attachments alone.
	require.NoError(t, s.SaveAttachment(ctx, "notes", &Attachment{Name: "a.bin", Data: []byte{0, 1, 2, 255}}))
	doc, err = s.Load(ctx, "notes")
	require.NoError(t, err)
	require.Equal(t, "second", doc.Text)
	require.Equal(t, &Attachment{Name: "a.bin", Data: []byte{0, 1, 2, 255}}, doc.Attachment)

	require.NoError(t, s.SaveText(ctx, "notes", "third"))
	doc, err = s.Load(ctx, "notes")
	require.NoError(t, err)
	require.Equal(t, "third", doc.Text)
	require.Equal(t, "a.bin", doc.Attachment.Name)

	// Replacing and then deleting the attachment.
	require.NoError(t, s.SaveAttachment(ctx, "notes", &Attachment{Name: "b.txt", Data: []byte("bee")}))
	doc, err = s.Load(ctx, "notes")
	require.NoError(t, err)
	require.Equal(t, &Attachment{Name: "b.txt", Data: []byte("bee")}, doc.Attachment)

	require.NoError(t, s.SaveAttachment(ctx, "notes", nil))
	doc, err = s.Load(ctx, "notes")
	require.NoError(t, err)
	require.Nil(t, doc.Attachment)
	require.Equal(t, "third", doc.Text)

	// An attachment saved to a fresh path creates the document with empty text.
	require.NoError(t, s.SaveAttachment(ctx, "fresh", &Attachment{Name: "f", Data: []byte("x")}))
	doc, err = s.Load(ctx, "fresh")
	require.NoError(t, err)
	require.Equal(t, "", doc.Text)
	require.Equal(t, "f", doc.Attachment.Name)

	_, err = s.Load(ctx, "")
	require.ErrorIs(t, err, ErrInvalidPath)
	require.ErrorIs(t, s.SaveText(ctx, "", "x"), ErrInvalidPath)

	// Nothing is older than an hour ago.
	n, err := s.Expire(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(0), n)

	n, err = s.Expire(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
	doc, err = s.Load(ctx, "notes")
	require.NoError(t, err)
	require.Equal(t, "", doc.Text)
}

func TestMemory(t *testing.T) {
	testStore(t, NewMemory())
}

func TestSQLite(t *testing.T) {
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "test.sqlite3"))
	require.NoError(t, err)
	defer s.Close()
	testStore(t, s)
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "test.sqlite3")
	s, err := OpenSQLite(context.Background(), dsn)
	require.NoError(t, err)
	require.NoError(t, s.SaveText(context.Background(), "p", "kept"))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(context.Background(), dsn)
	require.NoError(t, err)
	defer s.Close()
	doc, err := s.Load(context.Background(), "p")
	require.NoError(t, err)
	require.Equal(t, "kept", doc.Text)
}

func TestOpenInstruments(t *testing.T) {
	s, err := Open(context.Background(), Options{Driver: "memory"})
	require.NoError(t, err)
	require.IsType(t, &instrumented{}, s)
	testStore(t, s)

	_, err = Open(context.Background(), Options{Driver: "etcd"})
	require.EqualError(t, err, `unknown store driver "etcd"`)
}

func TestSweepDisabled(t *testing.T) {
	// Returns at once without touching the store.
	require.NoError(t, Sweep(context.Background(), nil, 0, time.Second))
}

func TestSweepExpires(t *testing.T) {
	s := NewMemory()
	require.NoError(t, s.SaveText(context.Background(), "old", "x"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- Sweep(ctx, s, time.Nanosecond, 5*time.Millisecond) }()

	require.Eventually(t, func() bool {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return len(s.docs) == 0
	}, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}
