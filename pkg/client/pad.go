package client

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/astromechza/copypad/pkg/session"
)

type Options struct {
	// QuietPeriod defaults to session.DefaultQuietPeriod.
	QuietPeriod time.Duration
	// WarmUp refuses edits right after opening. Zero disables it.
	WarmUp time.Duration
	// OnRemote is called with every text received from the room, starting
	// with the room's snapshot. It runs on the receive goroutine.
	OnRemote func(text string)
}

// Pad is an open document: a Session wired to a chat connection and to the
// client's save endpoints.
type Pad struct {
	*session.Session
	Attachment *File

	client   *Client
	conn     *Conn
	done     chan struct{}
	err      error
	closeMu  sync.Mutex
	closeErr error
	closed   bool
}

// Open runs the full load then join sequence for path. Reconnecting after
// the pad is done means calling Open again.
func (c *Client) Open(ctx context.Context, path string, opts Options) (*Pad, error) {
	doc, err := c.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	conn, err := c.Dial(ctx, path)
	if err != nil {
		return nil, err
	}
	p := &Pad{
		Session: session.New(session.Config{
			Path:        path,
			Initial:     doc.Text,
			QuietPeriod: opts.QuietPeriod,
			WarmUp:      opts.WarmUp,
		}, conn, c),
		Attachment: doc.Attachment,
		client:     c,
		conn:       conn,
		done:       make(chan struct{}),
	}
	go p.receiveLoop(opts.OnRemote)
	return p, nil
}

func (p *Pad) receiveLoop(onRemote func(string)) {
	defer close(p.done)
	for {
		text, err := p.conn.Receive()
		if err != nil {
			p.err = err
			return
		}
		p.Session.Receive(text)
		if onRemote != nil {
			onRemote(text)
		}
	}
}

// Done is closed when the chat connection ends.
func (p *Pad) Done() <-chan struct{} {
	return p.done
}

// Err is why the chat connection ended. Only valid after Done.
func (p *Pad) Err() error {
	return p.err
}

// Close tears the pad down: unsaved text is beaconed and the connection is
// closed. It does not wait for the beacon; Client.Wait does.
func (p *Pad) Close() error {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	if p.closed {
		return p.closeErr
	}
	p.closed = true
	p.client.beacons.Add(1)
	go func() {
		defer p.client.beacons.Done()
		<-p.Session.Settled()
	}()
	if p.Session.Close() {
		slog.Debug("beaconed unsaved text", "path", p.Session.Path())
	}
	p.closeErr = p.conn.Close()
	<-p.done
	return p.closeErr
}
