// Package client talks to a copypad server: it loads and saves documents over
// HTTP and exchanges live edits over the chat websocket.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/astromechza/copypad/pkg/wire"
)

const (
	// MaxAttachmentBytes is the largest attachment the server accepts.
	MaxAttachmentBytes = 1 << 20
	beaconTimeout      = 30 * time.Second
)

var (
	ErrNoFiles            = errors.New("no file selected")
	ErrMultipleFiles      = errors.New("please select only one file")
	ErrAttachmentTooLarge = errors.New("attachment too large")
)

type File struct {
	Name string
	Data []byte
}

// Document is what Load returns. Attachment is nil when there is none.
type Document struct {
	Text       string
	Attachment *File
}

// CheckFiles validates a file selection before anything is sent: exactly one
// file, no larger than max bytes.
func CheckFiles(files []File, max int64) (File, error) {
	switch {
	case len(files) == 0:
		return File{}, ErrNoFiles
	case len(files) > 1:
		return File{}, ErrMultipleFiles
	case int64(len(files[0].Data)) > max:
		return File{}, fmt.Errorf("%w: %s is over %s", ErrAttachmentTooLarge,
			humanize.IBytes(uint64(len(files[0].Data))), humanize.IBytes(uint64(max)))
	}
	return files[0], nil
}

type Client struct {
	base string
	http *http.Client

	beacons sync.WaitGroup
}

// New returns a client for the server at baseURL, e.g. http://localhost:8000.
func New(baseURL string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{base: strings.TrimSuffix(u.String(), "/"), http: httpClient}, nil
}

// Load fetches the stored document. A path never saved loads as empty text.
func (c *Client) Load(ctx context.Context, path string) (Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/load/"+path, nil)
	if err != nil {
		return Document{}, fmt.Errorf("failed to build load request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Document{}, fmt.Errorf("failed to load: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Document{}, fmt.Errorf("failed to load: unexpected status code: %d", resp.StatusCode)
	}
	var body wire.LoadResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Document{}, fmt.Errorf("failed to decode load response: %w", err)
	}
	doc := Document{Text: body.Text}
	if body.Attachment != nil || body.AttachmentName != "" {
		doc.Attachment = &File{Name: body.AttachmentName, Data: body.Attachment}
	}
	return doc, nil
}

func (c *Client) post(ctx context.Context, endpoint string, body interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+endpoint, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	var result wire.Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode %s response (status %d): %w", endpoint, resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || !result.Success {
		return fmt.Errorf("failed to post %s: status %d: %s", endpoint, resp.StatusCode, result.Error)
	}
	return nil
}

// SaveText persists text and returns once the server confirmed it.
func (c *Client) SaveText(ctx context.Context, path, text string) error {
	return c.post(ctx, "/save_text", wire.SaveTextRequest{Text: text, Path: path})
}

// Beacon makes one attempt to save text in the background and returns at
// once. The attempt outlives the caller's context; its outcome is only
// logged. Wait blocks until outstanding beacons are done.
func (c *Client) Beacon(path, text string) {
	c.beacons.Add(1)
	go func() {
		defer c.beacons.Done()
		ctx, cancel := context.WithTimeout(context.Background(), beaconTimeout)
		defer cancel()
		if err := c.SaveText(ctx, path, text); err != nil {
			slog.Error("failed to send beacon", "path", path, "err", err)
		}
	}()
}

// Wait blocks until every Beacon has finished, including those a closing Pad
// still has to send after an in-flight save.
func (c *Client) Wait() {
	c.beacons.Wait()
}

// SaveFile replaces the attachment of path with the single selected file.
// Invalid selections are refused without contacting the server.
func (c *Client) SaveFile(ctx context.Context, path string, files []File) error {
	f, err := CheckFiles(files, MaxAttachmentBytes)
	if err != nil {
		return err
	}
	data := f.Data
	if data == nil {
		data = []byte{}
	}
	return c.post(ctx, "/save_file", wire.SaveFileRequest{File: data, FileName: f.Name, Path: path})
}

// DeleteFile removes the attachment of path.
func (c *Client) DeleteFile(ctx context.Context, path string) error {
	return c.post(ctx, "/save_file", wire.SaveFileRequest{File: nil, FileName: "", Path: path})
}
