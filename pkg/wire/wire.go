// Package wire defines the JSON bodies exchanged over the HTTP endpoints.
package wire

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
)

// LoadResponse is the body of GET /load/{path}.
type LoadResponse struct {
	Text           string `json:"text"`
	Attachment     Bytes  `json:"attachment,omitempty"`
	AttachmentName string `json:"attachment_name,omitempty"`
}

// SaveTextRequest is the body of POST /save_text.
type SaveTextRequest struct {
	Text string `json:"text"`
	Path string `json:"path"`
}

// SaveFileRequest is the body of POST /save_file. A null File deletes the
// attachment.
type SaveFileRequest struct {
	File     Bytes  `json:"file"`
	FileName string `json:"file_name"`
	Path     string `json:"path"`
}

// Result is the body of every save response.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Bytes encodes as a JSON array of byte values, the form browsers produce
// with Array.from(Uint8Array). It also decodes base64 strings. A nil Bytes
// marshals as null.
type Bytes []byte

func (b Bytes) MarshalJSON() ([]byte, error) {
	if b == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.Grow(len(b)*4 + 2)
	buf.WriteByte('[')
	for i, v := range b {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(strconv.Itoa(int(v)))
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func (b *Bytes) UnmarshalJSON(raw []byte) error {
	raw = bytes.TrimSpace(raw)
	switch {
	case bytes.Equal(raw, []byte("null")):
		*b = nil
		return nil
	case len(raw) > 0 && raw[0] == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return fmt.Errorf("failed to decode base64 bytes: %w", err)
		}
		*b = decoded
		return nil
	}
	var values []int
	if err := json.Unmarshal(raw, &values); err != nil {
		return fmt.Errorf("failed to decode byte array: %w", err)
	}
	out := make([]byte, len(values))
	for i, v := range values {
		if v < 0 || v > 255 {
			return fmt.Errorf("byte value %d at index %d out of range", v, i)
		}
		out[i] = byte(v)
	}
	*b = out
	return nil
}
