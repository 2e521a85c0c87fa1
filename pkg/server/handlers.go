package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"

	"github.com/astromechza/copypad/pkg/store"
	"github.com/astromechza/copypad/pkg/wire"
)

const defaultDownloadName = "default.txt"

func storeStatus(err error) int {
	if errors.Is(err, store.ErrInvalidPath) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) load(writer http.ResponseWriter, request *http.Request) {
	path := mux.Vars(request)["path"]
	doc, err := s.store.Load(request.Context(), path)
	if err != nil {
		slog.Error("failed to load document", "path", path, "err", err)
		writeJSON(writer, storeStatus(err), wire.Result{Error: err.Error()})
		return
	}
	resp := wire.LoadResponse{Text: doc.Text}
	if doc.Attachment != nil {
		resp.Attachment = doc.Attachment.Data
		resp.AttachmentName = doc.Attachment.Name
	}
	writeJSON(writer, http.StatusOK, resp)
}

// decodeBody reads JSON whatever the Content-Type says, since page unload
// beacons may arrive as text/plain.
func decodeBody(writer http.ResponseWriter, request *http.Request, limit int64, into interface{}) (int, error) {
	request.Body = http.MaxBytesReader(writer, request.Body, limit)
	if err := json.NewDecoder(request.Body).Decode(into); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return http.StatusRequestEntityTooLarge, fmt.Errorf("body exceeds %s", humanize.IBytes(uint64(limit)))
		}
		return http.StatusBadRequest, fmt.Errorf("failed to decode body: %w", err)
	}
	return http.StatusOK, nil
}

func (s *Server) saveText(writer http.ResponseWriter, request *http.Request) {
	var inputs wire.SaveTextRequest
	if status, err := decodeBody(writer, request, s.cfg.MaxTextBytes, &inputs); err != nil {
		slog.Error("failed to decode save_text body", "err", err)
		writeJSON(writer, status, wire.Result{Error: err.Error()})
		return
	}
	if err := s.store.SaveText(request.Context(), inputs.Path, inputs.Text); err != nil {
		slog.Error("failed to save text", "path", inputs.Path, "err", err)
		writeJSON(writer, storeStatus(err), wire.Result{Error: err.Error()})
		return
	}
	slog.Debug("saved text", "path", inputs.Path, "bytes", len(inputs.Text))
	writeJSON(writer, http.StatusOK, wire.Result{Success: true})
}

func (s *Server) saveFile(writer http.ResponseWriter, request *http.Request) {
	// Byte arrays take up to four JSON characters per byte.
	limit := s.cfg.MaxAttachmentBytes*4 + 64<<10
	var inputs wire.SaveFileRequest
	if status, err := decodeBody(writer, request, limit, &inputs); err != nil {
		slog.Error("failed to decode save_file body", "err", err)
		writeJSON(writer, status, wire.Result{Error: err.Error()})
		return
	}
	if int64(len(inputs.File)) > s.cfg.MaxAttachmentBytes {
		err := fmt.Errorf("attachment of %s exceeds %s", humanize.IBytes(uint64(len(inputs.File))), humanize.IBytes(uint64(s.cfg.MaxAttachmentBytes)))
		slog.Warn("rejected attachment", "path", inputs.Path, "err", err)
		writeJSON(writer, http.StatusRequestEntityTooLarge, wire.Result{Error: err.Error()})
		return
	}

	// A nameless attachment could not be told apart from no attachment.
	if inputs.File != nil && inputs.FileName == "" {
		writeJSON(writer, http.StatusBadRequest, wire.Result{Error: "attachment needs a file_name"})
		return
	}

	var attachment *store.Attachment
	if inputs.File != nil {
		attachment = &store.Attachment{Name: inputs.FileName, Data: inputs.File}
	}
	if err := s.store.SaveAttachment(request.Context(), inputs.Path, attachment); err != nil {
		slog.Error("failed to save attachment", "path", inputs.Path, "err", err)
		writeJSON(writer, storeStatus(err), wire.Result{Error: err.Error()})
		return
	}
	writeJSON(writer, http.StatusOK, wire.Result{Success: true})
}

func contentDisposition(name string) string {
	return mime.FormatMediaType("attachment", map[string]string{"filename": name})
}

// download returns the stored text as a file named by the name query.
func (s *Server) download(writer http.ResponseWriter, request *http.Request) {
	path := mux.Vars(request)["path"]
	doc, err := s.store.Load(request.Context(), path)
	if err != nil {
		slog.Error("failed to load document", "path", path, "err", err)
		writer.WriteHeader(storeStatus(err))
		return
	}
	name := request.URL.Query().Get("name")
	if name == "" {
		name = defaultDownloadName
	}
	writer.Header().Set("Content-Type", "text/plain; charset=utf-8")
	writer.Header().Set("Content-Disposition", contentDisposition(name))
	if _, err := writer.Write([]byte(doc.Text)); err != nil {
		slog.Error("failed to write out", "err", err)
	}
}

func (s *Server) attachment(writer http.ResponseWriter, request *http.Request) {
	path := mux.Vars(request)["path"]
	doc, err := s.store.Load(request.Context(), path)
	if err != nil {
		slog.Error("failed to load document", "path", path, "err", err)
		writer.WriteHeader(storeStatus(err))
		return
	}
	if doc.Attachment == nil {
		writer.WriteHeader(http.StatusNotFound)
		return
	}
	writer.Header().Set("Content-Type", "application/octet-stream")
	writer.Header().Set("Content-Disposition", contentDisposition(doc.Attachment.Name))
	if _, err := writer.Write(doc.Attachment.Data); err != nil {
		slog.Error("failed to write out", "err", err)
	}
}
