package server

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/VedantVichare/AI-XRAY-DIAGNOSIS/server/storage"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

func (s *Server) httpStaticImage(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	s.sendArtifact(w, storage.ImagesDir, params.ByName("filename"))
}

func (s *Server) httpStaticSaliency(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	s.sendArtifact(w, storage.SaliencyDir, params.ByName("filename"))
}

func (s *Server) sendArtifact(w http.ResponseWriter, dir, filename string) {
	if !storage.ValidName(filename) {
		www.Panic(http.StatusNotFound, "File not found")
	}
	f, err := s.Storage.ReadFile(dir + "/" + filename)
	if errors.Is(err, storage.ErrNotFound) {
		www.Panic(http.StatusNotFound, "File not found")
	}
	www.Check(err)
	defer f.Reader.Close()

	contentType := mime.TypeByExtension(filepath.Ext(filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(f.Size, 10))
	// Artifact names are unique, so their content never changes
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	if !f.ModifiedAt.IsZero() {
		w.Header().Set("Last-Modified", f.ModifiedAt.UTC().Format(http.TimeFormat))
	}
	if _, err := io.Copy(w, f.Reader); err != nil {
		s.Log.Warnf("Failed to send %v/%v: %v", dir, filename, err)
	}
}
