package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dd0wney/cluso-flashkv/pkg/status"
	"github.com/dd0wney/cluso-flashkv/pkg/validation"
)

// namespaceParams returns the validated {partition} and {namespace} parameters.
func (s *Server) namespaceParams(w http.ResponseWriter, r *http.Request) (validation.NamespaceRef, bool) {
	ref := validation.NamespaceRef{
		Partition: chi.URLParam(r, "partition"),
		Namespace: chi.URLParam(r, "namespace"),
	}
	if err := validation.ValidateNamespaceRef(&ref); err != nil {
		s.respondError(w, r, err)
		return ref, false
	}
	return ref, true
}

// blobParams returns the validated {partition}, {namespace} and {key} parameters.
func (s *Server) blobParams(w http.ResponseWriter, r *http.Request) (validation.BlobRef, bool) {
	ref := validation.BlobRef{
		Partition: chi.URLParam(r, "partition"),
		Namespace: chi.URLParam(r, "namespace"),
		Key:       chi.URLParam(r, "key"),
	}
	if err := validation.ValidateBlobRef(&ref); err != nil {
		s.respondError(w, r, err)
		return ref, false
	}
	return ref, true
}

func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	ref, ok := s.namespaceParams(w, r)
	if !ok {
		return
	}
	keys, err := s.manager.Keys(ref.Partition, ref.Namespace)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if keys == nil {
		keys = []string{}
	}
	s.respondJSON(w, http.StatusOK, KeyList{Partition: ref.Partition, Namespace: ref.Namespace, Keys: keys})
}

func (s *Server) handleEraseNamespace(w http.ResponseWriter, r *http.Request) {
	ref, ok := s.namespaceParams(w, r)
	if !ok {
		return
	}
	n, err := s.manager.EraseNamespace(ref.Partition, ref.Namespace)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, EraseNamespaceResponse{Partition: ref.Partition, Namespace: ref.Namespace, Deleted: n})
}

// handleKeyExists answers HEAD with the value length in SizeHeader, or 404
// with KeyNotFound when the key is absent.
func (s *Server) handleKeyExists(w http.ResponseWriter, r *http.Request) {
	ref, ok := s.blobParams(w, r)
	if !ok {
		return
	}
	size, found, err := s.manager.KeyExists(ref.Partition, ref.Namespace, ref.Key)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if !found {
		setStatus(w, status.KeyNotFound)
		w.WriteHeader(http.StatusNotFound)
		return
	}
	setStatus(w, status.OK)
	w.Header().Set(SizeHeader, strconv.Itoa(size))
	w.WriteHeader(http.StatusOK)
}

// handleReadBlob returns the raw value. With ?size=N the read is checked
// against the expected length.
func (s *Server) handleReadBlob(w http.ResponseWriter, r *http.Request) {
	ref, ok := s.blobParams(w, r)
	if !ok {
		return
	}

	var (
		data []byte
		err  error
	)
	if raw := r.URL.Query().Get("size"); raw != "" {
		size, convErr := strconv.Atoi(raw)
		if convErr != nil {
			s.respondError(w, r, fmt.Errorf("%w: size %q is not a number", status.ErrInvalidArgument, raw))
			return
		}
		if err := validation.ValidateSize(size, -1); err != nil {
			s.respondError(w, r, err)
			return
		}
		data, err = s.manager.ReadBlob(ref.Partition, ref.Namespace, ref.Key, size)
	} else {
		data, err = s.manager.Get(ref.Partition, ref.Namespace, ref.Key)
	}
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	setStatus(w, status.OK)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set(SizeHeader, strconv.Itoa(len(data)))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleWriteBlob(w http.ResponseWriter, r *http.Request) {
	ref, ok := s.blobParams(w, r)
	if !ok {
		return
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		s.respondError(w, r, fmt.Errorf("%w: %w", status.ErrInvalidArgument, err))
		return
	}
	if err := s.manager.WriteBlob(ref.Partition, ref.Namespace, ref.Key, data); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondNoContent(w)
}

func (s *Server) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	ref, ok := s.blobParams(w, r)
	if !ok {
		return
	}
	if err := s.manager.DeleteKey(ref.Partition, ref.Namespace, ref.Key); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondNoContent(w)
}
