package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dd0wney/cluso-flashkv/pkg/partition"
	"github.com/dd0wney/cluso-flashkv/pkg/ptable"
	"github.com/dd0wney/cluso-flashkv/pkg/status"
	"github.com/dd0wney/cluso-flashkv/pkg/validation"
)

func partitionResponse(p ptable.Partition, initialized bool) PartitionResponse {
	return PartitionResponse{
		Name:        p.Name,
		Type:        p.Type.String(),
		Subtype:     ptable.SubtypeName(p.Type, p.Subtype),
		Offset:      p.Offset,
		Size:        p.Size,
		ReadOnly:    p.ReadOnly(),
		KV:          p.IsKV(),
		Initialized: initialized,
	}
}

// partitionParam returns the validated {partition} URL parameter.
func (s *Server) partitionParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := chi.URLParam(r, "partition")
	if err := validation.ValidatePartitionName(name); err != nil {
		s.respondError(w, r, err)
		return "", false
	}
	return name, true
}

func (s *Server) respondRouteError(w http.ResponseWriter, httpCode int, msg string) {
	setStatus(w, status.InvalidArgument)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Code: int(status.InvalidArgument), Error: msg})
}

// ListPartitions describes the table of a manager and the mount state of
// each entry.
func ListPartitions(mgr *partition.Manager) PartitionList {
	parts := mgr.Partitions()
	resp := PartitionList{
		TableID:    mgr.Table().ID().String(),
		Partitions: make([]PartitionResponse, 0, len(parts)),
	}
	for _, p := range parts {
		resp.Partitions = append(resp.Partitions, partitionResponse(p.Partition, p.Initialized))
	}
	return resp
}

func (s *Server) handleListPartitions(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, ListPartitions(s.manager))
}

func (s *Server) handlePartitionInfo(w http.ResponseWriter, r *http.Request) {
	name, ok := s.partitionParam(w, r)
	if !ok {
		return
	}
	info, err := s.manager.PartitionInfo(name)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, info)
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	name, ok := s.partitionParam(w, r)
	if !ok {
		return
	}
	if err := s.manager.InitPartition(name); err != nil {
		s.respondError(w, r, err)
		return
	}
	info, err := s.manager.PartitionInfo(name)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, info)
}

func (s *Server) handleErase(w http.ResponseWriter, r *http.Request) {
	name, ok := s.partitionParam(w, r)
	if !ok {
		return
	}
	if err := s.manager.ErasePartition(name); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondNoContent(w)
}

func (s *Server) handleCompact(w http.ResponseWriter, r *http.Request) {
	name, ok := s.partitionParam(w, r)
	if !ok {
		return
	}
	if err := s.manager.Compact(name); err != nil {
		s.respondError(w, r, err)
		return
	}
	info, err := s.manager.PartitionInfo(name)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, info)
}

func (s *Server) handleListNamespaces(w http.ResponseWriter, r *http.Request) {
	name, ok := s.partitionParam(w, r)
	if !ok {
		return
	}
	namespaces, err := s.manager.Namespaces(name)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if namespaces == nil {
		namespaces = []string{}
	}
	s.respondJSON(w, http.StatusOK, NamespaceList{Partition: name, Namespaces: namespaces})
}
