// Package main implements chunkstored, a demo HTTP server wrapping an
// Engine behind a small JSON API.
//
// Architecture:
//
//	┌─────────────────────────────────────────┐
//	│              chunkstored                 │
//	├─────────────────────────────────────────┤
//	│  HTTP API:                              │
//	│    /health                 - liveness    │
//	│    /partitions/{id}/append - POST        │
//	│    /partitions/{id}/forward  - GET       │
//	│    /partitions/{id}/backward - GET       │
//	│    /partitions/{id}        - DELETE      │
//	│    /log                    - GET         │
//	├─────────────────────────────────────────┤
//	│  Components:                            │
//	│    engine.Engine  - memory or mysql      │
//	│    serializer.Serializer - payload codec │
//	└─────────────────────────────────────────┘
//
// Configuration:
//   - CHUNKSTORED_LISTEN: listen address (default ":8080")
//   - CHUNKSTORED_BACKEND: "memory" or "mysql" (default "memory")
//   - CHUNKSTORED_MYSQL_DSN: DSN when backend is "mysql"
//   - CHUNKSTORED_TABLE: chunk table name (default "chunks")
package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/dreamware/chunkstore/chunk"
	"github.com/dreamware/chunkstore/engine"
)

// server wires an Engine behind HTTP handlers.
type server struct {
	eng engine.Engine
	log *zap.Logger
}

func newServer(eng engine.Engine, log *zap.Logger) *server {
	return &server{eng: eng, log: log}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/log", s.handleReadAll)
	mux.HandleFunc("/partitions/", s.handlePartitionRequest)
	return mux
}

// appendRequest is the JSON body for POST /partitions/{id}/append.
type appendRequest struct {
	Index       int64  `json:"index"`
	OperationID string `json:"operationId"`
	Payload     any    `json:"payload"`
}

type chunkResponse struct {
	PartitionID string `json:"partitionId"`
	Index       int64  `json:"index"`
	Position    int64  `json:"position"`
	OperationID string `json:"operationId"`
	Payload     any    `json:"payload"`
}

func toChunkResponse(c *chunk.Chunk) chunkResponse {
	return chunkResponse{
		PartitionID: c.PartitionID,
		Index:       c.Index,
		Position:    c.Position,
		OperationID: c.OperationID,
		Payload:     c.Payload,
	}
}

// handlePartitionRequest dispatches /partitions/{id}[/append|/forward|/backward].
//
// Endpoint: varies by method and suffix, see routes().
func (s *server) handlePartitionRequest(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/partitions/")
	if rest == "" {
		http.Error(w, "missing partition id", http.StatusBadRequest)
		return
	}

	slash := strings.Index(rest, "/")
	if slash == -1 {
		if r.Method == http.MethodDelete {
			s.handleDeletePartition(w, r, rest)
			return
		}
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	partitionID := rest[:slash]
	action := rest[slash+1:]

	switch action {
	case "append":
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.handleAppend(w, r, partitionID)
	case "forward":
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.handleReadForward(w, r, partitionID)
	case "backward":
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.handleReadBackward(w, r, partitionID)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

// handleAppend persists one chunk to a partition.
//
// Endpoint: POST /partitions/{id}/append
//
// Response:
//   - 200 OK: chunk appended, body is chunkResponse
//   - 204 No Content: idempotent no-op (duplicate operationId)
//   - 409 Conflict: duplicate stream index
//   - 400/500: malformed request or backend failure
func (s *server) handleAppend(w http.ResponseWriter, r *http.Request, partitionID string) {
	var req appendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	index := req.Index
	if index == 0 {
		index = chunk.IndexAuto
	}

	c, err := s.eng.Append(r.Context(), partitionID, index, req.Payload, req.OperationID)
	if err != nil {
		var dup *chunk.ErrDuplicateStreamIndex
		if errors.As(err, &dup) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		s.log.Error("append failed", zap.String("partition", partitionID), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if c == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toChunkResponse(c))
}

// handleReadForward streams a partition forward from a query-string
// cursor.
//
// Endpoint: GET /partitions/{id}/forward?from={index}&limit={n}
func (s *server) handleReadForward(w http.ResponseWriter, r *http.Request, partitionID string) {
	from := queryInt64(r, "from", 0)
	limit := queryInt(r, "limit", chunk.LimitUnbounded)

	var out []chunkResponse
	sub := &chunk.FuncSubscription{
		OnNextFunc: func(c *chunk.Chunk) bool {
			out = append(out, toChunkResponse(c))
			return true
		},
	}

	if err := s.eng.ReadForward(r.Context(), partitionID, from, sub, chunk.IndexUnboundedUpper, limit); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

// handleReadBackward streams a partition backward from a query-string
// cursor.
//
// Endpoint: GET /partitions/{id}/backward?from={index}&limit={n}
func (s *server) handleReadBackward(w http.ResponseWriter, r *http.Request, partitionID string) {
	from := queryInt64(r, "from", chunk.IndexUnboundedUpper)
	limit := queryInt(r, "limit", chunk.LimitUnbounded)

	var out []chunkResponse
	sub := &chunk.FuncSubscription{
		OnNextFunc: func(c *chunk.Chunk) bool {
			out = append(out, toChunkResponse(c))
			return true
		},
	}

	if err := s.eng.ReadBackward(r.Context(), partitionID, from, sub, chunk.IndexUnboundedLower, limit); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

// handleReadAll streams the global log from a query-string position
// cursor.
//
// Endpoint: GET /log?from={position}&limit={n}
func (s *server) handleReadAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	from := queryInt64(r, "from", 0)
	limit := queryInt(r, "limit", chunk.LimitUnbounded)

	var out []chunkResponse
	sub := &chunk.FuncSubscription{
		OnNextFunc: func(c *chunk.Chunk) bool {
			out = append(out, toChunkResponse(c))
			return true
		},
	}

	if err := s.eng.ReadAll(r.Context(), from, sub, limit); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

// handleDeletePartition removes a range of a partition's chunks.
//
// Endpoint: DELETE /partitions/{id}?from={index}&to={index}
func (s *server) handleDeletePartition(w http.ResponseWriter, r *http.Request, partitionID string) {
	from := queryInt64(r, "from", chunk.IndexUnboundedLower)
	to := queryInt64(r, "to", chunk.IndexUnboundedUpper)

	if err := s.eng.Delete(r.Context(), partitionID, from, to); err != nil {
		var sde *chunk.ErrStreamDelete
		if errors.As(err, &sde) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func queryInt64(r *http.Request, key string, def int64) int64 {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
