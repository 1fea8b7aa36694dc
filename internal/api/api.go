// Package api serves the JSON control surface of a running output.
package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/satindergrewal/playout/internal/playout"
)

// Player is the part of playout.Output the control surface drives.
type Player interface {
	SetGain(db float64)
	Gain() float64
	Flush()
	Stats() playout.Stats
}

// Handler routes /api/status, /api/gain and /api/flush.
type Handler struct {
	player Player
	mux    *http.ServeMux

	mu      sync.RWMutex
	sources map[string]func() any
}

func New(player Player) *Handler {
	h := &Handler{
		player:  player,
		mux:     http.NewServeMux(),
		sources: map[string]func() any{},
	}
	h.mux.HandleFunc("/api/status", h.status)
	h.mux.HandleFunc("/api/gain", h.gain)
	h.mux.HandleFunc("/api/flush", h.flush)
	return h
}

// AddStatus includes the value returned by fn under name in /api/status.
func (h *Handler) AddStatus(name string, fn func() any) {
	h.mu.Lock()
	h.sources[name] = fn
	h.mu.Unlock()
}

// HandleFunc registers an extra route next to the built-in ones.
func (h *Handler) HandleFunc(pattern string, fn http.HandlerFunc) {
	h.mux.HandleFunc(pattern, fn)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("api: write response")
	}
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET required", http.StatusMethodNotAllowed)
		return
	}
	resp := map[string]any{
		"output":  h.player.Stats(),
		"gain_db": h.player.Gain(),
	}

	h.mu.RLock()
	names := make([]string, 0, len(h.sources))
	for name := range h.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		resp[name] = h.sources[name]()
	}
	h.mu.RUnlock()

	writeJSON(w, resp)
}

func (h *Handler) gain(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, map[string]any{"gain_db": h.player.Gain()})
	case http.MethodPost:
		var req struct {
			GainDB *float64 `json:"gain_db"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.GainDB == nil {
			http.Error(w, "invalid gain", http.StatusBadRequest)
			return
		}
		h.player.SetGain(*req.GainDB)
		log.Info().Float64("gain_db", *req.GainDB).Msg("gain requested")
		writeJSON(w, map[string]any{"ok": true, "gain_db": *req.GainDB})
	default:
		http.Error(w, "GET or POST required", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) flush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	h.player.Flush()
	writeJSON(w, map[string]any{"ok": true})
}
