package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/satindergrewal/playout/internal/playout"
)

type fakePlayer struct {
	gain    float64
	flushes int
}

func (p *fakePlayer) SetGain(db float64) { p.gain = db }
func (p *fakePlayer) Gain() float64      { return p.gain }
func (p *fakePlayer) Flush()             { p.flushes++ }
func (p *fakePlayer) Stats() playout.Stats {
	return playout.Stats{Enqueued: 12, Buffered: 3, Format: "44100Hz/2ch/16bit/signed/be"}
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func TestStatus(t *testing.T) {
	p := &fakePlayer{gain: -3}
	h := New(p)
	h.AddStatus("listeners", func() any { return 2 })

	rec := do(h, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp struct {
		Output    playout.Stats `json:"output"`
		GainDB    float64       `json:"gain_db"`
		Listeners int           `json:"listeners"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.EqualValues(t, 12, resp.Output.Enqueued)
	require.Equal(t, 3, resp.Output.Buffered)
	require.Equal(t, -3.0, resp.GainDB)
	require.Equal(t, 2, resp.Listeners)

	require.Equal(t, http.StatusMethodNotAllowed, do(h, http.MethodPost, "/api/status", "").Code)
}

func TestGain(t *testing.T) {
	p := &fakePlayer{}
	h := New(p)

	rec := do(h, http.MethodPost, "/api/gain", `{"gain_db": -12.5}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, -12.5, p.gain)

	rec = do(h, http.MethodGet, "/api/gain", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"gain_db": -12.5}`, rec.Body.String())

	require.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/api/gain", `{}`).Code)
	require.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/api/gain", `nope`).Code)
	require.Equal(t, http.StatusMethodNotAllowed, do(h, http.MethodDelete, "/api/gain", "").Code)
	require.Equal(t, -12.5, p.gain)
}

func TestFlush(t *testing.T) {
	p := &fakePlayer{}
	h := New(p)

	require.Equal(t, http.StatusMethodNotAllowed, do(h, http.MethodGet, "/api/flush", "").Code)
	require.Zero(t, p.flushes)

	rec := do(h, http.MethodPost, "/api/flush", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, p.flushes)
}

func TestExtraRoute(t *testing.T) {
	h := New(&fakePlayer{})
	called := false
	h.HandleFunc("/api/skip", func(w http.ResponseWriter, r *http.Request) {
		called = true
		writeJSON(w, map[string]any{"ok": true})
	})
	rec := do(h, http.MethodPost, "/api/skip", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, called)
	require.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/api/missing", "").Code)
}
