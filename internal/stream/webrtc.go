package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
	"gopkg.in/hraban/opus.v2"

	"github.com/satindergrewal/playout/internal/audio"
)

const (
	opusBitrate   = 128000
	maxOpusPacket = 4000
)

var errBadOffer = errors.New("stream: offer rejected")

// OpusCompatible reports whether frames in f can be opus encoded as they
// come off the broadcast line.
func OpusCompatible(f audio.Format) error {
	switch f.SampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		return fmt.Errorf("%w: opus cannot encode %d Hz", audio.ErrUnsupportedEncoding, f.SampleRate)
	}
	if f.Channels != 1 && f.Channels != 2 {
		return fmt.Errorf("%w: opus cannot encode %d channels", audio.ErrUnsupportedEncoding, f.Channels)
	}
	return nil
}

// sampleDuration is how much playback time one interleaved PCM frame block
// covers.
func sampleDuration(f audio.Format, samples []int16) time.Duration {
	return f.Duration(int64(len(samples) / f.Channels))
}

// WebRTCHandler answers SDP offers from low-latency Opus listeners.
type WebRTCHandler struct {
	broadcaster *Broadcaster
	format      audio.Format

	mu    sync.Mutex
	peers map[*webrtc.PeerConnection]*Listener
}

// NewWebRTCHandler creates a handler for f, which must pass OpusCompatible.
func NewWebRTCHandler(b *Broadcaster, f audio.Format) (*WebRTCHandler, error) {
	if err := OpusCompatible(f); err != nil {
		return nil, err
	}
	return &WebRTCHandler{
		broadcaster: b,
		format:      f,
		peers:       make(map[*webrtc.PeerConnection]*Listener),
	}, nil
}

func (h *WebRTCHandler) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

func (h *WebRTCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	switch r.Method {
	case http.MethodOptions:
		w.Header().Set("Access-Control-Allow-Methods", "POST")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodPost:
	default:
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		http.Error(w, "invalid SDP offer", http.StatusBadRequest)
		return
	}

	pc, track, err := h.answer(offer)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("webrtc negotiation failed")
		code := http.StatusInternalServerError
		if errors.Is(err, errBadOffer) {
			code = http.StatusBadRequest
		}
		http.Error(w, err.Error(), code)
		return
	}
	h.attach(pc, track)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pc.LocalDescription())
}

// answer builds a send-only peer for offer and waits for ICE gathering so
// the returned local description carries every candidate.
func (h *WebRTCHandler) answer(offer webrtc.SessionDescription) (*webrtc.PeerConnection, *webrtc.TrackLocalStaticSample, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, nil, fmt.Errorf("peer connection: %w", err)
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio",
		"playout",
	)
	if err == nil {
		_, err = pc.AddTrack(track)
	}
	if err != nil {
		pc.Close()
		return nil, nil, fmt.Errorf("audio track: %w", err)
	}
	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		return nil, nil, fmt.Errorf("%w: %v", errBadOffer, err)
	}

	gathered := webrtc.GatheringCompletePromise(pc)
	desc, err := pc.CreateAnswer(nil)
	if err == nil {
		err = pc.SetLocalDescription(desc)
	}
	if err != nil {
		pc.Close()
		return nil, nil, fmt.Errorf("local description: %w", err)
	}
	<-gathered
	return pc, track, nil
}

// attach subscribes a negotiated peer to the broadcast and tears it down
// when the connection ends.
func (h *WebRTCHandler) attach(pc *webrtc.PeerConnection, track *webrtc.TrackLocalStaticSample) {
	listener := h.broadcaster.Subscribe()
	h.mu.Lock()
	h.peers[pc] = listener
	count := len(h.peers)
	h.mu.Unlock()
	log.Info().Int("peers", count).Msg("webrtc peer connected")

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed,
			webrtc.PeerConnectionStateDisconnected:
			h.detach(pc)
		}
	})
	go func() {
		if err := h.sendOpus(listener, track); err != nil {
			log.Debug().Err(err).Msg("webrtc sender stopped")
		}
		h.detach(pc)
	}()
}

func (h *WebRTCHandler) detach(pc *webrtc.PeerConnection) {
	h.mu.Lock()
	listener, ok := h.peers[pc]
	delete(h.peers, pc)
	count := len(h.peers)
	h.mu.Unlock()
	if !ok {
		return
	}
	h.broadcaster.Unsubscribe(listener)
	pc.Close()
	log.Info().Int("peers", count).Int64("dropped", listener.Dropped()).Msg("webrtc peer disconnected")
}

// sendOpus encodes listener frames onto track until the listener stops.
// Each sample is stamped with the playback time of the frames it carries.
func (h *WebRTCHandler) sendOpus(listener *Listener, track *webrtc.TrackLocalStaticSample) error {
	enc, err := opus.NewEncoder(h.format.SampleRate, h.format.Channels, opus.AppAudio)
	if err != nil {
		return fmt.Errorf("opus encoder: %w", err)
	}
	if err := enc.SetBitrate(opusBitrate); err != nil {
		return fmt.Errorf("opus bitrate: %w", err)
	}

	packet := make([]byte, maxOpusPacket)
	for {
		select {
		case <-listener.Done():
			return nil
		case frame := <-listener.C:
			n, err := enc.Encode(frame, packet)
			if err != nil {
				log.Warn().Err(err).Int("samples", len(frame)).Msg("opus encode failed")
				continue
			}
			sample := media.Sample{Data: packet[:n], Duration: sampleDuration(h.format, frame)}
			if err := track.WriteSample(sample); err != nil {
				return fmt.Errorf("write sample: %w", err)
			}
		}
	}
}
