// Package receiver turns RTP audio packets and RTCP sender reports arriving
// over UDP into playout enqueues and clock correlations.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

// ErrShortPacket is returned for payloads that do not hold a whole frame.
var ErrShortPacket = errors.New("receiver: short packet")

const maxDatagram = 1500

// Sink receives parsed packets.
type Sink interface {
	Enqueue(frameTime int64, payload []byte) (bool, error)
	Flush()
	SetFrameTime(frameTime int64, secondsTime float64)
}

// Stats counts receiver traffic.
type Stats struct {
	Packets       int64 `json:"packets"`
	Dropped       int64 `json:"dropped"`
	Restarts      int64 `json:"restarts"`
	SenderReports int64 `json:"sender_reports"`
}

// Receiver reads audio from one RTP socket and timing from one RTCP socket.
type Receiver struct {
	sink          Sink
	bytesPerFrame int
	media         *net.UDPConn
	control       *net.UDPConn

	mu       sync.Mutex
	timeline unwrapper

	packets       atomic.Int64
	dropped       atomic.Int64
	restarts      atomic.Int64
	senderReports atomic.Int64
}

// ControlAddr returns the conventional RTCP address for an RTP address: the
// same host on the next port up.
func ControlAddr(mediaAddr string) (string, error) {
	host, port, err := net.SplitHostPort(mediaAddr)
	if err != nil {
		return "", err
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return "", fmt.Errorf("rtp port %q: %w", port, err)
	}
	if p == 0 {
		return net.JoinHostPort(host, "0"), nil
	}
	return net.JoinHostPort(host, strconv.Itoa(p+1)), nil
}

// Listen binds the RTP and RTCP sockets. Payloads must hold whole frames of
// bytesPerFrame bytes.
func Listen(mediaAddr, controlAddr string, bytesPerFrame int, sink Sink) (*Receiver, error) {
	media, err := listenUDP(mediaAddr)
	if err != nil {
		return nil, fmt.Errorf("listen rtp: %w", err)
	}
	control, err := listenUDP(controlAddr)
	if err != nil {
		media.Close()
		return nil, fmt.Errorf("listen rtcp: %w", err)
	}
	log.Info().
		Stringer("rtp", media.LocalAddr()).
		Stringer("rtcp", control.LocalAddr()).
		Msg("receiver listening")
	return &Receiver{
		sink:          sink,
		bytesPerFrame: bytesPerFrame,
		media:         media,
		control:       control,
	}, nil
}

func listenUDP(addr string) (*net.UDPConn, error) {
	ua, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	return net.ListenUDP("udp", ua)
}

// MediaAddr is the bound RTP address.
func (r *Receiver) MediaAddr() net.Addr { return r.media.LocalAddr() }

// ControlAddr is the bound RTCP address.
func (r *Receiver) ControlAddr() net.Addr { return r.control.LocalAddr() }

func (r *Receiver) Stats() Stats {
	return Stats{
		Packets:       r.packets.Load(),
		Dropped:       r.dropped.Load(),
		Restarts:      r.restarts.Load(),
		SenderReports: r.senderReports.Load(),
	}
}

// Run reads both sockets until ctx is cancelled, then closes them.
func (r *Receiver) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		r.media.Close()
		r.control.Close()
		return nil
	})
	g.Go(func() error { return r.readLoop(gctx, r.media, r.handleMedia) })
	g.Go(func() error { return r.readLoop(gctx, r.control, r.handleControl) })
	return g.Wait()
}

func (r *Receiver) readLoop(ctx context.Context, conn *net.UDPConn, handle func([]byte) error) error {
	buf := make([]byte, maxDatagram)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read %v: %w", conn.LocalAddr(), err)
		}
		if err := handle(buf[:n]); err != nil {
			r.dropped.Inc()
			log.Debug().Err(err).Int("bytes", n).Msg("packet dropped")
		}
	}
}

func (r *Receiver) handleMedia(buf []byte) error {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(buf); err != nil {
		return err
	}
	if len(pkt.Payload) < r.bytesPerFrame || len(pkt.Payload)%r.bytesPerFrame != 0 {
		return fmt.Errorf("%w: %d byte payload", ErrShortPacket, len(pkt.Payload))
	}

	r.mu.Lock()
	frameTime := r.timeline.extend(pkt.Timestamp)
	r.mu.Unlock()

	if pkt.Marker {
		r.restarts.Inc()
		log.Info().Int64("frame_time", frameTime).Msg("stream restart")
		r.sink.Flush()
	}

	payload := append([]byte(nil), pkt.Payload...)
	if _, err := r.sink.Enqueue(frameTime, payload); err != nil {
		return err
	}
	r.packets.Inc()
	return nil
}

func (r *Receiver) handleControl(buf []byte) error {
	pkts, err := rtcp.Unmarshal(buf)
	if err != nil {
		return err
	}
	for _, p := range pkts {
		sr, ok := p.(*rtcp.SenderReport)
		if !ok {
			continue
		}
		r.mu.Lock()
		frameTime := r.timeline.extend(sr.RTPTime)
		r.mu.Unlock()
		r.senderReports.Inc()
		r.sink.SetFrameTime(frameTime, NTPToSeconds(sr.NTPTime))
	}
	return nil
}

// NTPToSeconds converts a 64-bit NTP timestamp to seconds since 1900.
func NTPToSeconds(ntp uint64) float64 {
	return float64(ntp>>32) + float64(ntp&0xffffffff)/(1<<32)
}

// SecondsToNTP is the inverse of NTPToSeconds.
func SecondsToNTP(seconds float64) uint64 {
	whole := uint64(seconds)
	frac := uint64((seconds - float64(whole)) * (1 << 32))
	return whole<<32 | frac
}

// unwrapper extends 32-bit RTP timestamps to a monotonic-ish 64-bit timeline.
// Each timestamp is placed within half the 32-bit range of the highest one
// seen so far.
type unwrapper struct {
	started bool
	highest int64
}

func (u *unwrapper) extend(ts uint32) int64 {
	if !u.started {
		u.started = true
		u.highest = int64(ts)
		return u.highest
	}
	ext := u.highest + int64(int32(ts-uint32(u.highest)))
	if ext > u.highest {
		u.highest = ext
	}
	return ext
}
