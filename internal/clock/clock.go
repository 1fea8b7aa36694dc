// Package clock translates between the three time domains of a playout line:
// seconds time (NTP seconds), frame time (the sender's sample index) and
// line time (frames consumed by the output device since it started).
package clock

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
)

// NTPEpochOffset is the number of seconds between 1900-01-01 and 1970-01-01.
const NTPEpochOffset = 2208988800.0

// NTPSeconds converts t to seconds since the NTP epoch.
func NTPSeconds(t time.Time) float64 {
	return NTPEpochOffset + float64(t.UnixNano())*1e-9
}

// PositionFunc reports the number of frames the device has played.
type PositionFunc func() int64

// Clock holds the offsets relating the time domains. The seconds offset is
// fixed when the line starts; the frame offset moves with every SetFrameTime.
type Clock struct {
	sampleRate    float64
	secondsOffset float64
	position      PositionFunc

	framesWritten atomic.Int64

	mu            sync.RWMutex
	frameOffset   int64
	latestSeen    int64
	adjustments   int64
	lastAdjustAge float64
}

// New creates a clock whose line time zero corresponds to secondsOffset.
func New(sampleRate int, secondsOffset float64, position PositionFunc) *Clock {
	return &Clock{
		sampleRate:    float64(sampleRate),
		secondsOffset: secondsOffset,
		position:      position,
	}
}

// SampleRate returns the frames per second of the line.
func (c *Clock) SampleRate() float64 { return c.sampleRate }

// SecondsOffset returns the seconds time of line time zero.
func (c *Clock) SecondsOffset() float64 { return c.secondsOffset }

// FrameOffset returns the frame time of line time zero.
func (c *Clock) FrameOffset() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.frameOffset
}

// NowLineTime is the device's current frame position.
func (c *Clock) NowLineTime() int64 {
	return c.position()
}

// NextLineTime is the line time of the next frame handed to the device.
func (c *Clock) NextLineTime() int64 {
	return c.framesWritten.Load()
}

// AddFramesWritten advances the written frame count by n.
func (c *Clock) AddFramesWritten(n int64) int64 {
	return c.framesWritten.Add(n)
}

func (c *Clock) NowSecondsTime() float64 {
	return c.secondsOffset + float64(c.NowLineTime())/c.sampleRate
}

func (c *Clock) NowFrameTime() int64 {
	return c.FrameOffset() + c.NowLineTime()
}

func (c *Clock) NextSecondsTime() float64 {
	return c.secondsOffset + float64(c.NextLineTime())/c.sampleRate
}

func (c *Clock) NextFrameTime() int64 {
	return c.FrameOffset() + c.NextLineTime()
}

// FrameToSecondsTime converts a frame time to seconds time.
func (c *Clock) FrameToSecondsTime(frameTime int64) float64 {
	return c.secondsOffset + float64(frameTime-c.FrameOffset())/c.sampleRate
}

// FrameToLineTime converts a frame time to the line time it should play at.
func (c *Clock) FrameToLineTime(frameTime int64) int64 {
	return frameTime - c.FrameOffset()
}

// SeenFrameTime records frameTime as the latest seen if it is the largest so far.
func (c *Clock) SeenFrameTime(frameTime int64) {
	c.mu.Lock()
	if frameTime > c.latestSeen {
		c.latestSeen = frameTime
	}
	c.mu.Unlock()
}

// LatestSeenFrameTime returns the high-water mark recorded by SeenFrameTime.
func (c *Clock) LatestSeenFrameTime() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latestSeen
}

// SetFrameTime correlates frameTime with secondsTime and moves the frame
// offset so that frameTime maps to the line time implied by secondsTime. The
// step applies to all later conversions; no smoothing is done.
func (c *Clock) SetFrameTime(frameTime int64, secondsTime float64) {
	ageSeconds := c.NowSecondsTime() - secondsTime
	lineTime := int64(math.Round((secondsTime - c.secondsOffset) * c.sampleRate))

	c.mu.Lock()
	previous := c.frameOffset
	c.frameOffset = frameTime - lineTime
	adjusted := c.frameOffset - previous
	c.adjustments++
	c.lastAdjustAge = ageSeconds
	latest := c.latestSeen
	c.mu.Unlock()

	log.Debug().
		Int64("adjusted_by", adjusted).
		Float64("age_seconds", ageSeconds).
		Int64("behind_latest", latest-frameTime).
		Msg("frame time adjusted")
}

// Adjustments returns how many times SetFrameTime was called and the age of
// the timing information used last.
func (c *Clock) Adjustments() (count int64, lastAgeSeconds float64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.adjustments, c.lastAdjustAge
}
