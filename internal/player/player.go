// Package player drives local playback of downloaded tracks. One Controller
// owns at most one playback goroutine; stopping is cooperative, checked
// between frames.
package player

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultFrameSize is how much audio is handed to the output per frame.
const DefaultFrameSize = 4096

var (
	// ErrBusy rejects a start while another track is active.
	ErrBusy = errors.New("playback already in progress")
	// ErrNotPlaying rejects a stop when nothing is active.
	ErrNotPlaying = errors.New("no playback in progress")
	// ErrNotAudio rejects files whose content is not MPEG audio.
	ErrNotAudio = errors.New("not an mpeg audio file")
)

// State is the controller's playback state.
type State int

const (
	StateIdle State = iota
	StatePlaying
	StateStopRequested
)

// Output consumes playback frames in file order. Implementations pace
// themselves; the controller delivers frames as fast as the sink accepts
// them.
type Output interface {
	PlayFrame(p []byte) error
}

// Controller runs at most one playback task at a time.
type Controller struct {
	out   Output
	log   *slog.Logger
	frame int

	mu    sync.Mutex
	state State
	done  chan struct{}

	track string
}

// New builds a controller around an output sink.
func New(out Output, logger *slog.Logger) *Controller {
	return &Controller{
		out:   out,
		log:   logger,
		frame: DefaultFrameSize,
	}
}

// State returns the current playback state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start begins playing the file at path in a background goroutine. The file
// header must identify MPEG audio; a busy controller returns ErrBusy.
func (c *Controller) Start(path string) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrBusy
	}
	c.state = StatePlaying
	c.done = make(chan struct{})
	c.track = path
	c.mu.Unlock()

	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		c.finish()
		return fmt.Errorf("inspect %s: %w", path, err)
	}
	if !mtype.Is("audio/mpeg") {
		c.finish()
		return fmt.Errorf("%s is %s: %w", path, mtype.String(), ErrNotAudio)
	}

	f, err := os.Open(path)
	if err != nil {
		c.finish()
		return fmt.Errorf("open %s: %w", path, err)
	}

	c.log.Info("playback started", "track", path)
	go c.run(f)
	return nil
}

// Stop requests a cooperative stop and blocks until the playback goroutine
// exits. An idle controller returns ErrNotPlaying without blocking.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		return ErrNotPlaying
	}
	c.state = StateStopRequested
	done := c.done
	c.mu.Unlock()

	if done != nil {
		<-done
	}
	return nil
}

// run streams the file to the output until EOF, an output failure, or a
// requested stop.
func (c *Controller) run(f *os.File) {
	defer c.finish()
	defer f.Close()

	buf := make([]byte, c.frame)
	for {
		if c.stopRequested() {
			c.log.Info("playback stopped", "track", c.track)
			return
		}
		n, err := f.Read(buf)
		if n > 0 {
			if perr := c.out.PlayFrame(buf[:n]); perr != nil {
				c.log.Warn("output rejected frame", "track", c.track, "error", perr)
				return
			}
		}
		if err == io.EOF {
			c.log.Info("playback finished", "track", c.track)
			return
		}
		if err != nil {
			c.log.Warn("playback read failed", "track", c.track, "error", err)
			return
		}
	}
}

func (c *Controller) stopRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateStopRequested
}

// finish returns the controller to idle and releases anyone blocked in Stop.
func (c *Controller) finish() {
	c.mu.Lock()
	done := c.done
	c.state = StateIdle
	c.done = nil
	c.mu.Unlock()

	if done != nil {
		close(done)
	}
}
