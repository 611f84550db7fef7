package player

import (
	"io"
	"time"
)

// DefaultBytesPerSec paces output at roughly a 128 kbit/s MP3's realtime
// playback rate.
const DefaultBytesPerSec = 16 * 1024

// PacedOutput simulates an audio device by rate-limiting frame delivery.
// Frames are optionally copied to a writer, then the output sleeps for the
// wall-clock duration the frame would occupy at the configured byte rate.
type PacedOutput struct {
	w    io.Writer
	rate int
}

// NewPacedOutput builds a paced sink. w may be nil to discard the audio
// bytes; rate values below one fall back to DefaultBytesPerSec.
func NewPacedOutput(w io.Writer, bytesPerSec int) *PacedOutput {
	if bytesPerSec < 1 {
		bytesPerSec = DefaultBytesPerSec
	}
	return &PacedOutput{w: w, rate: bytesPerSec}
}

func (o *PacedOutput) PlayFrame(p []byte) error {
	if o.w != nil {
		if _, err := o.w.Write(p); err != nil {
			return err
		}
	}
	time.Sleep(time.Duration(float64(len(p)) / float64(o.rate) * float64(time.Second)))
	return nil
}
