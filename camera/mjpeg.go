package camera

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

const maxMJPEGFrame = 8 << 20

var errFrameTooLarge = errors.New("mjpeg frame exceeds limit")

// MJPEGReader splits a concatenated JPEG stream (ffmpeg image2pipe) into
// individual frames on SOI (FFD8) and EOI (FFD9) markers.
type MJPEGReader struct {
	r   *bufio.Reader
	max int
}

func NewMJPEGReader(r io.Reader) *MJPEGReader {
	return &MJPEGReader{r: bufio.NewReaderSize(r, 64<<10), max: maxMJPEGFrame}
}

// Next returns the next complete frame. Bytes before an SOI are skipped.
// A stream that ends mid-frame yields io.ErrUnexpectedEOF.
func (m *MJPEGReader) Next() ([]byte, error) {
	var prev byte
	for {
		b, err := m.r.ReadByte()
		if err != nil {
			return nil, err
		}
		if prev == 0xFF && b == 0xD8 {
			break
		}
		prev = b
	}

	frame := make([]byte, 2, 64<<10)
	frame[0], frame[1] = 0xFF, 0xD8
	prev = 0
	for {
		b, err := m.r.ReadByte()
		if err != nil {
			if err == io.EOF {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		frame = append(frame, b)
		if prev == 0xFF && b == 0xD9 {
			return frame, nil
		}
		prev = b
		if len(frame) > m.max {
			return nil, errFrameTooLarge
		}
	}
}

// ffmpegArgs builds a V4L2 capture that re-encodes to MJPEG on stdout.
func ffmpegArgs(device string, width, height, fps int) []string {
	if width <= 0 || height <= 0 {
		width, height = DefaultWidth, DefaultHeight
	}
	if fps <= 0 {
		fps = 15
	}
	return []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-thread_queue_size", "512", "-probesize", "32", "-analyzeduration", "0",
		"-f", "v4l2", "-input_format", "mjpeg",
		"-video_size", fmt.Sprintf("%dx%d", width, height),
		"-framerate", fmt.Sprintf("%d", fps),
		"-i", device,
		"-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "5", "-",
	}
}
