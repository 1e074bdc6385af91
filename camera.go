package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

var (
	ErrPermissionDenied  = errors.New("camera permission denied")
	ErrDeviceUnavailable = errors.New("camera device unavailable")
)

// Camera opens video streams on a device.
type Camera interface {
	Open(ctx context.Context, device string) (Stream, error)
}

// Stream is an open camera. Frame blocks until the next frame is ready.
type Stream interface {
	Frame(ctx context.Context) (image.Image, error)
	Size() (width, height int)
	Close() error
}

type Facing string

const (
	FacingUser        Facing = "user"
	FacingEnvironment Facing = "environment"
)

func (f Facing) Flip() Facing {
	if f == FacingUser {
		return FacingEnvironment
	}
	return FacingUser
}

// LiveView keeps the latest frame of a stream while the stream is the
// active one. It stops as soon as the stream is released.
type LiveView struct {
	mu     sync.Mutex
	stream Stream
	latest image.Image
	seq    uint64
	wg     conc.WaitGroup
	cancel context.CancelFunc
}

// Start begins reading frames from stream. A previous stream is stopped
// and closed first.
func (v *LiveView) Start(ctx context.Context, stream Stream) {
	if prev := v.Stop(); prev != nil {
		if err := prev.Close(); err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("failed to close previous camera stream")
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	v.mu.Lock()
	v.stream = stream
	v.latest = nil
	v.cancel = cancel
	v.mu.Unlock()

	v.wg.Go(func() {
		v.run(ctx, stream)
	})
}

func (v *LiveView) run(ctx context.Context, stream Stream) {
	for v.active(stream) {
		frame, err := stream.Frame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Ctx(ctx).Debug().Err(err).Msg("camera frame skipped")
			select {
			case <-ctx.Done():
				return
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}
		v.mu.Lock()
		if v.stream == stream {
			v.latest = frame
			v.seq++
		}
		v.mu.Unlock()
	}
}

func (v *LiveView) active(stream Stream) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stream != nil && v.stream == stream
}

// Latest returns the most recent frame and its sequence number.
func (v *LiveView) Latest() (image.Image, uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.latest, v.seq
}

// Running reports whether a stream is attached.
func (v *LiveView) Running() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stream != nil
}

// Stop drops the stream, waits for the frame loop to exit and returns the
// released stream so the caller can close it. It returns nil when nothing
// was running.
func (v *LiveView) Stop() Stream {
	v.mu.Lock()
	stream := v.stream
	v.stream = nil
	v.latest = nil
	if v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
	v.mu.Unlock()

	v.wg.Wait()
	return stream
}

type unsupportedCamera struct{}

func (unsupportedCamera) Open(ctx context.Context, device string) (Stream, error) {
	return nil, fmt.Errorf("%w: %s: not supported on this platform", ErrDeviceUnavailable, device)
}

// yuyvToYCbCr wraps a packed YUYV 4:2:2 buffer as an image.
func yuyvToYCbCr(buf []byte, width, height int) (*image.YCbCr, error) {
	if width <= 0 || height <= 0 || width%2 != 0 {
		return nil, fmt.Errorf("%w: yuyv %dx%d", ErrInvalidDimensions, width, height)
	}
	if len(buf) < width*height*2 {
		return nil, fmt.Errorf("short yuyv frame: %d bytes for %dx%d", len(buf), width, height)
	}
	img := image.NewYCbCr(image.Rect(0, 0, width, height), image.YCbCrSubsampleRatio422)
	for y := 0; y < height; y++ {
		row := buf[y*width*2 : (y+1)*width*2]
		for x := 0; x < width; x += 2 {
			i := x * 2
			img.Y[y*img.YStride+x] = row[i]
			img.Y[y*img.YStride+x+1] = row[i+2]
			ci := y*img.CStride + x/2
			img.Cb[ci] = row[i+1]
			img.Cr[ci] = row[i+3]
		}
	}
	return img, nil
}
