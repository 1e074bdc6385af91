package main

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeStream hands out the same frame until closed.
type fakeStream struct {
	frame  image.Image
	frames atomic.Int64
	closed atomic.Bool
	delay  time.Duration
}

func (s *fakeStream) Frame(ctx context.Context) (image.Image, error) {
	if s.closed.Load() {
		return nil, errors.New("read from closed stream")
	}
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	s.frames.Add(1)
	return s.frame, nil
}

func (s *fakeStream) Size() (int, int) {
	b := s.frame.Bounds()
	return b.Dx(), b.Dy()
}

func (s *fakeStream) Close() error {
	s.closed.Store(true)
	return nil
}

type fakeCamera struct {
	mu      sync.Mutex
	frame   image.Image
	err     error
	opened  []string
	streams []*fakeStream
}

func (c *fakeCamera) Open(ctx context.Context, device string) (Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	s := &fakeStream{frame: c.frame, delay: time.Millisecond}
	c.opened = append(c.opened, device)
	c.streams = append(c.streams, s)
	return s, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestLiveViewStopsWhenTokenDropped(t *testing.T) {
	stream := &fakeStream{frame: createQuadrantImage(64, 48), delay: time.Millisecond}
	var v LiveView
	v.Start(context.Background(), stream)

	waitFor(t, func() bool {
		img, _ := v.Latest()
		return img != nil
	})
	if !v.Running() {
		t.Fatal("live view not running")
	}

	released := v.Stop()
	if released != stream {
		t.Fatalf("Stop returned %v, want the started stream", released)
	}
	n := stream.frames.Load()
	time.Sleep(20 * time.Millisecond)
	if got := stream.frames.Load(); got != n {
		t.Errorf("frames read after stop: %d -> %d", n, got)
	}
	if img, _ := v.Latest(); img != nil {
		t.Error("latest frame kept after stop")
	}
	if v.Running() {
		t.Error("still running after stop")
	}
	if v.Stop() != nil {
		t.Error("second Stop returned a stream")
	}
}

func TestLiveViewRestartReleasesPrevious(t *testing.T) {
	first := &fakeStream{frame: createQuadrantImage(8, 8), delay: time.Millisecond}
	second := &fakeStream{frame: createQuadrantImage(16, 16), delay: time.Millisecond}
	var v LiveView
	v.Start(context.Background(), first)
	v.Start(context.Background(), second)
	defer v.Stop()

	waitFor(t, func() bool {
		img, _ := v.Latest()
		return img != nil && img.Bounds().Dx() == 16
	})
	if !first.closed.Load() {
		t.Error("first stream not closed on restart")
	}
	n := first.frames.Load()
	time.Sleep(10 * time.Millisecond)
	if first.frames.Load() != n {
		t.Error("first stream still read after restart")
	}
}

func TestFacingFlip(t *testing.T) {
	if FacingUser.Flip() != FacingEnvironment || FacingEnvironment.Flip() != FacingUser {
		t.Error("Flip does not toggle")
	}
}

func TestYUYVToYCbCr(t *testing.T) {
	// Each row is a black and a white pixel sharing neutral chroma.
	buf := []byte{0, 128, 255, 128, 0, 128, 255, 128}
	img, err := yuyvToYCbCr(buf, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	r0, _, _, _ := img.At(0, 0).RGBA()
	r1, _, _, _ := img.At(1, 1).RGBA()
	if r0>>8 > 10 {
		t.Errorf("dark pixel r = %d", r0>>8)
	}
	if r1>>8 < 240 {
		t.Errorf("bright pixel r = %d", r1>>8)
	}

	if _, err := yuyvToYCbCr(buf[:4], 2, 2); err == nil {
		t.Error("expected short frame error")
	}
	if _, err := yuyvToYCbCr(buf, 3, 1); !errors.Is(err, ErrInvalidDimensions) {
		t.Errorf("odd width err = %v", err)
	}
}

func TestUnsupportedCamera(t *testing.T) {
	_, err := unsupportedCamera{}.Open(context.Background(), "/dev/video0")
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("err = %v, want ErrDeviceUnavailable", err)
	}
}
