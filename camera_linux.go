//go:build linux

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"strings"
	"time"

	"github.com/blackjack/webcam"
	"github.com/rs/zerolog/log"
)

const (
	pixelFormatYUYV  webcam.PixelFormat = 0x56595559 // 'YUYV'
	pixelFormatMJPEG webcam.PixelFormat = 0x47504A4D // 'MJPG'
)

// WebcamCamera opens V4L2 devices.
type WebcamCamera struct {
	Width        uint32
	Height       uint32
	FrameTimeout time.Duration
}

func NewWebcamCamera(width, height int) *WebcamCamera {
	return &WebcamCamera{
		Width:        uint32(width),
		Height:       uint32(height),
		FrameTimeout: time.Second,
	}
}

func (c *WebcamCamera) Open(ctx context.Context, device string) (Stream, error) {
	cam, err := webcam.Open(device)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("%w: %s: %v", ErrPermissionDenied, device, err)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, device, err)
	}

	format, ok := pickFormat(cam.GetSupportedFormats())
	if !ok {
		cam.Close()
		return nil, fmt.Errorf("%w: %s: no YUYV or MJPEG support", ErrDeviceUnavailable, device)
	}
	format, w, h, err := cam.SetImageFormat(format, c.Width, c.Height)
	if err != nil {
		cam.Close()
		return nil, fmt.Errorf("failed to set image format on %s: %w", device, err)
	}
	if err := cam.StartStreaming(); err != nil {
		cam.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, device, err)
	}

	log.Ctx(ctx).Info().
		Str("device", device).
		Uint32("width", w).
		Uint32("height", h).
		Msg("camera streaming")

	timeout := uint32(c.FrameTimeout / time.Second)
	if timeout == 0 {
		timeout = 1
	}
	return &webcamStream{
		cam:     cam,
		format:  format,
		width:   int(w),
		height:  int(h),
		timeout: timeout,
	}, nil
}

func pickFormat(formats map[webcam.PixelFormat]string) (webcam.PixelFormat, bool) {
	if _, ok := formats[pixelFormatYUYV]; ok {
		return pixelFormatYUYV, true
	}
	if _, ok := formats[pixelFormatMJPEG]; ok {
		return pixelFormatMJPEG, true
	}
	for f, desc := range formats {
		if strings.Contains(strings.ToUpper(desc), "JPEG") {
			return f, true
		}
	}
	return 0, false
}

type webcamStream struct {
	cam     *webcam.Webcam
	format  webcam.PixelFormat
	width   int
	height  int
	timeout uint32
}

func (s *webcamStream) Frame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.cam.WaitForFrame(s.timeout); err != nil {
		return nil, fmt.Errorf("failed to wait for frame: %w", err)
	}
	buf, err := s.cam.ReadFrame()
	if err != nil {
		return nil, fmt.Errorf("failed to read frame: %w", err)
	}
	if len(buf) == 0 {
		return nil, errors.New("empty frame")
	}
	if s.format == pixelFormatYUYV {
		return yuyvToYCbCr(buf, s.width, s.height)
	}
	img, _, err := image.Decode(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("failed to decode mjpeg frame: %w", err)
	}
	return img, nil
}

func (s *webcamStream) Size() (int, int) {
	return s.width, s.height
}

func (s *webcamStream) Close() error {
	if err := s.cam.StopStreaming(); err != nil {
		s.cam.Close()
		return err
	}
	return s.cam.Close()
}

func defaultCamera(width, height int) Camera {
	return NewWebcamCamera(width, height)
}
