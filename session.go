package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"
)

// ErrNoSource is returned by operations that need a loaded photo.
var ErrNoSource = errors.New("no photo loaded")

// CameraConfig binds facing modes to devices.
type CameraConfig struct {
	Devices    map[Facing]string
	MirrorUser bool
}

// PhotoUploader delivers the final JPEG.
type PhotoUploader interface {
	Upload(ctx context.Context, filename string, jpeg []byte) error
}

// PointerEvent is a pointer action on the crop area in frame pixels.
type PointerEvent struct {
	Type string  `json:"type"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// SessionState is what the page needs to draw its controls.
type SessionState struct {
	Loaded     bool       `json:"loaded"`
	SourceName string     `json:"source_name,omitempty"`
	Crop       *CropState `json:"crop,omitempty"`
	Dragging   bool       `json:"dragging"`
	Camera     bool       `json:"camera"`
	Facing     Facing     `json:"facing"`
	Generation uint64     `json:"generation"`
}

// Session is the single photo preview session of the widget. Every
// mutation bumps the generation so the preview is re-rendered lazily.
type Session struct {
	compositor *Compositor
	camera     Camera
	cameraCfg  CameraConfig
	uploader   PhotoUploader

	mu         sync.Mutex
	source     image.Image
	sourceName string
	crop       CropState
	facing     Facing
	live       LiveView
	generation uint64

	previewGen uint64
	preview    []byte
}

func NewSession(compositor *Compositor, camera Camera, cameraCfg CameraConfig, uploader PhotoUploader) *Session {
	return &Session{
		compositor: compositor,
		camera:     camera,
		cameraCfg:  cameraCfg,
		uploader:   uploader,
		facing:     FacingUser,
	}
}

// load replaces the source and starts a fresh CropState. Callers hold mu.
func (s *Session) load(img image.Image, name string) error {
	b := img.Bounds()
	crop, err := NewCropState(s.compositor.Frame, b.Dx(), b.Dy())
	if err != nil {
		return err
	}
	s.source = img
	s.sourceName = name
	s.crop = crop
	s.touch()
	return nil
}

func (s *Session) touch() {
	s.generation++
}

// LoadFile decodes a chosen file and makes it the source.
func (s *Session) LoadFile(ctx context.Context, r io.Reader, name string) error {
	img, err := DecodeSource(r, name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(img, filepath.Base(name)); err != nil {
		return err
	}
	log.Ctx(ctx).Info().
		Str("filename", name).
		Int("width", s.crop.NaturalWidth).
		Int("height", s.crop.NaturalHeight).
		Float64("scale", s.crop.Scale).
		Msg("photo loaded")
	return nil
}

// LoadLocal loads a photo from disk.
func (s *Session) LoadLocal(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file %s: %w", path, err)
	}
	defer f.Close()
	return s.LoadFile(ctx, f, path)
}

// StartCamera opens the device for the current facing mode and begins the
// live view. A failure leaves the session as it was.
func (s *Session) StartCamera(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startCamera(ctx, s.facing)
}

func (s *Session) startCamera(ctx context.Context, facing Facing) error {
	device, ok := s.cameraCfg.Devices[facing]
	if !ok {
		return fmt.Errorf("%w: no device for %s camera", ErrDeviceUnavailable, facing)
	}
	s.stopCamera(ctx)

	stream, err := s.camera.Open(ctx, device)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("device", device).Msg("error accessing camera")
		return err
	}
	s.facing = facing
	// The frame loop outlives the request that started it.
	s.live.Start(log.Ctx(ctx).WithContext(context.Background()), stream)
	s.touch()
	return nil
}

// FlipCamera switches between the user and environment cameras.
func (s *Session) FlipCamera(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startCamera(ctx, s.facing.Flip())
}

// StopCamera releases the camera without capturing.
func (s *Session) StopCamera(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopCamera(ctx)
}

func (s *Session) stopCamera(ctx context.Context) {
	stream := s.live.Stop()
	if stream == nil {
		return
	}
	if err := stream.Close(); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("failed to close camera")
	}
	s.touch()
}

func (s *Session) mirror() bool {
	return s.facing == FacingUser && s.cameraCfg.MirrorUser
}

// LiveFrame returns the latest camera frame, mirrored like the capture
// will be.
func (s *Session) LiveFrame() (image.Image, uint64, error) {
	img, seq := s.live.Latest()
	if img == nil {
		if !s.live.Running() {
			return nil, 0, fmt.Errorf("%w: camera not started", ErrDeviceUnavailable)
		}
		return nil, 0, nil
	}
	s.mu.Lock()
	mirror := s.mirror()
	s.mu.Unlock()
	if mirror {
		img = imaging.FlipH(img)
	}
	return img, seq, nil
}

// Capture takes the latest camera frame, stops the camera and makes the
// prepared frame the new source.
func (s *Session) Capture(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	frame, _ := s.live.Latest()
	if frame == nil {
		return fmt.Errorf("%w: no camera frame available", ErrDeviceUnavailable)
	}
	img := PrepareCapture(frame, s.compositor.Frame, s.mirror())
	s.stopCamera(ctx)
	if err := s.load(img, capturedName); err != nil {
		return err
	}
	log.Ctx(ctx).Info().Str("facing", string(s.facing)).Msg("camera frame captured")
	return nil
}

func (s *Session) withCrop(fn func(*CropState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.source == nil {
		return ErrNoSource
	}
	fn(&s.crop)
	s.touch()
	return nil
}

// Zoom sets the slider scale.
func (s *Session) Zoom(scale float64) error {
	return s.withCrop(func(c *CropState) { c.Zoom(scale) })
}

// Pointer feeds a pointer event into the pan state machine.
func (s *Session) Pointer(ev PointerEvent) error {
	var apply func(*CropState)
	switch ev.Type {
	case "down":
		apply = func(c *CropState) { c.BeginDrag(ev.X, ev.Y) }
	case "move":
		apply = func(c *CropState) { c.DragTo(ev.X, ev.Y) }
	case "up", "leave", "cancel":
		apply = func(c *CropState) { c.EndDrag() }
	default:
		return fmt.Errorf("unknown pointer event %q", ev.Type)
	}
	return s.withCrop(apply)
}

// Rotate turns the photo a quarter turn clockwise.
func (s *Session) Rotate() error {
	return s.withCrop(func(c *CropState) { c.Rotate() })
}

// ResetView returns the loaded photo to its cover-fit defaults.
func (s *Session) ResetView() error {
	return s.withCrop(func(c *CropState) { c.Reset() })
}

// Clear drops the loaded photo and releases the camera.
func (s *Session) Clear(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopCamera(ctx)
	s.clear()
}

func (s *Session) clear() {
	s.source = nil
	s.sourceName = ""
	s.crop = CropState{}
	s.preview = nil
	s.touch()
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := SessionState{
		Loaded:     s.source != nil,
		SourceName: s.sourceName,
		Camera:     s.live.Running(),
		Facing:     s.facing,
		Generation: s.generation,
	}
	if s.source != nil {
		crop := s.crop
		st.Crop = &crop
		st.Dragging = crop.Dragging()
	}
	return st
}

// Preview returns the JPEG preview for the current state, rendering it
// only when the state changed since the last call.
func (s *Session) Preview() ([]byte, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.source == nil {
		return nil, s.generation, ErrNoSource
	}
	if s.preview != nil && s.previewGen == s.generation {
		return s.preview, s.generation, nil
	}
	img, err := s.compositor.Render(s.source, s.crop, PreviewQuality)
	if err != nil {
		return nil, s.generation, err
	}
	var buf bytes.Buffer
	if err := EncodeJPEG(&buf, img); err != nil {
		return nil, s.generation, err
	}
	s.preview = buf.Bytes()
	s.previewGen = s.generation
	return s.preview, s.generation, nil
}

// Export composites the final photo and encodes it.
func (s *Session) Export() ([]byte, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.export()
}

func (s *Session) export() ([]byte, string, error) {
	if s.source == nil {
		return nil, "", ErrNoSource
	}
	img, err := s.compositor.Export(s.source, s.crop)
	if err != nil {
		return nil, "", err
	}
	var buf bytes.Buffer
	if err := EncodeJPEG(&buf, img); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), jpegName(s.sourceName), nil
}

// jpegName is the file name the exported photo is offered under.
func jpegName(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if base == "" {
		base = "photo"
	}
	return base + ".jpg"
}

// Submit uploads the exported photo. The session is cleared on success
// unless it changed while the upload was in flight, and kept as is on
// failure so the user can try again. The lock is not held during the
// upload.
func (s *Session) Submit(ctx context.Context) error {
	s.mu.Lock()
	data, name, err := s.export()
	gen := s.generation
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if err := s.uploader.Upload(ctx, name, data); err != nil {
		if !errors.Is(err, ErrUploadFailed) {
			err = fmt.Errorf("%w: %v", ErrUploadFailed, err)
		}
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation == gen {
		s.clear()
	} else {
		log.Ctx(ctx).Debug().Msg("session changed during upload, keeping it")
	}
	return nil
}

// Close releases the camera.
func (s *Session) Close(ctx context.Context) {
	s.StopCamera(ctx)
}
