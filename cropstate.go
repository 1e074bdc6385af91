package main

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidDimensions is returned when a source bitmap has no area.
var ErrInvalidDimensions = errors.New("invalid image dimensions")

// Frame is the size of the output image in pixels.
type Frame struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// OutputFrame is the fixed 5:6 destination of every exported photo.
var OutputFrame = Frame{Width: 360, Height: 432}

const defaultMaxScale = 3.0

// View is the user-controlled part of a CropState.
type View struct {
	Rotation int     `json:"rotation"`
	Scale    float64 `json:"scale"`
	OffsetX  float64 `json:"offset_x"`
	OffsetY  float64 `json:"offset_y"`
}

func (v View) String() string {
	return fmt.Sprintf("view(r=%d,s=%.4f,x=%.2f,y=%.2f)", v.Rotation, v.Scale, v.OffsetX, v.OffsetY)
}

// CropState tracks zoom, pan and rotation of the previewed source against
// the output frame. Offsets are the top-left corner of the scaled bitmap
// in frame coordinates.
type CropState struct {
	Frame         Frame   `json:"frame"`
	NaturalWidth  int     `json:"natural_width"`
	NaturalHeight int     `json:"natural_height"`
	Scale         float64 `json:"scale"`
	MinScale      float64 `json:"min_scale"`
	MaxScale      float64 `json:"max_scale"`
	OffsetX       float64 `json:"offset_x"`
	OffsetY       float64 `json:"offset_y"`
	Rotation      int     `json:"rotation"`

	dragging   bool
	dragStartX float64
	dragStartY float64
	imgStartX  float64
	imgStartY  float64
}

// NewCropState fits a naturalW x naturalH bitmap so that it covers frame
// and centers it.
func NewCropState(frame Frame, naturalW, naturalH int) (CropState, error) {
	if naturalW <= 0 || naturalH <= 0 {
		return CropState{}, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, naturalW, naturalH)
	}
	if frame.Width <= 0 || frame.Height <= 0 {
		return CropState{}, fmt.Errorf("%w: frame %dx%d", ErrInvalidDimensions, frame.Width, frame.Height)
	}
	s := CropState{
		Frame:         frame,
		NaturalWidth:  naturalW,
		NaturalHeight: naturalH,
	}
	s.Reset()
	return s, nil
}

// Reset restores the cover-fit defaults and rotation 0.
func (s *CropState) Reset() {
	fw, fh := float64(s.Frame.Width), float64(s.Frame.Height)
	nw, nh := float64(s.NaturalWidth), float64(s.NaturalHeight)

	s.MinScale = math.Max(fw/nw, fh/nh)
	s.MaxScale = math.Max(defaultMaxScale, s.MinScale)
	s.Scale = s.MinScale
	s.OffsetX = (fw - nw*s.Scale) / 2
	s.OffsetY = (fh - nh*s.Scale) / 2
	s.Rotation = 0
	s.dragging = false
}

// Zoom changes the scale while keeping the point under the frame center
// fixed. Offsets are not clamped afterwards, so zooming out can leave
// the frame partially uncovered until the next drag.
func (s *CropState) Zoom(newScale float64) {
	newScale = math.Min(math.Max(newScale, s.MinScale), s.MaxScale)
	old := s.Scale
	if newScale == old {
		return
	}
	centerX := float64(s.Frame.Width)/2 - s.OffsetX
	centerY := float64(s.Frame.Height)/2 - s.OffsetY
	s.OffsetX -= (newScale - old) * (centerX / old)
	s.OffsetY -= (newScale - old) * (centerY / old)
	s.Scale = newScale
}

// BeginDrag anchors a pan at pointer position (x, y).
func (s *CropState) BeginDrag(x, y float64) {
	s.dragging = true
	s.dragStartX, s.dragStartY = x, y
	s.imgStartX, s.imgStartY = s.OffsetX, s.OffsetY
}

// DragTo moves the bitmap with the pointer. It does nothing unless a drag
// is active.
func (s *CropState) DragTo(x, y float64) {
	if !s.dragging {
		return
	}
	minX, minY := s.minOffsets()
	s.OffsetX = clamp(s.imgStartX+(x-s.dragStartX), minX, 0)
	s.OffsetY = clamp(s.imgStartY+(y-s.dragStartY), minY, 0)
}

// EndDrag finishes a pan started with BeginDrag.
func (s *CropState) EndDrag() {
	s.dragging = false
}

func (s *CropState) Dragging() bool {
	return s.dragging
}

// Rotate advances the rotation by a quarter turn clockwise.
func (s *CropState) Rotate() {
	s.Rotation = (s.Rotation + 90) % 360
}

// Covers reports whether the scaled bitmap fills the whole frame.
func (s CropState) Covers() bool {
	const eps = 1e-9
	minX, minY := s.minOffsets()
	return s.OffsetX <= eps && s.OffsetY <= eps &&
		s.OffsetX >= minX-eps && s.OffsetY >= minY-eps
}

// SourceRect is the region of the natural bitmap visible in the frame,
// before rotation.
func (s CropState) SourceRect() (x, y, w, h float64) {
	return -s.OffsetX / s.Scale, -s.OffsetY / s.Scale,
		float64(s.Frame.Width) / s.Scale, float64(s.Frame.Height) / s.Scale
}

func (s CropState) View() View {
	return View{
		Rotation: s.Rotation,
		Scale:    s.Scale,
		OffsetX:  s.OffsetX,
		OffsetY:  s.OffsetY,
	}
}

// Apply replaces rotation, scale and offsets with v. Scale is bounded to
// the zoom range, rotation is normalized to a multiple of 90 and the
// offsets are clamped so the result always covers the frame.
func (s *CropState) Apply(v View) error {
	if v.Rotation%90 != 0 {
		return fmt.Errorf("rotation must be a multiple of 90, got %d", v.Rotation)
	}
	s.Rotation = ((v.Rotation % 360) + 360) % 360
	if v.Scale > 0 {
		s.Scale = math.Min(math.Max(v.Scale, s.MinScale), s.MaxScale)
	}
	minX, minY := s.minOffsets()
	s.OffsetX = clamp(v.OffsetX, minX, 0)
	s.OffsetY = clamp(v.OffsetY, minY, 0)
	s.dragging = false
	return nil
}

func (s CropState) minOffsets() (float64, float64) {
	return float64(s.Frame.Width) - float64(s.NaturalWidth)*s.Scale,
		float64(s.Frame.Height) - float64(s.NaturalHeight)*s.Scale
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
