package main

import (
	"fmt"
	"image"
	"image/color"
	"io"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

type Quality int

const (
	// PreviewQuality is used when re-rendering after every state change.
	PreviewQuality Quality = iota
	// ExportQuality is used for the image that gets uploaded.
	ExportQuality
)

func (q Quality) interpolator() draw.Interpolator {
	if q == ExportQuality {
		return draw.CatmullRom
	}
	return draw.ApproxBiLinear
}

// Compositor rasterizes a source bitmap through a CropState into an image
// of exactly Frame size.
type Compositor struct {
	Frame      Frame
	Background color.Color
}

func NewCompositor() *Compositor {
	return &Compositor{
		Frame:      OutputFrame,
		Background: color.White,
	}
}

// Render draws src scaled and offset by state, rotated clockwise by
// state.Rotation around the frame center. Parts of the frame the bitmap
// does not reach are left in the background color.
func (c *Compositor) Render(src image.Image, state CropState, q Quality) (*image.NRGBA, error) {
	if src == nil {
		return nil, ErrNoSource
	}
	if state.Scale <= 0 {
		return nil, fmt.Errorf("%w: scale %v", ErrInvalidDimensions, state.Scale)
	}
	dst := imaging.New(c.Frame.Width, c.Frame.Height, c.Background)
	sr := src.Bounds()
	q.interpolator().Transform(dst, c.transform(state, sr.Min), src, sr, draw.Over, nil)
	return dst, nil
}

// Export renders the final image for upload.
func (c *Compositor) Export(src image.Image, state CropState) (*image.NRGBA, error) {
	return c.Render(src, state, ExportQuality)
}

// transform maps source pixel coordinates to frame coordinates:
// p*scale + offset, then a rotation about the frame center.
func (c *Compositor) transform(state CropState, origin image.Point) f64.Aff3 {
	cos, sin := quarterTurn(state.Rotation)
	cx, cy := float64(c.Frame.Width)/2, float64(c.Frame.Height)/2
	s := state.Scale

	// Source bounds need not start at zero.
	tx := state.OffsetX - s*float64(origin.X) - cx
	ty := state.OffsetY - s*float64(origin.Y) - cy

	return f64.Aff3{
		cos * s, -sin * s, cos*tx - sin*ty + cx,
		sin * s, cos * s, sin*tx + cos*ty + cy,
	}
}

// quarterTurn returns exact cosine and sine for multiples of 90 degrees.
func quarterTurn(deg int) (cos, sin float64) {
	switch ((deg % 360) + 360) % 360 {
	case 90:
		return 0, 1
	case 180:
		return -1, 0
	case 270:
		return 0, -1
	default:
		return 1, 0
	}
}

// EncodeJPEG writes img as JPEG at the encoder's default quality.
func EncodeJPEG(w io.Writer, img image.Image) error {
	if err := imaging.Encode(w, img, imaging.JPEG); err != nil {
		return fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return nil
}
