package main

import (
	"image"

	"github.com/disintegration/imaging"
)

// CenterCropRect returns the largest aspectW:aspectH rectangle centered
// in bounds. The longer axis is trimmed equally on both sides.
func CenterCropRect(bounds image.Rectangle, aspectW, aspectH int) image.Rectangle {
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 || aspectW <= 0 || aspectH <= 0 {
		return bounds
	}
	// Compare w/h against aspectW/aspectH without floating point.
	switch {
	case w*aspectH > h*aspectW:
		cw := h * aspectW / aspectH
		x := bounds.Min.X + (w-cw)/2
		return image.Rect(x, bounds.Min.Y, x+cw, bounds.Max.Y)
	case w*aspectH < h*aspectW:
		ch := w * aspectH / aspectW
		y := bounds.Min.Y + (h-ch)/2
		return image.Rect(bounds.Min.X, y, bounds.Max.X, y+ch)
	default:
		return bounds
	}
}

// PrepareCapture turns a raw camera frame into the bitmap a CropState is
// built from: center-cropped to the output aspect, mirrored for a
// user-facing camera and resized to the output frame.
func PrepareCapture(frame image.Image, out Frame, mirror bool) *image.NRGBA {
	rect := CenterCropRect(frame.Bounds(), out.Width, out.Height)
	img := imaging.Crop(frame, rect)
	if mirror {
		img = imaging.FlipH(img)
	}
	return imaging.Resize(img, out.Width, out.Height, imaging.Lanczos)
}
