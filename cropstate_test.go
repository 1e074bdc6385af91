package main

import (
	"errors"
	"math"
	"testing"
)

const tolerance = 1e-9

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) <= tolerance*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

func mustCropState(t *testing.T, w, h int) CropState {
	t.Helper()
	s, err := NewCropState(OutputFrame, w, h)
	if err != nil {
		t.Fatalf("NewCropState(%d, %d): %v", w, h, err)
	}
	return s
}

func TestNewCropStateSquareSource(t *testing.T) {
	s := mustCropState(t, 1000, 1000)

	if !almostEqual(s.MinScale, 0.432) {
		t.Errorf("MinScale = %v, want 0.432", s.MinScale)
	}
	if s.Scale != s.MinScale {
		t.Errorf("Scale = %v, want MinScale %v", s.Scale, s.MinScale)
	}
	if s.MaxScale != 3 {
		t.Errorf("MaxScale = %v, want 3", s.MaxScale)
	}
	if !almostEqual(s.OffsetX, -36) {
		t.Errorf("OffsetX = %v, want -36", s.OffsetX)
	}
	if !almostEqual(s.OffsetY, 0) {
		t.Errorf("OffsetY = %v, want 0", s.OffsetY)
	}
	if s.Rotation != 0 {
		t.Errorf("Rotation = %d, want 0", s.Rotation)
	}
}

func TestNewCropStateCovers(t *testing.T) {
	sizes := [][2]int{
		{1, 1}, {10, 4000}, {4000, 10}, {360, 432}, {100, 120},
		{640, 480}, {1920, 1080}, {1080, 1920}, {359, 433}, {3000, 3000},
	}
	for _, sz := range sizes {
		s := mustCropState(t, sz[0], sz[1])
		want := math.Max(360/float64(sz[0]), 432/float64(sz[1]))
		if !almostEqual(s.MinScale, want) {
			t.Errorf("%dx%d: MinScale = %v, want %v", sz[0], sz[1], s.MinScale, want)
		}
		if s.MaxScale < s.MinScale || s.MaxScale < 3 {
			t.Errorf("%dx%d: MaxScale = %v", sz[0], sz[1], s.MaxScale)
		}
		if !s.Covers() {
			t.Errorf("%dx%d: state does not cover frame: %+v", sz[0], sz[1], s)
		}
	}
}

func TestNewCropStateTinySourceRaisesMaxScale(t *testing.T) {
	s := mustCropState(t, 10, 10)
	if !almostEqual(s.MinScale, 43.2) {
		t.Fatalf("MinScale = %v, want 43.2", s.MinScale)
	}
	if s.MaxScale != s.MinScale {
		t.Errorf("MaxScale = %v, want %v", s.MaxScale, s.MinScale)
	}
}

func TestNewCropStateInvalid(t *testing.T) {
	for _, sz := range [][2]int{{0, 10}, {10, 0}, {-1, 5}} {
		if _, err := NewCropState(OutputFrame, sz[0], sz[1]); !errors.Is(err, ErrInvalidDimensions) {
			t.Errorf("%v: err = %v, want ErrInvalidDimensions", sz, err)
		}
	}
}

func TestRotateFourTimesIsIdentity(t *testing.T) {
	s := mustCropState(t, 800, 600)
	before := s.View()
	seen := []int{}
	for i := 0; i < 4; i++ {
		s.Rotate()
		seen = append(seen, s.Rotation)
	}
	want := []int{90, 180, 270, 0}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("rotations = %v, want %v", seen, want)
		}
	}
	if s.View() != before {
		t.Errorf("view changed after full turn: %v != %v", s.View(), before)
	}
}

func TestRotateKeepsPanAndZoom(t *testing.T) {
	s := mustCropState(t, 800, 600)
	s.Zoom(1.5)
	s.BeginDrag(0, 0)
	s.DragTo(-40, -25)
	s.EndDrag()
	scale, x, y := s.Scale, s.OffsetX, s.OffsetY

	s.Rotate()
	if s.Scale != scale || s.OffsetX != x || s.OffsetY != y {
		t.Errorf("rotate changed geometry: %+v", s)
	}
}

func TestDragClampsToCover(t *testing.T) {
	deltas := [][2]float64{
		{0, 0}, {1e6, 1e6}, {-1e6, -1e6}, {50, -50}, {-3, 7}, {400, 0}, {0, -900},
	}
	for _, scale := range []float64{0, 0.8, 1.7, 3} {
		for _, d := range deltas {
			s := mustCropState(t, 1200, 900)
			s.Zoom(scale)
			s.BeginDrag(100, 100)
			s.DragTo(100+d[0], 100+d[1])
			if !s.Covers() {
				t.Errorf("scale %v delta %v: not covering: x=%v y=%v", s.Scale, d, s.OffsetX, s.OffsetY)
			}
			s.EndDrag()
		}
	}
}

func TestDragFollowsPointerWithinBounds(t *testing.T) {
	s := mustCropState(t, 1000, 1000)
	s.BeginDrag(10, 10)
	s.DragTo(30, 10)
	if !almostEqual(s.OffsetX, -16) {
		t.Errorf("OffsetX = %v, want -16", s.OffsetX)
	}
	s.DragTo(-5, 10)
	if !almostEqual(s.OffsetX, -51) {
		t.Errorf("OffsetX = %v, want -51", s.OffsetX)
	}
	s.EndDrag()
	if s.Dragging() {
		t.Error("still dragging after EndDrag")
	}
}

func TestDragToWhileIdleIsNoop(t *testing.T) {
	s := mustCropState(t, 1000, 1000)
	before := s.View()
	s.DragTo(500, 500)
	if s.View() != before {
		t.Errorf("idle DragTo moved the bitmap: %v", s.View())
	}
}

func TestZoomRoundTripRestoresOffsets(t *testing.T) {
	for _, sz := range [][2]int{{1000, 1000}, {640, 480}, {1080, 1920}, {123, 4567}} {
		s := mustCropState(t, sz[0], sz[1])
		x, y := s.OffsetX, s.OffsetY
		s.Zoom(2 * s.MinScale)
		s.Zoom(s.MinScale)
		if math.Abs(s.OffsetX-x) > 1e-6 || math.Abs(s.OffsetY-y) > 1e-6 {
			t.Errorf("%v: offsets (%v, %v), want (%v, %v)", sz, s.OffsetX, s.OffsetY, x, y)
		}
	}
}

func TestZoomKeepsFrameCenterFixed(t *testing.T) {
	s := mustCropState(t, 1000, 1000)
	centerSrc := func() (float64, float64) {
		return (180 - s.OffsetX) / s.Scale, (216 - s.OffsetY) / s.Scale
	}
	bx, by := centerSrc()
	s.Zoom(1.9)
	ax, ay := centerSrc()
	if !almostEqual(ax, bx) || !almostEqual(ay, by) {
		t.Errorf("center moved from (%v, %v) to (%v, %v)", bx, by, ax, ay)
	}
}

func TestZoomIsBoundedBySlider(t *testing.T) {
	s := mustCropState(t, 1000, 1000)
	s.Zoom(99)
	if s.Scale != s.MaxScale {
		t.Errorf("Scale = %v, want %v", s.Scale, s.MaxScale)
	}
	s.Zoom(0.01)
	if s.Scale != s.MinScale {
		t.Errorf("Scale = %v, want %v", s.Scale, s.MinScale)
	}
}

func TestZoomOutAfterPanDoesNotClamp(t *testing.T) {
	s := mustCropState(t, 1000, 1000)
	s.Zoom(3)
	s.BeginDrag(0, 0)
	s.DragTo(-1e6, -1e6)
	s.EndDrag()
	s.Zoom(s.MinScale)
	if s.Covers() {
		t.Skip("zoom-out happened to stay within bounds")
	}
	// The next drag restores the cover invariant.
	s.BeginDrag(0, 0)
	s.DragTo(0, 0)
	s.EndDrag()
	if !s.Covers() {
		t.Errorf("drag did not restore cover: %+v", s)
	}
}

func TestResetRestoresDefaults(t *testing.T) {
	s := mustCropState(t, 640, 480)
	initial := s.View()
	s.Zoom(2)
	s.Rotate()
	s.BeginDrag(0, 0)
	s.DragTo(-10, -10)
	s.Reset()
	if s.View() != initial {
		t.Errorf("Reset view = %v, want %v", s.View(), initial)
	}
	if s.Dragging() {
		t.Error("Reset left drag active")
	}
}

func TestSourceRect(t *testing.T) {
	s := mustCropState(t, 1000, 1000)
	x, y, w, h := s.SourceRect()
	if !almostEqual(x, 36/0.432) || !almostEqual(y, 0) {
		t.Errorf("origin = (%v, %v)", x, y)
	}
	if !almostEqual(w, 360/0.432) || !almostEqual(h, 1000) {
		t.Errorf("size = (%v, %v)", w, h)
	}
}

func TestApplyView(t *testing.T) {
	s := mustCropState(t, 1000, 1000)
	if err := s.Apply(View{Rotation: -90, Scale: 1, OffsetX: 50, OffsetY: -5000}); err != nil {
		t.Fatal(err)
	}
	if s.Rotation != 270 {
		t.Errorf("Rotation = %d, want 270", s.Rotation)
	}
	if s.Scale != 1 {
		t.Errorf("Scale = %v, want 1", s.Scale)
	}
	if s.OffsetX != 0 || s.OffsetY != 432-1000 {
		t.Errorf("offsets = (%v, %v)", s.OffsetX, s.OffsetY)
	}
	if err := s.Apply(View{Rotation: 45}); err == nil {
		t.Error("expected error for rotation 45")
	}
}
