package main

import (
	"bufio"
	"bytes"
	"context"
	"crypto/md5"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
)

type Operations = []Operation

// Operation is one offline composite job.
type Operation struct {
	Fit     *FitOperation
	Compose *ComposeOperation
}

func (o *Operation) UnmarshalJSON(data []byte) error {
	var op struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &op); err != nil {
		return fmt.Errorf("failed to unmarshal operation: %w", err)
	}

	switch op.Type {
	case "fit":
		var fit FitOperation
		if err := json.Unmarshal(data, &fit); err != nil {
			return fmt.Errorf("failed to unmarshal fit operation: %w", err)
		}
		o.Fit = &fit
	case "compose":
		var compose ComposeOperation
		if err := json.Unmarshal(data, &compose); err != nil {
			return fmt.Errorf("failed to unmarshal compose operation: %w", err)
		}
		o.Compose = &compose
	default:
		return fmt.Errorf("unknown operation %q", op.Type)
	}
	return nil
}

func (o Operation) MarshalJSON() ([]byte, error) {
	switch {
	case o.Fit != nil:
		return json.Marshal(struct {
			Type string `json:"type"`
			FitOperation
		}{"fit", *o.Fit})
	case o.Compose != nil:
		return json.Marshal(struct {
			Type string `json:"type"`
			ComposeOperation
		}{"compose", *o.Compose})
	}
	return nil, errors.New("empty operation")
}

// FitOperation exports a photo at its cover-fit defaults, optionally
// rotated.
type FitOperation struct {
	Filename string `json:"filename"`
	Rotation int    `json:"rotation,omitempty"`
}

// ComposeOperation exports a photo with an explicit view.
type ComposeOperation struct {
	Filename string `json:"filename"`
	View     View   `json:"view"`
}

// ViewID names the output of a view deterministically.
func ViewID(v View) string {
	m := md5.New()
	_, _ = m.Write([]byte(v.String()))
	return fmt.Sprintf("%x", m.Sum(nil))[:12]
}

// ReadOperations parses JSON lines. Blank lines are skipped.
func ReadOperations(r io.Reader) (Operations, error) {
	var ops Operations
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var op Operation
		if err := json.Unmarshal([]byte(text), &op); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		ops = append(ops, op)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read operations: %w", err)
	}
	return ops, nil
}

type OperationExecutor struct {
	BaseDir    string
	OutputDir  string
	Compositor *Compositor
}

func (r OperationExecutor) Exec(ctx context.Context, ops Operations) error {
	if len(ops) == 0 {
		log.Ctx(ctx).Warn().Msg("no operations to execute")
		return nil
	}

	pooler := pool.New().WithErrors().WithContext(ctx).WithMaxGoroutines(runtime.NumCPU())

	if err := os.MkdirAll(r.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", r.OutputDir, err)
	}
	for _, op := range ops {
		op := op
		pooler.Go(func(ctx context.Context) error {
			if err := r.executeOperation(ctx, op); err != nil {
				log.Ctx(ctx).Error().Err(err).
					Interface("op", op).
					Msg("failed to execute operation")
				return err
			}
			return nil
		})
	}

	if err := pooler.Wait(); err != nil {
		log.Ctx(ctx).Error().
			Err(err).
			Msg("finished with errors")
		return err
	}

	return nil
}

func (r OperationExecutor) executeOperation(ctx context.Context, op Operation) error {
	switch {
	case op.Fit != nil:
		return r.compose(ctx, op.Fit.Filename, func(s *CropState) error {
			return s.Apply(View{Rotation: op.Fit.Rotation, Scale: s.Scale, OffsetX: s.OffsetX, OffsetY: s.OffsetY})
		})
	case op.Compose != nil:
		return r.compose(ctx, op.Compose.Filename, func(s *CropState) error {
			return s.Apply(op.Compose.View)
		})
	}
	return nil
}

func (r OperationExecutor) compose(ctx context.Context, filename string, adjust func(*CropState) error) error {
	log.Ctx(ctx).Info().Str("filename", filename).Msg("composing")
	sourcePath := filepath.Join(r.BaseDir, filename)
	f, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("failed to open file %s: %w", sourcePath, err)
	}
	defer f.Close()

	src, err := DecodeSource(f, filename)
	if err != nil {
		return err
	}
	b := src.Bounds()
	state, err := NewCropState(r.Compositor.Frame, b.Dx(), b.Dy())
	if err != nil {
		return err
	}
	if err := adjust(&state); err != nil {
		return fmt.Errorf("%s: %w", filename, err)
	}
	img, err := r.Compositor.Export(src, state)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := EncodeJPEG(&buf, img); err != nil {
		return err
	}

	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	newName := fmt.Sprintf("%s-%s.jpg", base, ViewID(state.View()))
	outPath := filepath.Join(r.OutputDir, newName)
	if err := os.WriteFile(outPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write composed file %s: %w", newName, err)
	}
	return nil
}
