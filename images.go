package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/png"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// ErrMalformedSource is returned for input that is not a decodable image.
var ErrMalformedSource = errors.New("source is not a supported image")

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp"}

type ImageInfo struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type FileInfo struct {
	Name       string    `json:"name"`
	SizeBytes  int64     `json:"size_bytes"`
	ModifiedAt time.Time `json:"modified_at"`
	URL        string    `json:"url"`
	Image      ImageInfo `json:"image"`
}

type Directory struct {
	Name  string     `json:"name"`
	Files []FileInfo `json:"files"`
}

func isImageFile(path string) bool {
	return slices.Contains(imageExtensions, strings.ToLower(filepath.Ext(path)))
}

// walkImages lists the photos under rootPath that can be used as a source.
// Files whose header cannot be read are skipped.
func walkImages(ctx context.Context, rootPath string) (Directory, error) {
	var files []FileInfo

	if err := filepath.WalkDir(rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isImageFile(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("failed to get file info: %w", err)
		}
		relPath, err := filepath.Rel(rootPath, path)
		if err != nil {
			return fmt.Errorf("failed to get relative path: %w", err)
		}
		files = append(files, FileInfo{
			Name:       filepath.ToSlash(relPath),
			SizeBytes:  info.Size(),
			ModifiedAt: info.ModTime(),
		})
		return nil
	}); err != nil {
		return Directory{}, err
	}

	kept := files[:0]
	for _, f := range files {
		w, h, err := probeDimensions(filepath.Join(rootPath, filepath.FromSlash(f.Name)))
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Str("filename", f.Name).Msg("cannot read image dimensions")
			continue
		}
		f.Image = ImageInfo{Width: w, Height: h}
		kept = append(kept, f)
	}

	return Directory{
		Name:  filepath.Base(rootPath),
		Files: kept,
	}, nil
}

// probeDimensions reads only the image header.
func probeDimensions(path string) (width, height int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(bufio.NewReader(f))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrMalformedSource, err)
	}
	return cfg.Width, cfg.Height, nil
}

// DecodeSource decodes a user-supplied photo. The content is sniffed
// before decoding so that non-image uploads fail fast, and EXIF
// orientation is applied.
func DecodeSource(r io.Reader, name string) (image.Image, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(512)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if len(head) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrMalformedSource, name)
	}
	if ct := http.DetectContentType(head); !strings.HasPrefix(ct, "image/") {
		return nil, fmt.Errorf("%w: %s has content type %s", ErrMalformedSource, name, ct)
	}

	img, err := imaging.Decode(br, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedSource, name, err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("%w: %s has no pixels", ErrMalformedSource, name)
	}
	return img, nil
}
