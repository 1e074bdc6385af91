package main

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"regexp"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

const maxPhotoBytes = 10 << 20

var recordIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Receiver is the staff photo page endpoint that uploads are posted to.
// Photos are stored as <Dir>/<record>.jpg.
type Receiver struct {
	Dir  string
	Page string
}

func (r *Receiver) photoPath(record string) string {
	return filepath.Join(r.Dir, record+".jpg")
}

// App builds the fiber application serving the page.
func (r *Receiver) App() *fiber.App {
	app := fiber.New(fiber.Config{
		Immutable:             true,
		DisableStartupMessage: true,
		BodyLimit:             maxPhotoBytes + 1<<20,
		ErrorHandler:          jsonErrorHandler,
	})
	app.Get(r.Page, r.handleGet)
	app.Post(r.Page, r.handlePost)
	return app
}

func (r *Receiver) record(c *fiber.Ctx) (string, error) {
	record := c.Query(recordParam)
	if !recordIDPattern.MatchString(record) {
		return "", fiber.NewError(http.StatusBadRequest, "missing or invalid record id")
	}
	return record, nil
}

func (r *Receiver) handleGet(c *fiber.Ctx) error {
	record, err := r.record(c)
	if err != nil {
		return err
	}
	path := r.photoPath(record)
	if _, err := os.Stat(path); err != nil {
		return fiber.NewError(http.StatusNotFound, "no photo for record")
	}
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.SendFile(path)
}

func (r *Receiver) handlePost(c *fiber.Ctx) error {
	record, err := r.record(c)
	if err != nil {
		return err
	}
	form, err := c.MultipartForm()
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "expected a multipart form")
	}
	if ac := formValue(form, actionField); ac != submitAction {
		return fiber.NewError(http.StatusBadRequest, fmt.Sprintf("unknown action %q", ac))
	}
	if frn := formValue(form, recordParam); frn != record {
		return fiber.NewError(http.StatusBadRequest, "record id mismatch")
	}

	files := form.File[photoField]
	if len(files) == 0 {
		return fiber.NewError(http.StatusBadRequest, "missing photo")
	}
	fh := files[0]
	f, err := fh.Open()
	if err != nil {
		return fmt.Errorf("failed to open uploaded photo: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxPhotoBytes+1))
	if err != nil {
		return fmt.Errorf("failed to read uploaded photo: %w", err)
	}
	if len(data) > maxPhotoBytes {
		return fiber.NewError(http.StatusRequestEntityTooLarge, "photo too large")
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil || format != "jpeg" {
		return fiber.NewError(http.StatusBadRequest, "photo is not a jpeg")
	}

	if err := r.store(record, data); err != nil {
		return err
	}

	log.Ctx(c.Context()).Info().
		Str("record", record).
		Str("teacher", formValue(form, teacherField)).
		Str("filename", fh.Filename).
		Int("width", cfg.Width).
		Int("height", cfg.Height).
		Msg("photo stored")
	return c.SendStatus(http.StatusNoContent)
}

// formValue reads a field from the multipart body, ignoring the query.
func formValue(form *multipart.Form, key string) string {
	if v := form.Value[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// store replaces the photo atomically.
func (r *Receiver) store(record string, data []byte) error {
	if err := os.MkdirAll(r.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create photo directory %s: %w", r.Dir, err)
	}
	tmp, err := os.CreateTemp(r.Dir, record+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write photo: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write photo: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.photoPath(record)); err != nil {
		return fmt.Errorf("failed to store photo: %w", err)
	}
	return nil
}

// Run serves the receiver on addr until ctx is done.
func (r *Receiver) Run(ctx context.Context, addr string) error {
	return serve(ctx, r.App(), addr, func(url string) {
		log.Ctx(ctx).Info().Msgf("Receiving photos at %s%s", url, r.Page)
	})
}
