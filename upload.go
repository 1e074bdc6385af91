package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// ErrUploadFailed is returned when the photo endpoint does not accept the
// upload. It is never retried.
var ErrUploadFailed = errors.New("failed to upload the picture")

const (
	submitAction  = "submitteacherphoto"
	photoField    = "filename"
	recordParam   = "frn"
	teacherField  = "curtchrid"
	actionField   = "ac"
	capturedName  = "captured-image.jpg"
	uploadTimeout = 30 * time.Second
)

// Uploader posts finished photos to the staff photo page.
type Uploader struct {
	URL       string
	RecordID  string
	TeacherID string
	Timeout   time.Duration
}

// Endpoint is the page URL with the record query parameter set.
func (u *Uploader) Endpoint() (string, error) {
	if u.URL == "" {
		return "", fmt.Errorf("%w: no upload url configured", ErrUploadFailed)
	}
	target, err := url.Parse(u.URL)
	if err != nil {
		return "", fmt.Errorf("%w: invalid upload url: %v", ErrUploadFailed, err)
	}
	q := target.Query()
	q.Set(recordParam, u.RecordID)
	target.RawQuery = q.Encode()
	return target.String(), nil
}

// Upload sends the JPEG as multipart form data. Only a 2xx status counts
// as success.
func (u *Uploader) Upload(ctx context.Context, filename string, jpeg []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	endpoint, err := u.Endpoint()
	if err != nil {
		return err
	}

	timeout := u.Timeout
	if timeout <= 0 {
		timeout = uploadTimeout
	}
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}

	args := fiber.AcquireArgs()
	defer fiber.ReleaseArgs(args)
	args.Set(actionField, submitAction)
	args.Set(recordParam, u.RecordID)
	args.Set(teacherField, u.TeacherID)

	agent := fiber.Post(endpoint).Timeout(timeout)
	agent.FileData(&fiber.FormFile{
		Fieldname: photoField,
		Name:      filename,
		Content:   jpeg,
	})
	agent.MultipartForm(args)

	logger := log.Ctx(ctx).With().Str("endpoint", endpoint).Str("filename", filename).Logger()
	logger.Debug().Int("bytes", len(jpeg)).Msg("uploading photo")

	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		logger.Error().Errs("errors", errs).Msg("upload request failed")
		return fmt.Errorf("%w: %v", ErrUploadFailed, errors.Join(errs...))
	}
	if code < fiber.StatusOK || code >= fiber.StatusMultipleChoices {
		logger.Error().Int("status", code).Bytes("body", truncate(body, 256)).Msg("upload rejected")
		return fmt.Errorf("%w: status %d", ErrUploadFailed, code)
	}

	logger.Info().Int("status", code).Msg("photo uploaded")
	return nil
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
