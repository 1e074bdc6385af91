package main

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/filesystem"
	"github.com/rs/zerolog/log"
)

//go:embed static
var staticFS embed.FS
var isDebug = os.Getenv("DEBUG") == "1"

type Config struct {
	RootDir          string
	Addr             string
	Session          *Session
	OnBeforeShutdown func()
	OnReady          func(addr string)
	OnSubmit         func()
}

type WebApp struct {
	config       Config
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

func NewWebApp(config Config) *WebApp {
	if config.Addr == "" {
		config.Addr = "localhost:0"
	}
	return &WebApp{
		config:     config,
		shutdownCh: make(chan struct{}),
	}
}

func (a *WebApp) Shutdown() {
	a.shutdownOnce.Do(func() {
		close(a.shutdownCh)
	})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrMalformedSource):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ErrNoSource):
		return http.StatusConflict
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrDeviceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrUploadFailed):
		return http.StatusBadGateway
	case errors.Is(err, ErrInvalidDimensions):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func jsonErrorHandler(c *fiber.Ctx, err error) error {
	log.Ctx(c.UserContext()).Error().
		Err(err).
		Str("path", c.Path()).
		Str("method", c.Method()).
		Msg("Request failed")
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		if fiberErr.Code == http.StatusNotFound && c.Path() == "/favicon.ico" {
			return nil
		}
		return c.Status(fiberErr.Code).JSON(fiber.Map{"error": fiberErr.Message})
	}
	if code := statusFor(err); code != http.StatusInternalServerError {
		return c.Status(code).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "Internal Server Error"})
}

// App builds the widget application. Requests carry ctx as their user
// context so long running work stops with the server.
func (a *WebApp) App(ctx context.Context) *fiber.App {
	webapp := fiber.New(fiber.Config{
		Immutable:             true,
		DisableStartupMessage: true,
		BodyLimit:             maxPhotoBytes * 4,
		ErrorHandler:          jsonErrorHandler,
	})
	webapp.Use(func(c *fiber.Ctx) error {
		c.SetUserContext(ctx)
		return c.Next()
	})

	session := a.config.Session
	state := func(c *fiber.Ctx) error {
		return c.JSON(session.State())
	}
	mutate := func(fn func(c *fiber.Ctx) error) fiber.Handler {
		return func(c *fiber.Ctx) error {
			if err := fn(c); err != nil {
				return err
			}
			return state(c)
		}
	}

	filesRoot := http.Dir(a.config.RootDir)
	webapp.Get("/api/view", func(c *fiber.Ctx) error {
		filePath := c.Query("file")
		return filesystem.SendFile(c, filesRoot, filePath)
	})

	webapp.Get("/api/ls", func(c *fiber.Ctx) error {
		dir, err := walkImages(c.UserContext(), a.config.RootDir)
		if err != nil {
			return fmt.Errorf("failed to walk dir: %w", err)
		}
		for i := range dir.Files {
			dir.Files[i].URL = "/api/view?file=" + url.QueryEscape(dir.Files[i].Name)
		}
		return c.JSON(dir)
	})

	webapp.Get("/api/state", state)

	webapp.Post("/api/source", mutate(func(c *fiber.Ctx) error {
		fh, err := c.FormFile("file")
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "missing file")
		}
		f, err := fh.Open()
		if err != nil {
			return fmt.Errorf("failed to open upload: %w", err)
		}
		defer f.Close()
		return session.LoadFile(c.UserContext(), f, fh.Filename)
	}))

	webapp.Post("/api/source/local", mutate(func(c *fiber.Ctx) error {
		var request struct {
			File string `json:"file"`
		}
		if err := c.BodyParser(&request); err != nil {
			return err
		}
		if request.File == "" {
			return fiber.NewError(http.StatusBadRequest, "missing file")
		}
		path := filepath.Join(a.config.RootDir, filepath.FromSlash(filepath.Clean("/"+request.File)))
		return session.LoadLocal(c.UserContext(), path)
	}))

	webapp.Post("/api/camera/start", mutate(func(c *fiber.Ctx) error {
		return session.StartCamera(c.UserContext())
	}))
	webapp.Post("/api/camera/flip", mutate(func(c *fiber.Ctx) error {
		return session.FlipCamera(c.UserContext())
	}))
	webapp.Post("/api/camera/stop", mutate(func(c *fiber.Ctx) error {
		session.StopCamera(c.UserContext())
		return nil
	}))
	webapp.Post("/api/camera/capture", mutate(func(c *fiber.Ctx) error {
		return session.Capture(c.UserContext())
	}))
	webapp.Get("/api/camera/frame", func(c *fiber.Ctx) error {
		img, seq, err := session.LiveFrame()
		if err != nil {
			return err
		}
		if img == nil {
			return c.SendStatus(http.StatusNoContent)
		}
		var buf bytes.Buffer
		if err := EncodeJPEG(&buf, img); err != nil {
			return err
		}
		c.Set("X-Frame-Seq", strconv.FormatUint(seq, 10))
		c.Set(fiber.HeaderCacheControl, "no-store")
		c.Type("jpg")
		return c.Send(buf.Bytes())
	})

	webapp.Post("/api/zoom", mutate(func(c *fiber.Ctx) error {
		var request struct {
			Scale float64 `json:"scale"`
		}
		if err := c.BodyParser(&request); err != nil {
			return err
		}
		if !(request.Scale > 0) {
			return fiber.NewError(http.StatusBadRequest, "scale must be positive")
		}
		return session.Zoom(request.Scale)
	}))
	webapp.Post("/api/pointer", mutate(func(c *fiber.Ctx) error {
		var ev PointerEvent
		if err := c.BodyParser(&ev); err != nil {
			return err
		}
		err := session.Pointer(ev)
		if err != nil && !errors.Is(err, ErrNoSource) {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		return err
	}))
	webapp.Post("/api/rotate", mutate(func(c *fiber.Ctx) error {
		return session.Rotate()
	}))
	webapp.Post("/api/reset", mutate(func(c *fiber.Ctx) error {
		return session.ResetView()
	}))
	webapp.Post("/api/clear", mutate(func(c *fiber.Ctx) error {
		session.Clear(c.UserContext())
		return nil
	}))

	webapp.Get("/api/preview", func(c *fiber.Ctx) error {
		data, gen, err := session.Preview()
		if err != nil {
			return err
		}
		c.Set("X-Generation", strconv.FormatUint(gen, 10))
		c.Set(fiber.HeaderCacheControl, "no-store")
		c.Type("jpg")
		return c.Send(data)
	})
	webapp.Get("/api/export", func(c *fiber.Ctx) error {
		data, name, err := session.Export()
		if err != nil {
			return err
		}
		c.Attachment(name)
		c.Type("jpg")
		return c.Send(data)
	})

	webapp.Post("/api/submit", func(c *fiber.Ctx) error {
		if err := session.Submit(c.UserContext()); err != nil {
			return err
		}
		if fn := a.config.OnSubmit; fn != nil {
			fn()
		}
		return c.SendStatus(http.StatusNoContent)
	})
	webapp.Post("/api/shutdown", func(c *fiber.Ctx) error {
		a.Shutdown()
		return nil
	})

	if isDebug {
		log.Debug().Msg("Debug mode enabled, serving static files from './static' directory")
		webapp.Static("/", "static")
	} else {
		log.Debug().Msg("Serving static files from embedded filesystem")
		webapp.Use("/", filesystem.New(filesystem.Config{
			Root:       http.FS(staticFS),
			PathPrefix: "/static",
		}))
	}

	return webapp
}

func (a *WebApp) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-ctx.Done():
		case <-a.shutdownCh:
			cancel()
		}
	}()

	err := serve(ctx, a.App(ctx), a.config.Addr, a.config.OnReady, a.config.OnBeforeShutdown)
	a.config.Session.Close(ctx)
	return err
}

// serve runs app on addr until ctx is done. Port 0 lets the OS pick one.
func serve(ctx context.Context, app *fiber.App, addr string, onReady func(url string), onShutdown ...func()) error {
	app.Hooks().OnListen(func(listen fiber.ListenData) error {
		if onReady != nil {
			onReady(fmt.Sprintf("http://%s:%s", listen.Host, listen.Port))
		}
		return nil
	})

	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
		case <-stopped:
			return
		}
		for _, fn := range onShutdown {
			if fn != nil {
				fn()
			}
		}
		if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("Failed to shutdown web application")
		}
	}()

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	if err := app.Listener(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}
