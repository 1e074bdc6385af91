package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Send()
	}
}

func run() error {
	var args cliArgs
	cliCtx := kong.Parse(
		&args,
		kong.Name("staffphoto"),
		kong.Description("Pick or capture a staff photo, crop it and upload it."),
		kong.UsageOnError(),
	)
	if err := cliCtx.Run(&args.Globals); err != nil {
		return err
	}

	return nil
}

type Globals struct {
	Verbose bool   `help:"Enable verbose logging" default:"false"`
	Config  string `help:"YAML configuration file" type:"path"`
}

// setup configures logging and returns a context carrying the logger that
// is canceled on interrupt.
func (g *Globals) setup() (context.Context, context.CancelFunc) {
	level := zerolog.InfoLevel
	if g.Verbose {
		level = zerolog.DebugLevel
	}
	log.Logger = log.Output(zerolog.NewConsoleWriter()).Level(level)
	zerolog.DefaultContextLogger = &log.Logger

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	return log.Logger.WithContext(ctx), cancel
}

type serveCmd struct {
	RootDir   string `arg:"" optional:"" default:"." help:"Directory of photos offered for picking"`
	Open      bool   `help:"Open the browser automatically when the server starts" default:"true" negatable:""`
	Addr      string `help:"Listen address (default from config, else a random localhost port)"`
	UploadURL string `help:"Staff photo page the finished photo is posted to"`
	Record    string `help:"Photo record id sent as frn"`
	Teacher   string `help:"Teacher id sent as curtchrid"`
	Once      bool   `help:"Exit after the photo has been submitted" default:"false"`
}

func (cmd *serveCmd) Run(g *Globals) error {
	ctx, cancel := g.setup()
	defer cancel()

	cfg, err := LoadConfig(g.Config)
	if err != nil {
		return err
	}
	override(&cfg.Server.Addr, cmd.Addr)
	override(&cfg.Upload.URL, cmd.UploadURL)
	override(&cfg.Upload.RecordID, cmd.Record)
	override(&cfg.Upload.TeacherID, cmd.Teacher)
	if cfg.Upload.URL == "" {
		log.Ctx(ctx).Warn().Msg("No upload url configured, submitting will fail")
	}

	session := NewSession(
		NewCompositor(),
		defaultCamera(cfg.Camera.Width, cfg.Camera.Height),
		cfg.CameraConfig(),
		cfg.Uploader(),
	)

	app := NewWebApp(Config{
		RootDir: cmd.RootDir,
		Addr:    cfg.Server.Addr,
		Session: session,
		OnBeforeShutdown: func() {
			log.Ctx(ctx).Info().Msg("Shutting down web application...")
		},
		OnReady: func(addr string) {
			log.Ctx(ctx).Info().Msgf("Server started at %s", addr)
			if cmd.Open {
				if err := openBrowser(addr); err != nil {
					log.Error().Err(err).Msg("Failed to open browser")
				}
			}
		},
		OnSubmit: func() {
			if cmd.Once {
				cancel()
			}
		},
	})

	return app.Run(ctx)
}

type receiveCmd struct {
	Dir  string `arg:"" help:"Directory uploaded photos are stored in" type:"path"`
	Addr string `help:"Listen address" default:"localhost:8080"`
	Page string `help:"Path of the staff photo page" default:"/admin/LPS-Staff-Photo.html"`
}

func (cmd *receiveCmd) Run(g *Globals) error {
	ctx, cancel := g.setup()
	defer cancel()

	r := &Receiver{Dir: cmd.Dir, Page: cmd.Page}
	return r.Run(ctx, cmd.Addr)
}

type composeCmd struct {
	BaseDir string `arg:"" help:"Directory the operation filenames are relative to" type:"path"`
	Ops     string `help:"JSONL operations file, - for stdin" default:"-"`
	Output  string `help:"Output directory (default <base>/output)" type:"path"`
	JSON    bool   `help:"Print the parsed operations in JSON format without executing"`
}

func (cmd *composeCmd) Run(g *Globals) error {
	ctx, cancel := g.setup()
	defer cancel()

	var in io.Reader = os.Stdin
	if cmd.Ops != "-" {
		f, err := os.Open(cmd.Ops)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	ops, err := ReadOperations(in)
	if err != nil {
		return err
	}
	if cmd.JSON {
		printJSONL(ops)
		return nil
	}

	output := cmd.Output
	if output == "" {
		output = filepath.Join(cmd.BaseDir, "output")
	}
	executor := &OperationExecutor{
		BaseDir:    cmd.BaseDir,
		OutputDir:  output,
		Compositor: NewCompositor(),
	}
	return executor.Exec(ctx, ops)
}

type cliArgs struct {
	Globals

	Serve   serveCmd   `cmd:"" default:"withargs" help:"Run the photo widget"`
	Receive receiveCmd `cmd:"" help:"Accept photo uploads and store them per record"`
	Compose composeCmd `cmd:"" help:"Composite photos offline from JSONL operations"`
}

func printJSONL[T any](data []T) {
	enc := json.NewEncoder(os.Stdout)
	for _, item := range data {
		if err := enc.Encode(item); err != nil {
			log.Error().Err(err).Msg("Failed to encode item to JSON")
			continue
		}
	}
}
