package main

import (
	"context"
	"flag"
	"os"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/config"
	"github.com/go-kratos/kratos/v2/config/file"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"

	"github.com/botradar/bot_radar/internal/conf"
	"github.com/botradar/bot_radar/internal/server"
)

// go build -ldflags "-X main.Version=x.y.z"
var (
	// Name is the service name.
	Name string = "bot_radar"
	// Version is the service version.
	Version string
	// flagconf is the config file path.
	flagconf string

	id, _ = os.Hostname()
)

func init() {
	flag.StringVar(&flagconf, "conf", "configs/config.yaml", "config path, eg: -conf config.yaml")
}

func main() {
	flag.Parse()
	logger := log.With(log.NewStdLogger(os.Stdout),
		"ts", log.DefaultTimestamp,
		"caller", log.DefaultCaller,
		"service.id", id,
		"service.name", Name,
		"service.version", Version,
	)

	c := config.New(
		config.WithSource(
			file.NewSource(flagconf),
		),
	)
	defer c.Close()

	if err := c.Load(); err != nil {
		panic(err)
	}

	var bc conf.Bootstrap
	if err := c.Scan(&bc); err != nil {
		panic(err)
	}

	app, cleanup, err := initApp(&bc, logger)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	if err := app.Run(); err != nil {
		panic(err)
	}
}

// initApp wires the pipeline and the HTTP server into a kratos application.
// The poller runs as a background goroutine for the life of the app.
func initApp(bc *conf.Bootstrap, logger log.Logger) (*kratos.App, func(), error) {
	pl, plCleanup, err := server.NewPipeline(bc.Pipeline, logger)
	if err != nil {
		return nil, nil, err
	}

	hs := server.NewHTTPServer(bc.Server, pl, logger)

	pollCtx, cancelPoll := context.WithCancel(context.Background())
	go pl.Poller.Run(pollCtx)

	cleanup := func() {
		cancelPoll()
		plCleanup()
	}
	return newApp(logger, hs), cleanup, nil
}

func newApp(logger log.Logger, hs *http.Server) *kratos.App {
	return kratos.New(
		kratos.ID(id),
		kratos.Name(Name),
		kratos.Version(Version),
		kratos.Metadata(map[string]string{}),
		kratos.Logger(logger),
		kratos.Server(hs),
	)
}
