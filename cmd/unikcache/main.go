package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/0xef53/unikcache/unikernel"

	log "github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"
)

func main() {
	log.SetFormatter(&log.TextFormatter{
		DisableColors:    true,
		DisableTimestamp: true,
	})

	app := cli.NewApp()

	app.Name = "unikcache"
	app.Usage = "build unikernel images from git sources and keep them in the image cache"
	app.HideHelpCommand = true

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Usage:   "path to the configuration file",
			EnvVars: []string{"UNIKCACHE_CONFIG"},
			Value:   filepath.Join(unikernel.CONFDIR, "unikcache.ini"),
		},
		&cli.BoolFlag{
			Name:    "debug",
			Usage:   "print debug information",
			EnvVars: []string{"UNIKCACHE_DEBUG", "DEBUG"},
		},
	}

	app.Before = func(c *cli.Context) error {
		if c.Bool("debug") {
			log.SetLevel(log.DebugLevel)
		}
		return nil
	}

	app.Commands = []*cli.Command{
		cmdFetch,
		cmdRefresh,
		cmdList,
		cmdForget,
		cmdEnvelope,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalln(err)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM. Running builds are killed
// and the keyed locks are released on the way out.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGTERM, syscall.SIGINT)
		defer signal.Stop(sigc)

		select {
		case s := <-sigc:
			log.WithField("signal", s).Info("Interrupted, cancelling ...")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
