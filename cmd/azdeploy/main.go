package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/reviewapps-dev/azdeploy/internal/buildqueue"
	"github.com/reviewapps-dev/azdeploy/internal/credentials"
	"github.com/reviewapps-dev/azdeploy/internal/deploy"
	"github.com/reviewapps-dev/azdeploy/internal/logstream"
	"github.com/reviewapps-dev/azdeploy/internal/run"
	"github.com/reviewapps-dev/azdeploy/internal/server"
	"github.com/reviewapps-dev/azdeploy/internal/version"
)

const usage = `usage: azdeploy <command> [flags]

commands:
  deploy <project:target[:configuration]>    build, assemble and publish a deploy target
  connect-db <project> <env> <database>      write a database connection string to the env file
  serve                                      run the deploy API server
  version                                    print version information
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "deploy":
		err = runDeploy(os.Args[2:])
	case "connect-db":
		err = runConnectDB(os.Args[2:])
	case "serve":
		err = runServe(os.Args[2:])
	case "version", "-version", "--version":
		fmt.Println(version.String())
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runDeploy(args []string) error {
	fs := flag.NewFlagSet("deploy", flag.ExitOnError)
	cf := registerCommon(fs)
	fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("deploy: expected one target reference, e.g. api:deploy:production")
	}

	e, err := setup(cf)
	if err != nil {
		return err
	}

	spec, err := e.spec(fs.Arg(0))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pipeline := e.pipeline()
	out, err := pipeline.Run(ctx, shortuuid.New(), spec, e.envMapping())
	if err != nil {
		return fmt.Errorf("deploy failed in %s: %w", out.FailedIn, err)
	}

	fmt.Println(out.URL)
	if out.ReleaseDir != "" {
		fmt.Fprintf(os.Stderr, "release kept at %s\n", out.ReleaseDir)
	}
	return nil
}

func runConnectDB(args []string) error {
	fs := flag.NewFlagSet("connect-db", flag.ExitOnError)
	cf := registerCommon(fs)
	fs.Parse(args)

	if fs.NArg() != 3 {
		return fmt.Errorf("connect-db: expected <project> <env> <database>")
	}

	e, err := setup(cf)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	resolver := credentials.NewResolver(e.az, e.cfg.Azure.ConnectionPrefix)
	cred, err := resolver.Resolve(ctx, credentials.Request{
		Project:  fs.Arg(0),
		Env:      fs.Arg(1),
		Database: fs.Arg(2),
	})
	if err != nil {
		return err
	}

	path := e.envFilePath()
	if err := credentials.AppendEnvFile(path, cred.Name, cred.Value); err != nil {
		return err
	}
	fmt.Printf("wrote %s to %s\n", cred.Name, path)
	return nil
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	cf := registerCommon(fs)
	listen := fs.String("listen", "", "override listen address")
	token := fs.String("token", "", "API bearer token")
	fs.Parse(args)

	e, err := setup(cf)
	if err != nil {
		return err
	}
	if *listen != "" {
		e.cfg.Server.Listen = *listen
	}
	if *token != "" {
		e.cfg.Server.Token = *token
	}
	if e.cfg.Server.Token == "" {
		return fmt.Errorf("serve: a token is required (-token or [server] token)")
	}
	if err := e.cfg.EnsureDirs(); err != nil {
		return err
	}

	store := run.NewStore(e.cfg.Server.StateFile)
	queue := buildqueue.New(e.cfg.Server.QueueSize)
	hub := logstream.NewHub()
	srv := server.New(e.cfg, store, queue, hub)

	pipeline := e.pipeline()
	pipeline.Observe(srv.Record)

	srv.SetSpecFunc(e.spec)
	srv.SetDeployFunc(func(ctx context.Context, runID string, spec deploy.Spec) (*deploy.Outcome, error) {
		// Pick up connection strings written by connect-db since startup.
		return pipeline.Run(ctx, runID, spec, e.envMapping())
	})

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queue.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	slog.Info("azdeploy started", "version", version.Version, "pid", os.Getpid(), "runs", store.Count())

	select {
	case err := <-errCh:
		queue.Stop()
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("shutdown", "err", err)
	}

	queue.Stop()
	slog.Info("azdeploy stopped")
	return nil
}
