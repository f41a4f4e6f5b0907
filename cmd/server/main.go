package main

// checkout runs the storefront checkout API with its background workers.

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/gitshopapp/checkout/app"
	"github.com/gitshopapp/checkout/server"
)

func main() {
	fallbackLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	application, err := app.New()
	if err != nil {
		fallbackLogger.Error("failed to initialize app", "error", err)
		os.Exit(1)
	}
	srv, err := server.New(application.Config, application.Logger, application.Handlers)
	if err != nil {
		fallbackLogger.Error("failed to initialize server", "error", err)
		application.Close()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = serve(ctx, srv, application.Reaper.Start, application.Dispatcher.Run)
	application.Close()
	if err != nil {
		application.Logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

type httpServer interface {
	Run() error
	Close(ctx context.Context) error
}

// serve runs the HTTP server and the reaper until ctx is cancelled or one of
// them fails. The dispatcher is stopped only after both have returned, so
// notifications enqueued by in-flight requests during shutdown are drained.
func serve(ctx context.Context, srv httpServer, reaper, dispatcher func(context.Context) error) error {
	dispatchCtx, stopDispatch := context.WithCancel(context.WithoutCancel(ctx))
	defer stopDispatch()
	dispatched := make(chan error, 1)
	go func() {
		dispatched <- dispatcher(dispatchCtx)
	}()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(srv.Run)
	group.Go(func() error {
		return reaper(groupCtx)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.ShutdownTimeout)
		defer cancel()
		return srv.Close(shutdownCtx)
	})
	err := group.Wait()

	stopDispatch()
	if dispatchErr := <-dispatched; err == nil {
		err = dispatchErr
	}
	return err
}
