package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"pdfchat/internal/bootstrap"
	transporthttp "pdfchat/internal/transport/http"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx)
	if err != nil {
		log.Fatalf("bootstrap failed: %v", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			app.Logger.Warn("close resources failed", zap.Error(err))
		}
	}()

	srv := &http.Server{
		Addr:    app.Config.HTTPAddr(),
		Handler: transporthttp.NewRouter(app),
	}

	go func() {
		app.Logger.Info("http server listening",
			zap.String("addr", srv.Addr),
			zap.String("env", app.Config.App.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.Logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	app.Logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.Logger.Error("http server shutdown failed", zap.Error(err))
	}
	app.Logger.Info("server stopped")
}
