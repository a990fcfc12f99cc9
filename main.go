package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tomgalvin.uk/phogobanner/internal/config"
	"tomgalvin.uk/phogobanner/internal/fonts"
	"tomgalvin.uk/phogobanner/internal/measure"
	"tomgalvin.uk/phogobanner/internal/printer"
	"tomgalvin.uk/phogobanner/internal/render"
	"tomgalvin.uk/phogobanner/internal/server"
	"tomgalvin.uk/phogobanner/internal/store"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("Exiting", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load(args)
	if err != nil {
		return err
	}

	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	r, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer r.Close()

	machine := newMachine(cfg, logger)

	fontSet := fonts.NewSet(cfg.FontSize, logger.With("src", "fonts"))
	pipeline := render.NewPipeline(
		measure.NewMeasurer(fontSet, logger.With("src", "measure")),
		render.Options{HeadAxisPx: cfg.HeadAxisPx, MinFeedPx: cfg.MinFeedPx, MaxFeedPx: cfg.MaxFeedPx},
		logger.With("src", "render"),
	)

	si := server.NewServer(logger.With("src", "server"), machine, r, pipeline, cfg)
	defer si.Close()

	mux := http.NewServeMux()
	mux.Handle("/api/", si)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := http.Server{Addr: cfg.Addr(), Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Couldn't shut down server", "error", err)
		}
	}()

	logger.Info("Starting server", "addr", cfg.Addr())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("Error starting server:\n%w", err)
	}

	if machine.State() == printer.Connected {
		if err := machine.Disconnect(); err != nil {
			logger.Error("Couldn't disconnect printer", "error", err)
		}
	}
	return nil
}

func newMachine(cfg config.Config, logger *slog.Logger) *printer.Machine {
	var transport printer.Transport = printer.NoTransport{}
	var bt *printer.BluetoothTransport
	if !cfg.NoPrinter {
		bt = printer.NewBluetoothTransport(cfg.PrinterName, logger.With("src", "bluetooth"))
		transport = bt
	}

	machine := printer.NewMachine(transport, printer.Options{
		Timeout: cfg.ConnectTimeout,
		Logger:  logger.With("src", "printer"),
	})
	if bt != nil {
		bt.OnLost(machine.TransportLost)
	}
	return machine
}
