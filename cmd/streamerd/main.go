package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/casualjim/streamer"
	"github.com/casualjim/streamer/internal/config"
	"github.com/casualjim/streamer/internal/logging"
	"github.com/casualjim/streamer/pkg/natsx"
	"github.com/casualjim/streamer/pkg/slogx"
	"github.com/casualjim/streamer/transforms"
	"github.com/casualjim/streamer/transport/natsrpc"
	"github.com/casualjim/streamer/transport/ws"
	"github.com/fogfish/opts"
	json "github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}
	logger := logging.Install(os.Stderr, cfg.LogFormat, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := mainE(ctx, cfg, logger); err != nil {
		logger.Error("streamerd failed", slogx.Error(err))
		os.Exit(1)
	}
}

func mainE(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	wsServer, err := ws.New(
		ws.WithLogger(logger),
		ws.WithSendBuffer(cfg.SendBuffer),
		ws.WithIdentity(userFromRequest),
		ws.WithAllowAnyOrigin(),
	)
	if err != nil {
		return fmt.Errorf("failed to create websocket server: %w", err)
	}
	defer wsServer.Close()

	centralOpts := []opts.Option[streamer.Central]{
		streamer.WithLogger(logger),
		streamer.WithMethods(wsServer),
		streamer.WithPublications(wsServer),
	}

	if cfg.NATSURL != "" {
		nc, err := natsx.NewClient(cfg.NATSURL, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to nats: %w", err)
		}
		defer nc.Close()

		natsServer, err := natsrpc.New(nc,
			natsrpc.WithLogger(logger),
			natsrpc.WithPrefix(cfg.NATSPrefix),
			natsrpc.WithHeartbeat(cfg.NATSHeartbeat),
		)
		if err != nil {
			return fmt.Errorf("failed to create nats server: %w", err)
		}
		defer natsServer.Close()

		centralOpts = append(centralOpts,
			streamer.WithMethods(natsServer),
			streamer.WithPublications(natsServer),
		)
		logger.Info("serving streams over nats", slog.String("url", nc.ConnectedUrl()), slog.String("prefix", cfg.NATSPrefix))
	}

	central, err := streamer.NewCentral(centralOpts...)
	if err != nil {
		return fmt.Errorf("failed to create central: %w", err)
	}
	for _, name := range cfg.Streams {
		stream := central.Stream(name, streamer.Retransmission(cfg.Retransmission))
		if cfg.Timestamps {
			stream.Transform(transforms.ServerTimestamp(transforms.DefaultTimestampField, time.Now))
		}
		logger.Info("stream ready", slogx.Stream(name), slog.Bool("retransmission", stream.Retransmission()))
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.WebsocketPath, wsServer)
	mux.Handle("/streams", streamsHandler(central))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", slog.String("addr", cfg.Addr), slog.String("path", cfg.WebsocketPath))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = wsServer.Close()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

type streamStatus struct {
	Name           string         `json:"name"`
	Retransmission bool           `json:"retransmission"`
	Subscribers    int            `json:"subscribers"`
	Events         map[string]int `json:"events"`
}

// streamsHandler reports the subscriber counts of every stream.
func streamsHandler(central *streamer.Central) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		statuses := make([]streamStatus, 0)
		for _, name := range central.Names() {
			stream, ok := central.Get(name)
			if !ok {
				continue
			}
			st := streamStatus{
				Name:           name,
				Retransmission: stream.Retransmission(),
				Subscribers:    stream.TotalSubscribers(),
				Events:         make(map[string]int),
			}
			for _, event := range stream.EventNames() {
				st.Events[event] = stream.SubscriberCount(event)
			}
			statuses = append(statuses, st)
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(statuses); err != nil {
			slog.Error("failed to write stream status", slogx.Error(err))
		}
	})
}

// userFromRequest trusts the X-User-Id header set by the fronting proxy.
func userFromRequest(r *http.Request) string {
	return r.Header.Get("X-User-Id")
}
