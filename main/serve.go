// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	log "github.com/inconshreveable/log15"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/fluencelabs/aquavm-sub004/datastore"
	"github.com/fluencelabs/aquavm-sub004/runner"
	"github.com/fluencelabs/aquavm-sub004/service"
)

const (
	apiPath    = "/ext/aquavm"
	staticPath = "/ext/aquavm/static"
	metricPath = "/metrics"
)

var logger = log.New("module", "main")

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves the JSON-RPC API of a peer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := getViper(cmd)
			if err != nil {
				return err
			}
			if err := setupLogging(v); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			listener, err := net.Listen("tcp", v.GetString(httpAddrKey))
			if err != nil {
				return err
			}
			return serve(ctx, v, listener)
		},
	}
	addServeFlags(cmd.Flags())
	return cmd
}

// serve runs the API on [listener] until [ctx] is done.
func serve(ctx context.Context, v *viper.Viper, listener net.Listener) error {
	db, err := datastore.OpenBadger(v.GetString(dbDirKey))
	if err != nil {
		return err
	}
	registry := prometheus.NewRegistry()
	state, err := datastore.NewState(db, registry)
	if err != nil {
		_ = db.Close()
		return err
	}
	defer func() {
		if err := state.Close(); err != nil {
			logger.Warn("couldn't close state", "error", err)
		}
		if err := db.Close(); err != nil {
			logger.Warn("couldn't close database", "error", err)
		}
	}()

	handler, err := newAPIHandler(v, state, registry)
	if err != nil {
		return err
	}
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("serving API", "addr", listener.Addr().String(), "path", apiPath)
		if err := server.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), v.GetDuration(shutdownKey))
		defer cancel()
		logger.Info("shutting down API")
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newAPIHandler(v *viper.Viper, state datastore.State, registry *prometheus.Registry) (http.Handler, error) {
	config, err := interpreterConfig(v)
	if err != nil {
		return nil, err
	}
	peer, err := peerID(v)
	if err != nil {
		return nil, err
	}
	keyFormat, secret, err := peerKey(v)
	if err != nil {
		return nil, err
	}
	r, err := runner.New(runner.Config{
		Interpreter:   config,
		PeerID:        peer,
		KeyFormat:     keyFormat,
		SecretKey:     secret,
		SlowThreshold: v.GetDuration(slowThresholdKey),
	}, state)
	if err != nil {
		return nil, err
	}

	api, err := service.NewHandler(r, registry)
	if err != nil {
		return nil, err
	}
	static, err := service.NewStaticHandler()
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle(apiPath, api)
	mux.Handle(staticPath, static)
	mux.Handle(metricPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return mux, nil
}
