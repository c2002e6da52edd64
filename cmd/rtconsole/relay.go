package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"strings"
	"time"

	"github.com/enesunal-m/rtconsole"
	"github.com/enesunal-m/rtconsole/relay"
)

func runRelay(ctx context.Context, cfg rtconsole.Config, logger *rtconsole.Logger, args []string) error {
	var addr, origins string
	fs := flag.NewFlagSet("relay", flag.ExitOnError)
	fs.StringVar(&addr, "addr", ":8081", "listen address")
	fs.StringVar(&origins, "origins", "", "comma separated allowed browser origins, empty allows any")
	fs.Parse(args)

	opts := relay.Options{Config: cfg, Logger: logger}
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			opts.AllowedOrigins = append(opts.AllowedOrigins, o)
		}
	}
	rs := relay.NewServer(opts)
	defer rs.Close()

	mux := http.NewServeMux()
	mux.Handle("/", rs)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if rs.BreakerState() == rtconsole.CircuitOpen {
			http.Error(w, "upstream unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	logger.Info("relay_listening", map[string]any{"addr": addr})

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
