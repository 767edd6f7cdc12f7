package main

import (
	"bufio"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/geekelo/sephcocco-chat-client/internal/chat"
	"github.com/geekelo/sephcocco-chat-client/internal/config"
	"github.com/geekelo/sephcocco-chat-client/internal/metrics"
)

var (
	// Version is injected via -ldflags "-X main.Version=..."
	Version = "dev"
)

func main() {
	var cfgPaths string
	flag.StringVar(&cfgPaths, "c", "./config.yml", "config file path (supports: a.yml,b.yml)")
	flag.Parse()

	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg, err := config.Load(cfgPaths)
	if err != nil {
		log.Fatal("load config failed", zap.Error(err))
	}
	log.Info("chat-probe starting", zap.String("version", Version), zap.String("gateway", cfg.Gateway.URL), zap.String("outlet_type", cfg.Gateway.OutletType))

	metrics.Register()

	engine, err := chat.New(chat.Options{
		URL:        cfg.Gateway.URL,
		Token:      cfg.Gateway.Token,
		OutletType: cfg.Gateway.OutletType,
		User: chat.User{
			ID:    cfg.User.ID,
			Name:  cfg.User.Name,
			Email: cfg.User.Email,
			Role:  cfg.User.Role,
		},
		Logger:          log,
		DialTimeout:     cfg.Timeouts.Dial,
		ReconnectDelay:  cfg.Timeouts.Reconnect,
		LoadTimeout:     cfg.Timeouts.Load,
		FinalizeTimeout: cfg.Timeouts.Finalize,
	})
	if err != nil {
		log.Fatal("engine init failed", zap.Error(err))
	}

	engine.OnChange(func() {
		snap := engine.Snapshot()
		if n := len(snap.Messages); n > 0 {
			last := snap.Messages[n-1]
			fmt.Printf("[%s] %s: %s\n", last.DisplayTime, last.SenderName, last.Content)
		}
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 2 * time.Second,
	}
	go func() {
		log.Info("metrics listening", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("metrics server error", zap.Error(err))
		}
	}()

	engine.Connect()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// stdin lines become sends
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			line := sc.Text()
			if line == "" {
				continue
			}
			if err := engine.Send(line, ""); err != nil {
				log.Warn("send failed", zap.Error(err))
			}
		}
	}()

	<-stop
	log.Info("shutting down")
	engine.Cleanup()
	_ = srv.Close()
}
