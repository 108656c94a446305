package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"bazelbsp/internal/app"
	"bazelbsp/internal/logger"
)

func main() {
	configPath := flag.String("config", "", "Path to JSON config file")
	addr := flag.String("addr", "127.0.0.1:0", "Address to serve the build event service on")
	level := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	lg := logger.New("bazelbsp-bes")
	defer lg.Flush()
	lvl, err := logger.ParseLevel(*level)
	if err != nil {
		log.Fatalf("invalid log level: %v", err)
	}
	lg.SetLevel(lvl)

	srv, err := app.Listen(app.ListenOptions{
		ConfigPath: *configPath,
		Address:    *addr,
		Log:        lg.Logger,
	})
	if err != nil {
		log.Fatalf("failed to start build event service: %v", err)
	}
	log.Printf("Build event service listening on %s (pid %d). Press Ctrl+C to stop.", srv.Addr(), os.Getpid())
	log.Printf("Run bazel with: %s", strings.Join(srv.Flags(), " "))

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	log.Printf("Stopping build event service...")
	if err := srv.Close(); err != nil {
		log.Fatalf("error shutting down build event service: %v", err)
	}
	log.Printf("Build event service stopped.")
}
