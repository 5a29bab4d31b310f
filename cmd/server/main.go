package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flags "github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"

	"github.com/maxBogovick/memodb"
	"github.com/maxBogovick/memodb/core"
	"github.com/maxBogovick/memodb/db"
	"github.com/maxBogovick/memodb/wal"
)

// Version is set at build time via -ldflags.
var Version = "dev"

type options struct {
	Port       int    `short:"p" long:"port" default:"5533" description:"TCP port to listen on"`
	DataDir    string `short:"d" long:"data-dir" description:"Persistence root (in-memory when empty)"`
	Durability string `long:"durability" default:"strict" choice:"none" choice:"async" choice:"strict" description:"WAL durability mode"`
	JWTSecret  string `long:"jwt-secret" env:"MEMODB_JWT_SECRET" description:"Enable JWT auth with this HS256 secret"`
	JWTIssuer  string `long:"jwt-issuer" description:"Expected iss claim"`
	Version    bool   `long:"version" description:"Show version and exit"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(1)
	}
	if opts.Version {
		fmt.Printf("memodb server v%s (api %s)\n", Version, core.APIVersion())
		return
	}

	var engine *db.Engine
	var err error
	if opts.DataDir == "" {
		log.Info("using in-memory engine")
		engine = memodb.Open()
	} else {
		mode := wal.ModeStrict
		switch opts.Durability {
		case "none":
			mode = wal.ModeNone
		case "async":
			mode = wal.ModeAsync
		}
		log.WithFields(log.Fields{"dir": opts.DataDir, "durability": opts.Durability}).
			Info("opening durable engine")
		engine, err = memodb.OpenWithMode(opts.DataDir, mode)
		if err != nil {
			log.WithError(err).Fatal("failed to open engine")
		}
	}
	defer engine.Close()

	var auth *AuthConfig
	if opts.JWTSecret != "" {
		auth = &AuthConfig{Enabled: true, JWTSecret: opts.JWTSecret, Issuer: opts.JWTIssuer}
	}

	server := NewServer(engine, auth)
	if err := server.Start(fmt.Sprintf(":%d", opts.Port)); err != nil {
		log.WithError(err).Fatal("failed to start server")
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	if err := server.Stop(); err != nil {
		log.WithError(err).Error("shutdown error")
	}
}
