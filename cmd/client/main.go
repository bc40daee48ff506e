// Package main is the local GophOTP client: an interactive shell over the
// token store plus one-shot commands.
package main

import (
	"cmp"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/atinyakov/GophOTP/internal/bootstrap"
	"github.com/atinyakov/GophOTP/internal/client"
	"github.com/atinyakov/GophOTP/internal/config"
	"github.com/atinyakov/GophOTP/internal/crypto"
	"github.com/atinyakov/GophOTP/internal/logger"
)

var (
	version   string
	buildDate string
)

// main parses the configuration and dispatches to the shell, companion or
// hashpin commands.
func main() {
	options := config.Parse()

	lg := logger.New()
	defer func() { _ = lg.Log.Sync() }()
	if err := lg.Init(options.LogLevel); err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	switch cmp.Or(options.Command, "shell") {
	case "version":
		fmt.Printf("GophOTP Client\nVersion: %s\nBuild Date: %s\n", cmp.Or(version, "N/A"), cmp.Or(buildDate, "N/A"))
	case "shell":
		if err := shell(ctx, options, lg.Log); err != nil {
			log.Fatal(err)
		}
	case "companion":
		if err := companion(ctx, options); err != nil {
			log.Fatal(err)
		}
	case "hashpin":
		if err := hashPIN(); err != nil {
			log.Fatal(err)
		}
	default:
		log.Fatalf("unknown command: %s", options.Command)
	}
}

// shell runs the interactive shell over the configured store.
func shell(ctx context.Context, options *config.Options, zapLogger *zap.Logger) error {
	store, err := bootstrap.Open(options, zapLogger)
	if err != nil {
		return err
	}
	defer store.Close()
	store.Start(ctx, options.LegacyPath, time.Duration(options.MigrationInterval))

	sh := &client.Shell{
		Store:  store.Tokens,
		Prompt: client.NewPrompter(os.Stdin, os.Stdout),
		Out:    os.Stdout,
		Log:    zapLogger,
	}
	return sh.Run(ctx)
}

// companion asks the server for the code at the position given as the
// first argument, the way a paired device does.
func companion(ctx context.Context, options *config.Options) error {
	index := 0
	if len(options.Args) > 0 {
		n, err := strconv.Atoi(options.Args[0])
		if err != nil {
			return fmt.Errorf("invalid position %q", options.Args[0])
		}
		index = n
	}

	httpClient, err := client.LoadClientCertificate(
		cmp.Or(options.TLSCert, "certs/watch.crt"),
		cmp.Or(options.TLSKey, "certs/watch.key"),
		cmp.Or(options.TLSCA, "certs/ca.crt"),
	)
	if err != nil {
		return err
	}
	c := &client.Companion{Client: httpClient, BaseURL: options.ServerURL, PIN: os.Getenv("PRESENCE_PIN")}

	reply, err := c.FetchCode(ctx, index)
	if err != nil {
		return err
	}
	if reply.Empty() {
		fmt.Printf("No token at position %d, retry after %s\n", index, reply.To.Local().Format(time.TimeOnly))
		return nil
	}
	fmt.Printf("%s (valid until %s)\n", reply.Token, reply.To.Local().Format(time.TimeOnly))
	return nil
}

// hashPIN reads a PIN and prints the hash to put into PRESENCE_PIN_HASH.
func hashPIN() error {
	p := client.NewPrompter(os.Stdin, os.Stdout)
	pin, err := p.Ask("PIN: ")
	if err != nil {
		return err
	}
	hash, err := crypto.HashPIN(pin)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}
