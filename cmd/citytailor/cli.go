package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	appLogger "github.com/FACorreiaa/go-citytailor/app/logger"
	"github.com/FACorreiaa/go-citytailor/config"
	"github.com/FACorreiaa/go-citytailor/internal/client"
	"github.com/FACorreiaa/go-citytailor/internal/clock"
	"github.com/FACorreiaa/go-citytailor/internal/engine"
	"github.com/FACorreiaa/go-citytailor/internal/engine/ledger"
	"github.com/FACorreiaa/go-citytailor/internal/store"
)

// CLI holds the state shared by every command of one invocation.
type CLI struct {
	stateDir   string
	backendURL string
	token      string
	identity   string
	offline    bool
	newSession bool
	verbose    bool

	logger *slog.Logger
	closer []func() error
	engine *engine.Engine
}

// engineConfig maps the engine section of the application config.
func engineConfig(cfg *config.Config) engine.Config {
	ec := engine.DefaultConfig()
	e := cfg.Engine
	if e.SearchContextTTL > 0 {
		ec.SearchContextTTL = e.SearchContextTTL
	}
	if e.AutoSaveDebounce > 0 {
		ec.AutoSaveDebounce = e.AutoSaveDebounce
	}
	if e.NetworkTimeout > 0 {
		ec.NetworkTimeout = e.NetworkTimeout
	}
	ec.Ledger = ledger.Config{
		MaxSearchEvents: e.MaxSearchEvents,
		MaxEvents:       e.MaxEvents,
		Strict:          e.Strict,
		MirrorTimeout:   ec.NetworkTimeout,
	}
	if ec.Ledger.MaxSearchEvents <= 0 {
		ec.Ledger.MaxSearchEvents = ledger.DefaultConfig().MaxSearchEvents
	}
	if ec.Ledger.MaxEvents <= 0 {
		ec.Ledger.MaxEvents = ledger.DefaultConfig().MaxEvents
	}
	return ec
}

// open builds the engine over the on-disk profile.
func (c *CLI) open(cmd *cobra.Command) error {
	cfg, err := config.InitConfig()
	if err != nil {
		return err
	}

	out := io.Discard
	if c.verbose {
		out = cmd.ErrOrStderr()
	}
	c.logger = appLogger.New(os.Getenv("APP_ENV"), out)

	if c.stateDir == "" {
		c.stateDir = cfg.Engine.StateDir
	}
	if c.backendURL == "" {
		c.backendURL = cfg.Engine.BackendURL
	}

	persistent, err := store.OpenBadger(filepath.Join(c.stateDir, "profile"), c.logger)
	if err != nil {
		return err
	}
	c.closer = append(c.closer, persistent.Close)

	var ephemeral store.Store = store.NewEphemeralStore()
	if !c.newSession {
		session, err := store.OpenBadger(filepath.Join(c.stateDir, "session"), c.logger)
		if err != nil {
			c.close(cmd.Context())
			return err
		}
		c.closer = append(c.closer, session.Close)
		ephemeral = session
	}

	deps := engine.Deps{
		Persistent: persistent,
		Ephemeral:  ephemeral,
		Clock:      clock.Real{},
		Logger:     c.logger,
	}
	if c.identity != "" {
		id := c.identity
		deps.Injected = func() string { return id }
	}
	ec := engineConfig(&cfg)
	if !c.offline && c.backendURL != "" {
		var opts []client.Option
		if c.token != "" {
			token := c.token
			opts = append(opts, client.WithToken(func() string { return token }))
		}
		deps.Backend = client.New(client.Config{
			BaseURL:   c.backendURL,
			Timeout:   ec.NetworkTimeout,
			RateLimit: cfg.Engine.RateLimit,
			Burst:     cfg.Engine.Burst,
		}, c.logger, opts...)
	}

	c.engine, err = engine.New(ec, deps)
	if err != nil {
		c.close(cmd.Context())
		return err
	}
	return nil
}

func (c *CLI) close(ctx context.Context) error {
	if c.engine != nil {
		c.engine.Close(ctx)
		c.engine = nil
	}
	var errs []error
	for i := len(c.closer) - 1; i >= 0; i-- {
		if err := c.closer[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closer = nil
	return errors.Join(errs...)
}

func printJSON(cmd *cobra.Command, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return err
}
