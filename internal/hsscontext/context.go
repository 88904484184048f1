// Package hsscontext is the process composition root: it wires the
// subscriber store, AV pool manager, Diameter façade, S6a dispatcher,
// logger, and optional ops/audit surfaces into one `Context` with a
// Start/Stop/WaitForShutdown lifecycle. Grounded on the teacher's
// `Application` struct and NewApplication/Start/Stop/WaitForShutdown
// sequencing in cmd/protei-monitoring/main.go, and on hss-context.c's
// hss_context_init/hss_context_final — merged into a single init pass since
// Go has no separate "parse config" vs "init singleton" phase the way the
// mutex-guarded C global does.
package hsscontext

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/protei/hss/internal/diamcodec"
	"github.com/protei/hss/internal/diamfacade"
	"github.com/protei/hss/internal/logger"
	"github.com/protei/hss/internal/pool"
	"github.com/protei/hss/internal/s6a"
	"github.com/protei/hss/internal/store"
	"github.com/protei/hss/pkg/audit"
	"github.com/protei/hss/pkg/auth"
	"github.com/protei/hss/pkg/config"
	"github.com/protei/hss/pkg/ops"
)

// Context holds every long-lived component of the running HSS process.
type Context struct {
	Config     *config.Config
	Log        *logger.Logger
	Store      store.Store
	Pool       *pool.Manager
	Facade     diamfacade.Facade
	Dispatcher *s6a.Dispatcher
	Counters   *ops.Counters
	Ops        *ops.Server
	Audit      *audit.Sink
}

// New builds every component from cfg but starts nothing. Mirrors the
// teacher's NewApplication: logger first, then everything that can fail
// fast, leaving network listeners for Start.
func New(ctx context.Context, cfg *config.Config) (*Context, error) {
	log, err := logger.New(logger.Config{
		Path:              cfg.Log.Path,
		Level:             cfg.Log.Level,
		Format:            cfg.Log.Format,
		MaxSizeMB:         cfg.Log.MaxSizeMB,
		MaxBackups:        cfg.Log.MaxBackups,
		MaxAgeDays:        cfg.Log.MaxAgeDays,
		Compress:          cfg.Log.Compress,
		AllowSecretFields: cfg.Log.AllowSecretFields,
	})
	if err != nil {
		return nil, fmt.Errorf("hsscontext: init logger: %w", err)
	}
	log.Info("hss initializing", "version", cfg.Application.Version)

	st, err := store.NewMongo(ctx, cfg.DBURI, "hss")
	if err != nil {
		return nil, fmt.Errorf("hsscontext: init store: %w", err)
	}

	poolMgr := pool.NewManager(st, cfg.Pool.RefillSize)
	facade := diamfacade.NewInProcess()
	dispatcher := s6a.NewDispatcher(st, poolMgr, cfg.HSS.OriginHost, cfg.HSS.OriginRealm, log)
	facade.Register(diamcodec.AppIDS6a, diamcodec.CmdAIR, dispatcher.HandleAIR)
	facade.Register(diamcodec.AppIDS6a, diamcodec.CmdULR, dispatcher.HandleULR)

	hssCtx := &Context{
		Config:     cfg,
		Log:        log,
		Store:      st,
		Pool:       poolMgr,
		Facade:     facade,
		Dispatcher: dispatcher,
	}

	counters := ops.NewCounters()
	hssCtx.Counters = counters
	observers := ops.Fanout{counters}

	if cfg.Ops.Enabled {
		authSvc := auth.NewService(&auth.Config{
			JWTSecret:   cfg.Ops.JWTSecret,
			TokenExpiry: cfg.Ops.TokenTTL,
		})
		if cfg.Ops.AdminUser != "" {
			if regErr := authSvc.RegisterUser(&auth.User{
				Username:     cfg.Ops.AdminUser,
				PasswordHash: cfg.Ops.AdminPassHash,
				Role:         auth.RoleOpsAdmin,
				Enabled:      true,
			}); regErr != nil {
				log.Warn("failed to register ops admin user", "error", regErr)
			}
		}
		opsSrv := ops.New(ops.Config{
			ListenAddr: cfg.Ops.ListenAddr,
			Store:      st,
			AuthSvc:    authSvc,
			Counters:   counters,
		})
		hssCtx.Ops = opsSrv
		observers = append(observers, opsSrv)
	}

	if cfg.Audit.Enabled {
		sink, auditErr := audit.New(ctx, audit.Config{DSN: cfg.Audit.DSN})
		if auditErr != nil {
			log.Warn("audit sink initialization failed, continuing without audit", "error", auditErr)
		} else {
			hssCtx.Audit = sink
			observers = append(observers, sink)
		}
	}

	dispatcher.SetObserver(observers)

	return hssCtx, nil
}

// Start brings up every network-facing component. The Diameter façade
// itself has nothing to "start" — it only ever dispatches in-process calls
// (see internal/diamfacade's package doc) — so the only listener here is
// the optional ops HTTP API.
func (c *Context) Start() error {
	if c.Ops != nil {
		go func() {
			if err := c.Ops.Start(); err != nil && err != http.ErrServerClosed {
				c.Log.Error("ops server error", err)
			}
		}()
		c.Log.Info("ops API listening", "addr", c.Config.Ops.ListenAddr)
	}
	c.Log.Info("hss started")
	return nil
}

// Stop gracefully tears down every component in reverse dependency order.
func (c *Context) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if c.Ops != nil {
		if err := c.Ops.Stop(ctx); err != nil {
			c.Log.Error("ops server shutdown error", err)
		}
	}
	if c.Audit != nil {
		if err := c.Audit.Close(); err != nil {
			c.Log.Error("audit sink close error", err)
		}
	}
	c.Log.Info("hss stopped")
	return nil
}

// WaitForShutdown blocks until SIGINT/SIGTERM is received.
func (c *Context) WaitForShutdown() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	c.Log.Info("received shutdown signal", "signal", sig.String())
}
