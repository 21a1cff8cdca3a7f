package app

import (
	"context"
	"database/sql"

	"skylane/internal/auth"
	"skylane/internal/config"
	"skylane/internal/coordinator"
	"skylane/internal/db"
	"skylane/internal/deconflict"
	"skylane/internal/dss"
	"skylane/internal/migrate"
	"skylane/internal/msglog"
	"skylane/internal/store"
	"skylane/internal/transport"
	"skylane/internal/uss"
)

// Node is one fully wired USS: config, database, token manager, registry
// client and lifecycle coordinator. The CLI and the HTTP server both run on
// top of it.
type Node struct {
	Config      *config.Config
	DB          *sql.DB
	Store       store.Store
	Log         *msglog.Writer
	Tokens      *auth.Manager
	DSS         *dss.Client
	Resolver    *deconflict.Resolver
	Coordinator *coordinator.Coordinator
}

// Open loads the workspace config, migrates the database and wires the
// clients together. The caller owns Close.
func Open(ctx context.Context, workspace string) (*Node, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}

	st := store.Store{DB: conn}
	logw := &msglog.Writer{DB: conn}
	tokens := auth.NewManager(cfg.Auth.URL, cfg.Auth.Key)
	registry := dss.New(cfg.DSS.URL, cfg.USS.Domain, cfg.USS.Manager, transport.New(dss.Audience, tokens, logw))
	peerFor := func(baseURL string) (*uss.Client, error) {
		return uss.New(baseURL, tokens, logw)
	}
	resolver := &deconflict.Resolver{DSS: registry, PeerFor: peerFor}
	coord := &coordinator.Coordinator{
		DSS:                   registry,
		Store:                 st,
		Resolver:              resolver,
		PeerFor:               peerFor,
		DefaultConstraintType: cfg.Constraints.DefaultType,
	}

	return &Node{
		Config:      cfg,
		DB:          conn,
		Store:       st,
		Log:         logw,
		Tokens:      tokens,
		DSS:         registry,
		Resolver:    resolver,
		Coordinator: coord,
	}, nil
}

func (n *Node) Close() error {
	return n.DB.Close()
}
