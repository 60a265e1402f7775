package main

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/coachd/internal/config"
	"github.com/fyrsmithlabs/coachd/internal/memory"
	"github.com/fyrsmithlabs/coachd/internal/profile"
	"github.com/fyrsmithlabs/coachd/internal/storage"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func noClose() error { return nil }

// openMemoryStore returns the fact store and the debate recorder, which are
// the same backend.
func openMemoryStore(ctx context.Context, cfg config.MemoryConfig) (memory.Store, memory.DebateRecorder, func() error, error) {
	switch cfg.Driver {
	case "memory", "":
		s := memory.NewMemStore()
		return s, s, noClose, nil

	case "sqlite", "postgres":
		db, dialect, err := storage.Open(ctx, cfg.Driver, cfg.DSN.Value())
		if err != nil {
			return nil, nil, noClose, fmt.Errorf("open memory store: %w", err)
		}
		s, err := memory.NewSQLStore(ctx, db, dialect)
		if err != nil {
			_ = db.Close()
			return nil, nil, noClose, fmt.Errorf("init memory store: %w", err)
		}
		return s, s, db.Close, nil

	case "mongo":
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.DSN.Value()))
		if err != nil {
			return nil, nil, noClose, fmt.Errorf("connect mongo: %w", err)
		}
		closeClient := func() error { return client.Disconnect(context.Background()) }
		s, err := memory.NewMongoStore(ctx, client, cfg.Database)
		if err != nil {
			_ = closeClient()
			return nil, nil, noClose, fmt.Errorf("init memory store: %w", err)
		}
		return s, s, closeClient, nil

	default:
		return nil, nil, noClose, fmt.Errorf("unknown memory driver %q", cfg.Driver)
	}
}

func openProfileStore(ctx context.Context, cfg config.ProfileConfig) (profile.Store, func() error, error) {
	switch cfg.Driver {
	case "memory", "":
		return profile.NewMemStore(), noClose, nil

	case "sqlite", "postgres":
		db, dialect, err := storage.Open(ctx, cfg.Driver, cfg.DSN.Value())
		if err != nil {
			return nil, noClose, fmt.Errorf("open profile store: %w", err)
		}
		s, err := profile.NewSQLStore(ctx, db, dialect)
		if err != nil {
			_ = db.Close()
			return nil, noClose, fmt.Errorf("init profile store: %w", err)
		}
		return s, db.Close, nil

	default:
		return nil, noClose, fmt.Errorf("unknown profile driver %q", cfg.Driver)
	}
}
