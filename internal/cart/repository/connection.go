package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

// ConnConfig describes the session cart store.
type ConnConfig struct {
	URI      string
	Database string
	// AppName shows up in the server logs and currentOp output.
	AppName     string
	MaxPoolSize uint64
	MinPoolSize uint64
	// OpTimeout bounds connecting, server selection and the startup ping.
	OpTimeout time.Duration
}

func (c ConnConfig) withDefaults() ConnConfig {
	if c.Database == "" {
		c.Database = "storefront"
	}
	if c.AppName == "" {
		c.AppName = "storefront"
	}
	if c.MaxPoolSize == 0 {
		c.MaxPoolSize = 50
	}
	if c.MinPoolSize > c.MaxPoolSize {
		c.MinPoolSize = c.MaxPoolSize
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = 5 * time.Second
	}
	return c
}

func (c ConnConfig) clientOptions() *options.ClientOptions {
	// Every cart write is acknowledged by a majority: a cart that disappears
	// after a failover would be an order the customer cannot place.
	return options.Client().
		ApplyURI(c.URI).
		SetAppName(c.AppName).
		SetConnectTimeout(c.OpTimeout).
		SetServerSelectionTimeout(c.OpTimeout).
		SetMaxPoolSize(c.MaxPoolSize).
		SetMinPoolSize(c.MinPoolSize).
		SetRetryWrites(true).
		SetWriteConcern(writeconcern.Majority())
}

func ConnectMongoDB(ctx context.Context, cfg ConnConfig) (*mongo.Database, error) {
	cfg = cfg.withDefaults()
	if cfg.URI == "" {
		return nil, fmt.Errorf("mongodb uri is required")
	}

	client, err := mongo.Connect(ctx, cfg.clientOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.OpTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client.Database(cfg.Database), nil
}
