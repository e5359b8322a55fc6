package client

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/syntrixbase/typestore/internal/config"
	"github.com/syntrixbase/typestore/pkg/changefeed"
	natsfeed "github.com/syntrixbase/typestore/pkg/changefeed/nats"
	"github.com/syntrixbase/typestore/pkg/driver"
	"github.com/syntrixbase/typestore/pkg/driver/memory"
	"github.com/syntrixbase/typestore/pkg/driver/mongo"
	"github.com/syntrixbase/typestore/pkg/driver/remote"
	"github.com/syntrixbase/typestore/pkg/model"
	"github.com/syntrixbase/typestore/pkg/schema"
)

// Replaced in tests.
var (
	connectNats  = natsfeed.Connect
	connectMongo = mongo.Connect
)

// Open builds the driver cfg describes and returns a DB over it. The DB owns
// the driver and the change feed: Close releases both.
func Open(ctx context.Context, cfg *config.Config, s *schema.Schema, opts ...Option) (*DB, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	logger := slog.Default()

	var (
		feed       changefeed.Feed
		feedCloser func() error
		err        error
	)
	// A gateway routes changes itself.
	if cfg.Driver.Type != "remote" {
		feed, err = openFeed(cfg.Changefeed, logger)
		if err != nil {
			return nil, err
		}
	}
	if feed != nil {
		feedCloser = feed.Close
	}

	drv, dec, err := openDriver(ctx, cfg, feed, logger)
	if err != nil {
		if feedCloser != nil {
			_ = feedCloser()
		}
		return nil, err
	}
	logger.Debug("Database opened", "driver", cfg.Driver.Type, "changefeed", cfg.Changefeed.Type, "environment", cfg.Environment)

	base := []Option{WithEnvironment(model.Environment(cfg.Environment)), WithDecoder(dec)}
	if feedCloser != nil {
		base = append(base, withCloser(feedCloser))
	}
	return New(drv, s, append(base, opts...)...), nil
}

// openFeed returns nil when the driver should use its own in-process feed.
func openFeed(cfg config.ChangefeedConfig, logger *slog.Logger) (changefeed.Feed, error) {
	switch cfg.Type {
	case "", "memory":
		return nil, nil
	case "nats":
		feed, err := connectNats(cfg.Nats.URL, natsfeed.Options{SubjectPrefix: cfg.Nats.SubjectPrefix, Logger: logger})
		if err != nil {
			return nil, err
		}
		return feed, nil
	}
	return nil, fmt.Errorf("unknown changefeed type %q", cfg.Type)
}

func openDriver(ctx context.Context, cfg *config.Config, feed changefeed.Feed, logger *slog.Logger) (driver.Driver, driver.Decoder, error) {
	attempts := cfg.Transaction.MaxAttempts
	switch cfg.Driver.Type {
	case "", "memory":
		opts := []memory.Option{memory.WithLogger(logger), memory.WithMaxAttempts(attempts)}
		if feed != nil {
			opts = append(opts, memory.WithFeed(feed))
		}
		d, err := memory.New(opts...)
		if err != nil {
			return nil, nil, err
		}
		return d, driver.Identity, nil
	case "mongo":
		m := cfg.Driver.Mongo
		d, err := connectMongo(ctx, mongo.Options{
			URI:                 m.URI,
			Database:            m.DatabaseName,
			Collection:          m.DataCollection,
			SoftDeleteRetention: m.SoftDeleteRetention,
			Watch:               m.Watch,
			Feed:                feed,
			Logger:              logger,
			MaxAttempts:         attempts,
		})
		if err != nil {
			return nil, nil, err
		}
		return d, mongo.Decode, nil
	case "remote":
		r := cfg.Driver.Remote
		d, err := remote.New(remote.Options{
			URL:         r.URL,
			Token:       r.Token,
			Timeout:     r.Timeout,
			Logger:      logger,
			MaxAttempts: attempts,
		})
		if err != nil {
			return nil, nil, err
		}
		return d, driver.Identity, nil
	}
	return nil, nil, fmt.Errorf("unknown driver type %q", cfg.Driver.Type)
}
