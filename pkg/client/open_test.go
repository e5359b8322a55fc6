package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/typestore/internal/config"
	natsfeed "github.com/syntrixbase/typestore/pkg/changefeed/nats"
	"github.com/syntrixbase/typestore/pkg/driver/memory"
	"github.com/syntrixbase/typestore/pkg/driver/mongo"
	"github.com/syntrixbase/typestore/pkg/driver/remote"
	"github.com/syntrixbase/typestore/pkg/model"
)

func TestOpen_Memory(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Environment = "client"

	db, err := Open(ctx, cfg, testSchema())
	require.NoError(t, err)
	defer db.Close(ctx)

	assert.Equal(t, model.EnvClient, db.Environment())
	assert.IsType(t, &memory.Driver{}, db.Driver())

	books := seed(t, db)
	p, err := books.Get("dune")
	require.NoError(t, err)
	doc, err := p.Await(ctx)
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, model.EnvClient, doc.Props.Environment)
}

func TestOpen_NilConfig(t *testing.T) {
	db, err := Open(context.Background(), nil, testSchema())
	require.NoError(t, err)
	assert.Equal(t, model.EnvServer, db.Environment())
	require.NoError(t, db.Close(context.Background()))
}

func TestOpen_Remote(t *testing.T) {
	ctx := context.Background()
	backend, err := memory.New()
	require.NoError(t, err)
	defer backend.Close(ctx)
	srv := httptest.NewServer(remote.NewServer(backend, remote.ServerOptions{Token: "secret"}).Handler())
	defer srv.Close()

	cfg := config.Default()
	cfg.Driver.Type = "remote"
	cfg.Driver.Remote.URL = srv.URL
	cfg.Driver.Remote.Token = "secret"
	cfg.Changefeed.Type = "nats"

	orig := connectNats
	defer func() { connectNats = orig }()
	connectNats = func(string, natsfeed.Options, ...nats.Option) (*natsfeed.Feed, error) {
		t.Fatal("a remote driver needs no change feed")
		return nil, nil
	}

	db, err := Open(ctx, cfg, testSchema())
	require.NoError(t, err)
	defer db.Close(ctx)

	books := seed(t, db)
	p, err := books.Get("sapiens")
	require.NoError(t, err)
	doc, err := p.Await(ctx)
	require.NoError(t, err)
	b, err := model.As[book](doc)
	require.NoError(t, err)
	assert.Equal(t, book{Title: "Sapiens", Year: 2011}, b)

	raw, err := backend.FetchOne(ctx, model.Ref{Collection: "books", ID: "dune"})
	require.NoError(t, err)
	assert.NotNil(t, raw)
}

func TestOpen_Errors(t *testing.T) {
	origNats, origMongo := connectNats, connectMongo
	defer func() { connectNats, connectMongo = origNats, origMongo }()
	connectNats = func(string, natsfeed.Options, ...nats.Option) (*natsfeed.Feed, error) {
		return nil, errors.New("nats down")
	}
	connectMongo = func(context.Context, mongo.Options) (*mongo.Driver, error) {
		return nil, errors.New("mongo down")
	}

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"unknown driver", func(c *config.Config) { c.Driver.Type = "sqlite" }, `unknown driver type "sqlite"`},
		{"unknown feed", func(c *config.Config) { c.Changefeed.Type = "kafka" }, `unknown changefeed type "kafka"`},
		{"nats", func(c *config.Config) { c.Changefeed.Type = "nats" }, "nats down"},
		{"mongo", func(c *config.Config) { c.Driver.Type = "mongo" }, "mongo down"},
		{"remote url", func(c *config.Config) { c.Driver.Type = "remote"; c.Driver.Remote.URL = "ftp://x" }, "scheme must be http or https"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)
			_, err := Open(context.Background(), cfg, testSchema())
			assert.ErrorContains(t, err, tt.want)
		})
	}
}
