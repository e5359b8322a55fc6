package driver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/syntrixbase/typestore/pkg/changefeed"
	"github.com/syntrixbase/typestore/pkg/model"
)

// Fetcher runs a request once.
type Fetcher interface {
	FetchOne(ctx context.Context, ref model.Ref) (*RawDoc, error)
	FetchMany(ctx context.Context, collection string, ids []string) ([]*RawDoc, error)
	FetchAll(ctx context.Context, scope model.Scope) ([]*RawDoc, error)
	FetchQuery(ctx context.Context, scope model.Scope, nodes []model.QueryNode) ([]*RawDoc, error)
}

// Fetch runs req once through f. A get result is a one element slice, nil
// when the document is missing.
func Fetch(ctx context.Context, f Fetcher, req model.Request) ([]*RawDoc, error) {
	switch req.Kind {
	case model.KindGet:
		doc, err := f.FetchOne(ctx, model.Ref{Collection: req.Path(), ID: req.ID})
		if err != nil {
			return nil, err
		}
		return []*RawDoc{doc}, nil
	case model.KindMany:
		return f.FetchMany(ctx, req.Path(), req.IDs)
	case model.KindAll:
		return f.FetchAll(ctx, req.Scope)
	case model.KindQuery:
		return f.FetchQuery(ctx, req.Scope, req.Queries)
	}
	return nil, model.WrapDriverError("fetch", fmt.Errorf("%s requests: %w", req.Kind, model.ErrUnsupported))
}

// Affects reports whether ev can change the result of req.
func Affects(req model.Request, ev changefeed.Event) bool {
	switch req.Kind {
	case model.KindGet:
		return ev.ID == req.ID
	case model.KindMany:
		for _, id := range req.IDs {
			if id == ev.ID {
				return true
			}
		}
		return false
	}
	return true
}

// SubscribeFeed serves a subscription by refetching req through f every time
// feed reports a change that affects it. The first result is fetched right
// away. Delivery happens on one goroutine per subscription and changes
// arriving while a result is computed are coalesced.
func SubscribeFeed(feed changefeed.Feed, f Fetcher, req model.Request, onNext func([]*RawDoc), onError func(error), logger *slog.Logger) (Unsubscribe, error) {
	switch req.Kind {
	case model.KindGet, model.KindMany, model.KindAll, model.KindQuery:
	default:
		return nil, model.WrapDriverError("subscribe", fmt.Errorf("%s requests: %w", req.Kind, model.ErrUnsupported))
	}

	ctx, cancel := context.WithCancel(context.Background())
	trigger := make(chan struct{}, 1)
	trigger <- struct{}{}

	unsubscribeFeed, err := feed.Subscribe(req.Scope, func(ev changefeed.Event) {
		if !Affects(req, ev) {
			return
		}
		select {
		case trigger <- struct{}{}:
		default:
		}
	})
	if err != nil {
		cancel()
		return nil, model.WrapDriverError("subscribe", err)
	}

	logger.Debug("Subscription started", "request", req.String())
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-trigger:
			}
			docs, err := Fetch(ctx, f, req)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				onError(err)
				continue
			}
			onNext(docs)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			unsubscribeFeed()
			logger.Debug("Subscription stopped", "request", req.String())
		})
	}, nil
}
