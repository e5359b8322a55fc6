// Package main provides the typestore command line tool: it reads, writes
// and watches documents through the configured driver, and can serve that
// driver as a gateway for remote clients.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/syntrixbase/typestore/internal/config"
	"github.com/syntrixbase/typestore/internal/logging"
	"github.com/syntrixbase/typestore/pkg/client"
	"github.com/syntrixbase/typestore/pkg/driver/remote"
	"github.com/syntrixbase/typestore/pkg/model"
	"github.com/syntrixbase/typestore/pkg/query"
	"github.com/syntrixbase/typestore/pkg/schema"
)

// Version is the tool version (can be overridden at build time).
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `typestore - typed document access from the command line

Usage:
  typestore <command> [flags] <collection path> [args]

Commands:
  get     <path> <id>          print one document
  all     <path>               print every document, or the query result
  count   <path>               print the number of matching documents
  watch   <path> [id]          print the result every time it changes
  set     <path> <id> <json>   replace a document
  remove  <path> <id>          delete a document
  serve                        expose the configured driver over HTTP
  version                      print the version

Flags:
  -config <dir>     configuration directory (default "config")
  -group            treat <path> as a collection group name
  -where f=v        equality filter, repeatable; v is parsed as JSON when valid
  -order f[:desc]   order by field
  -limit n          limit the result
  -addr addr        listen address for serve (default ":8080")
`)
}

type filters []string

func (f *filters) String() string     { return strings.Join(*f, ",") }
func (f *filters) Set(v string) error { *f = append(*f, v); return nil }

type options struct {
	configDir string
	group     bool
	where     filters
	order     string
	limit     int
	addr      string
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		printUsage(stdout)
		return errors.New("missing command")
	}
	command := args[0]
	switch command {
	case "help", "-h", "--help":
		printUsage(stdout)
		return nil
	case "version":
		fmt.Fprintf(stdout, "typestore version %s\n", Version)
		return nil
	}

	var opts options
	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.configDir, "config", "config", "configuration directory")
	fs.BoolVar(&opts.group, "group", false, "collection group")
	fs.Var(&opts.where, "where", "equality filter")
	fs.StringVar(&opts.order, "order", "", "order field")
	fs.IntVar(&opts.limit, "limit", -1, "result limit")
	fs.StringVar(&opts.addr, "addr", ":8080", "listen address")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	rest := fs.Args()

	cfg, err := config.Load(opts.configDir)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := logging.Initialize(cfg.Logging); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.Shutdown()

	switch command {
	case "serve":
		return serve(ctx, cfg, opts.addr)
	case "get", "all", "count", "watch", "set", "remove":
	default:
		return fmt.Errorf("unknown command: %s", command)
	}

	if len(rest) == 0 {
		return fmt.Errorf("%s: missing collection path", command)
	}
	s, err := schemaFor(rest[0], opts.group)
	if err != nil {
		return err
	}
	db, err := client.Open(ctx, cfg, s)
	if err != nil {
		return err
	}
	defer db.Close(context.Background())

	out := json.NewEncoder(stdout)
	switch command {
	case "get":
		if len(rest) != 2 {
			return errors.New("get: usage: get <path> <id>")
		}
		coll, err := collection(db, rest[0])
		if err != nil {
			return err
		}
		p, err := coll.Get(rest[1])
		if err != nil {
			return err
		}
		doc, err := p.Await(ctx)
		if err != nil {
			return err
		}
		if doc == nil {
			return fmt.Errorf("%s/%s: %w", rest[0], rest[1], model.ErrNotFound)
		}
		return out.Encode(view(doc))

	case "all":
		p, err := readAll(db, rest[0], opts)
		if err != nil {
			return err
		}
		docs, err := p.Await(ctx)
		if err != nil {
			return err
		}
		for _, doc := range docs {
			if err := out.Encode(view(doc)); err != nil {
				return err
			}
		}
		return nil

	case "count":
		n, err := count(ctx, db, rest[0], opts)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, n)
		return nil

	case "watch":
		return watch(ctx, db, rest, opts, out)

	case "set":
		if len(rest) != 3 {
			return errors.New("set: usage: set <path> <id> <json>")
		}
		var data map[string]interface{}
		if err := json.Unmarshal([]byte(rest[2]), &data); err != nil {
			return fmt.Errorf("set: invalid document: %w", err)
		}
		coll, err := collection(db, rest[0])
		if err != nil {
			return err
		}
		return coll.Set(ctx, rest[1], data)

	case "remove":
		if len(rest) != 2 {
			return errors.New("remove: usage: remove <path> <id>")
		}
		coll, err := collection(db, rest[0])
		if err != nil {
			return err
		}
		return coll.Remove(ctx, rest[1])
	}
	return nil
}

// schemaFor declares the collections along path, with any document shape.
func schemaFor(path string, group bool) (*schema.Schema, error) {
	if group {
		if !model.CheckDocumentID(path) {
			return nil, fmt.Errorf("invalid group name %q", path)
		}
		return schema.New(schema.Collection(path, nil))
	}
	if err := model.ValidateCollectionPath(path); err != nil {
		return nil, err
	}
	parts := strings.Split(path, "/")
	var decl *schema.Decl
	for i := len(parts) - 1; i >= 0; i -= 2 {
		if decl == nil {
			decl = schema.Collection(parts[i], nil)
		} else {
			decl = schema.Collection(parts[i], nil, decl)
		}
	}
	return schema.New(decl)
}

// collection walks path through the subcollections schemaFor declared.
func collection(db *client.DB, path string) (*client.Collection, error) {
	parts := strings.Split(path, "/")
	coll, err := db.Collection(parts[0])
	if err != nil {
		return nil, err
	}
	for i := 2; i < len(parts); i += 2 {
		coll, err = coll.Sub(parts[i-1], parts[i])
		if err != nil {
			return nil, err
		}
	}
	return coll, nil
}

// queryable is what collections and groups share.
type queryable interface {
	All(opts ...client.ReadOption) (*client.DocsPromise, error)
	Query(fn query.Func, opts ...client.ReadOption) (*client.QueryPromise, error)
	Count(ctx context.Context) (int, error)
}

func target(db *client.DB, path string, opts options) (queryable, error) {
	if opts.group {
		return client.Groups(db).Collection(path)
	}
	return collection(db, path)
}

func (o options) filtered() bool {
	return len(o.where) > 0 || o.order != "" || o.limit >= 0
}

// queryFunc turns the -where, -order and -limit flags into a query.
func (o options) queryFunc() query.Func {
	return func(q *query.Helpers) []*query.Node {
		nodes := []*query.Node{}
		for _, w := range o.where {
			name, raw, _ := strings.Cut(w, "=")
			var value interface{}
			if err := json.Unmarshal([]byte(raw), &value); err != nil {
				value = raw
			}
			nodes = append(nodes, field(q, name).Eq(value))
		}
		if o.order != "" {
			name, dir, _ := strings.Cut(o.order, ":")
			direction := model.Asc
			if dir == "desc" {
				direction = model.Desc
			}
			nodes = append(nodes, field(q, name).Order(direction))
		}
		if o.limit >= 0 {
			nodes = append(nodes, q.Limit(o.limit))
		}
		return nodes
	}
}

// field resolves a dotted path; "id" selects the document id and numeric
// segments index arrays.
func field(q *query.Helpers, name string) *query.Field {
	if name == "id" {
		return q.DocID()
	}
	parts := strings.Split(name, ".")
	path := make([]interface{}, len(parts))
	for i, p := range parts {
		if n, err := strconv.Atoi(p); err == nil {
			path[i] = n
		} else {
			path[i] = p
		}
	}
	return q.Field(path...)
}

func readAll(db *client.DB, path string, opts options) (*client.DocsPromise, error) {
	t, err := target(db, path, opts)
	if err != nil {
		return nil, err
	}
	if !opts.filtered() {
		return t.All()
	}
	p, err := t.Query(opts.queryFunc())
	if err != nil {
		return nil, err
	}
	return p.DocsPromise, nil
}

func count(ctx context.Context, db *client.DB, path string, opts options) (int, error) {
	t, err := target(db, path, opts)
	if err != nil {
		return 0, err
	}
	if !opts.filtered() {
		return t.Count(ctx)
	}
	p, err := t.Query(opts.queryFunc())
	if err != nil {
		return 0, err
	}
	return p.Count(ctx)
}

func watch(ctx context.Context, db *client.DB, rest []string, opts options, out *json.Encoder) error {
	errs := make(chan error, 1)
	report := func(err error) {
		select {
		case errs <- err:
		default:
		}
	}

	if len(rest) == 2 && !opts.group {
		coll, err := collection(db, rest[0])
		if err != nil {
			return err
		}
		p, err := coll.Get(rest[1])
		if err != nil {
			return err
		}
		l, err := p.Listen(func(doc *model.Document) {
			var v interface{}
			if doc != nil {
				v = view(doc)
			}
			if err := out.Encode(v); err != nil {
				report(err)
			}
		})
		if err != nil {
			return err
		}
		defer l.Off()
		defer l.Catch(report)()
	} else {
		p, err := readAll(db, rest[0], opts)
		if err != nil {
			return err
		}
		l, err := p.Listen(func(docs []*model.Document) {
			views := make([]docView, len(docs))
			for i, doc := range docs {
				views[i] = view(doc)
			}
			if err := out.Encode(views); err != nil {
				report(err)
			}
		})
		if err != nil {
			return err
		}
		defer l.Off()
		defer l.Catch(report)()
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errs:
		return err
	}
}

type docView struct {
	Path    string                 `json:"path"`
	Data    map[string]interface{} `json:"data"`
	Version int64                  `json:"version,omitempty"`
}

func view(doc *model.Document) docView {
	return docView{Path: doc.Ref.String(), Data: doc.Data, Version: doc.Version}
}

// serve exposes the configured driver as a gateway until ctx ends.
func serve(ctx context.Context, cfg *config.Config, addr string) error {
	db, err := client.Open(ctx, cfg, schema.MustNew())
	if err != nil {
		return err
	}
	defer db.Close(context.Background())

	srv := &http.Server{
		Addr:              addr,
		Handler:           remote.NewServer(db.Driver(), remote.ServerOptions{Token: cfg.Driver.Remote.Token}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Gateway listening", "addr", addr, "driver", cfg.Driver.Type)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	slog.Info("Shutting down gateway")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
