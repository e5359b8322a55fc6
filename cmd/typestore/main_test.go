package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/typestore/pkg/driver/memory"
	"github.com/syntrixbase/typestore/pkg/driver/remote"
	"github.com/syntrixbase/typestore/pkg/model"
)

// setupConfig starts a gateway over an in-memory driver and writes a config
// directory pointing the remote driver at it.
func setupConfig(t *testing.T) string {
	backend, err := memory.New()
	require.NoError(t, err)
	srv := httptest.NewServer(remote.NewServer(backend, remote.ServerOptions{}).Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = backend.Close(context.Background())
	})

	dir := t.TempDir()
	cfg := fmt.Sprintf(`driver:
  type: remote
  remote:
    url: %s
logging:
  console:
    enabled: false
`, srv.URL)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte(cfg), 0644))
	return dir
}

func runCmd(t *testing.T, dir string, args ...string) (string, error) {
	var out bytes.Buffer
	full := append([]string{args[0], "-config", dir}, args[1:]...)
	err := run(context.Background(), full, &out)
	return out.String(), err
}

func decodeLines(t *testing.T, out string) []docView {
	var views []docView
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		var v docView
		require.NoError(t, json.Unmarshal(sc.Bytes(), &v))
		views = append(views, v)
	}
	return views
}

func paths(views []docView) []string {
	out := make([]string, len(views))
	for i, v := range views {
		out[i] = v.Path
	}
	return out
}

func TestRun_Usage(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"help"}, &out))
	for _, s := range []string{"Usage:", "Commands:", "watch", "serve", "-where"} {
		assert.Contains(t, out.String(), s)
	}

	out.Reset()
	assert.Error(t, run(context.Background(), nil, &out))
	assert.Contains(t, out.String(), "Usage:")
}

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"version"}, &out))
	assert.Equal(t, "typestore version dev\n", out.String())
}

func TestRun_Errors(t *testing.T) {
	dir := setupConfig(t)
	tests := []struct {
		name string
		args []string
	}{
		{"unknown command", []string{"frobnicate", "users"}},
		{"bad flag", []string{"all", "-nope", "users"}},
		{"missing path", []string{"all"}},
		{"document path", []string{"all", "users/u1"}},
		{"get without id", []string{"get", "users"}},
		{"set bad json", []string{"set", "users", "u1", "{"}},
		{"get missing", []string{"get", "users", "nobody"}},
		{"invalid field", []string{"all", "-where", "a..b=1", "users"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCmd(t, dir, tt.args...)
			assert.Error(t, err)
		})
	}

	_, err := runCmd(t, dir, "get", "users", "nobody")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestRun_Documents(t *testing.T) {
	dir := setupConfig(t)

	for _, args := range [][]string{
		{"set", "users", "ada", `{"name":"Ada","age":36}`},
		{"set", "users", "alan", `{"name":"Alan","age":41}`},
		{"set", "users", "grace", `{"name":"Grace","age":85,"address":{"city":"NYC"}}`},
		{"set", "users/ada/posts", "p1", `{"title":"Notes"}`},
		{"set", "users/alan/posts", "p2", `{"title":"Computing"}`},
	} {
		_, err := runCmd(t, dir, args...)
		require.NoError(t, err, args)
	}

	out, err := runCmd(t, dir, "get", "users", "ada")
	require.NoError(t, err)
	views := decodeLines(t, out)
	require.Len(t, views, 1)
	assert.Equal(t, "users/ada", views[0].Path)
	assert.Equal(t, map[string]interface{}{"name": "Ada", "age": float64(36)}, views[0].Data)

	tests := []struct {
		name string
		args []string
		want []string
	}{
		{"all", []string{"all", "users"}, []string{"users/ada", "users/alan", "users/grace"}},
		{"where", []string{"all", "-where", "name=Alan", "users"}, []string{"users/alan"}},
		{"where number", []string{"all", "-where", "age=85", "users"}, []string{"users/grace"}},
		{"where nested", []string{"all", "-where", "address.city=NYC", "users"}, []string{"users/grace"}},
		{"order desc limit", []string{"all", "-order", "age:desc", "-limit", "2", "users"}, []string{"users/grace", "users/alan"}},
		{"order by id", []string{"all", "-order", "id:desc", "users"}, []string{"users/grace", "users/alan", "users/ada"}},
		{"subcollection", []string{"all", "users/ada/posts"}, []string{"users/ada/posts/p1"}},
		{"group", []string{"all", "-group", "posts"}, []string{"users/ada/posts/p1", "users/alan/posts/p2"}},
		{"group query", []string{"all", "-group", "-where", "title=Computing", "posts"}, []string{"users/alan/posts/p2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runCmd(t, dir, tt.args...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, paths(decodeLines(t, out)))
		})
	}

	out, err = runCmd(t, dir, "count", "users")
	require.NoError(t, err)
	assert.Equal(t, "3\n", out)

	out, err = runCmd(t, dir, "count", "-limit", "1", "users")
	require.NoError(t, err)
	assert.Equal(t, "1\n", out)

	out, err = runCmd(t, dir, "count", "-group", "posts")
	require.NoError(t, err)
	assert.Equal(t, "2\n", out)

	_, err = runCmd(t, dir, "remove", "users", "alan")
	require.NoError(t, err)
	_, err = runCmd(t, dir, "get", "users", "alan")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

// syncBuffer is written by subscription callbacks while the test reads it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRun_Watch(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		initial string
	}{
		{"query", []string{"users"}, "[]"},
		{"document", []string{"users", "ada"}, "null"},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := setupConfig(t)
			args := append([]string{"watch", "-config", dir}, tt.args...)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			var out syncBuffer
			done := make(chan error, 1)
			go func() { done <- run(ctx, args, &out) }()

			require.Eventually(t, func() bool {
				return strings.HasPrefix(out.String(), tt.initial)
			}, 2*time.Second, 10*time.Millisecond)

			_, err := runCmd(t, dir, "set", "users", "ada", fmt.Sprintf(`{"name":"Ada","n":%d}`, i))
			require.NoError(t, err)
			require.Eventually(t, func() bool {
				return strings.Contains(out.String(), `"users/ada"`)
			}, 2*time.Second, 10*time.Millisecond)

			cancel()
			select {
			case err := <-done:
				assert.NoError(t, err)
			case <-time.After(2 * time.Second):
				t.Fatal("watch did not stop")
			}
		})
	}
}

func TestSchemaFor(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		group bool
		ok    bool
	}{
		{"root", "users", false, true},
		{"nested", "users/u1/posts/p1/comments", false, true},
		{"document path", "users/u1", false, false},
		{"empty", "", false, false},
		{"group", "posts", true, true},
		{"group with slash", "users/posts", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := schemaFor(tt.path, tt.group)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.group {
				_, err = s.Group(tt.path)
				assert.NoError(t, err)
			}
		})
	}
}

func TestServe(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte("logging:\n  console:\n    enabled: false\n"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, []string{"serve", "-config", dir, "-addr", "127.0.0.1:0"}, &bytes.Buffer{}) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}

	err := run(context.Background(), []string{"serve", "-config", dir, "-addr", "bad-address"}, &bytes.Buffer{})
	assert.Error(t, err)
}
