package harvest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/novel-harvester/internal/progress"
	"github.com/JakeFAU/novel-harvester/internal/storage/memory"
	"github.com/JakeFAU/novel-harvester/internal/store"
)

const testTitle = "測試小說"

func makeCollection(n int) Collection {
	items := make([]Item, 0, n)
	for i := 1; i <= n; i++ {
		items = append(items, Item{
			URL:   fmt.Sprintf("https://czbooks.net/n/abc/ch%d", i),
			Title: fmt.Sprintf("第%d章", i),
		})
	}
	return Collection{ID: "abc", Title: testTitle, Items: items}
}

func contentFor(item Item) string {
	return "content of " + item.Title
}

// scriptedFetcher returns contentFor(item) unless a failure is scripted for
// the item's URL.
type scriptedFetcher struct {
	mu       sync.Mutex
	failures map[string]error
	calls    []string
	hook     func(item Item)
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{failures: make(map[string]error)}
}

func (f *scriptedFetcher) failOn(url string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[url] = err
}

func (f *scriptedFetcher) heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = make(map[string]error)
}

func (f *scriptedFetcher) Fetch(ctx context.Context, item Item) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, item.URL)
	err := f.failures[item.URL]
	hook := f.hook
	f.mu.Unlock()
	if hook != nil {
		hook(item)
	}
	if err != nil {
		return "", err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	return contentFor(item), nil
}

func (f *scriptedFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *scriptedFetcher) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// flakyArtifacts fails PutObject for paths listed in failPaths.
type flakyArtifacts struct {
	*memory.BlobStore
	mu        sync.Mutex
	failPaths map[string]bool
}

func newFlakyArtifacts() *flakyArtifacts {
	return &flakyArtifacts{BlobStore: memory.NewBlobStore(), failPaths: make(map[string]bool)}
}

func (a *flakyArtifacts) failOn(path string, fail bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failPaths[path] = fail
}

func (a *flakyArtifacts) PutObject(ctx context.Context, path, contentType string, data io.Reader) (string, error) {
	a.mu.Lock()
	fail := a.failPaths[path]
	a.mu.Unlock()
	if fail {
		return "", errors.New("disk full")
	}
	return a.BlobStore.PutObject(ctx, path, contentType, data)
}

// failingStore fails Save once armed.
type failingStore struct {
	*memory.ProgressStore
	mu       sync.Mutex
	failSave bool
}

func (s *failingStore) Save(ctx context.Context, rec store.Record) error {
	s.mu.Lock()
	fail := s.failSave
	s.mu.Unlock()
	if fail {
		return errors.New("database is locked")
	}
	return s.ProgressStore.Save(ctx, rec)
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) Events() []progress.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]progress.Event(nil), r.events...)
}

func (r *recordingEmitter) OfKind(kind progress.Kind) []progress.Event {
	var out []progress.Event
	for _, evt := range r.Events() {
		if evt.Kind == kind {
			out = append(out, evt)
		}
	}
	return out
}

func (r *recordingEmitter) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type fixture struct {
	store     *memory.ProgressStore
	fetcher   *scriptedFetcher
	artifacts *flakyArtifacts
	events    *recordingEmitter
	h         *Harvester
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:     memory.NewProgressStore(store.DefaultBufferRetention),
		fetcher:   newScriptedFetcher(),
		artifacts: newFlakyArtifacts(),
		events:    &recordingEmitter{},
	}
	f.h = New(Config{}, f.store, f.fetcher, f.artifacts, f.events, zap.NewNop())
	return f
}

func (f *fixture) artifact(t *testing.T, path string) string {
	t.Helper()
	content, ok := f.artifacts.Object(path)
	require.Truef(t, ok, "artifact %s missing; have %v", path, f.artifacts.Paths())
	return content
}

func blocksFor(coll Collection, from, to int) string {
	var b strings.Builder
	for _, item := range coll.Items[from-1 : to] {
		b.WriteString(FormatBlock(item, contentFor(item)))
	}
	return b.String()
}
