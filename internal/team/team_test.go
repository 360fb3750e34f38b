package team

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appkernel/internal/generation"
)

type fixedPlanner struct {
	manifest []generation.ManifestEntry
}

func (p *fixedPlanner) Plan(ctx context.Context, req generation.Request) ([]generation.ManifestEntry, error) {
	return p.manifest, nil
}

// scriptedInvoker answers generation prompts with canned content and review
// prompts with canned verdicts.
type scriptedInvoker struct {
	mu        sync.Mutex
	verdicts  map[string]string // path substring -> raw verdict JSON
	failPaths map[string]bool   // path substring -> fail generation
	calls     []string          // system prompts seen, in order
}

func (s *scriptedInvoker) InvokeAs(ctx context.Context, req generation.Request, system, prompt string) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, system)
	s.mu.Unlock()

	if strings.Contains(prompt, "Review this file") {
		for key, v := range s.verdicts {
			if strings.Contains(prompt, key) {
				return v, nil
			}
		}
		return `{"has_errors": false}`, nil
	}
	if strings.Contains(prompt, "Fix these defects") {
		return "repaired content", nil
	}
	for key := range s.failPaths {
		if strings.Contains(prompt, key) {
			return "", fmt.Errorf("backend refused %s", key)
		}
	}
	return "generated content", nil
}

type memWriter struct {
	mu    sync.Mutex
	files map[string]string
}

func newMemWriter() *memWriter { return &memWriter{files: make(map[string]string)} }

func (w *memWriter) Write(projectID, relPath, content string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.files[projectID+"/"+relPath] = content
	return nil
}
func (w *memWriter) FileCount(projectID string) int { return len(w.files) }
func (w *memWriter) Exists(projectID string) bool   { return len(w.files) > 0 }

func testManifest() []generation.ManifestEntry {
	return []generation.ManifestEntry{
		{Path: "pubspec.yaml", Type: "config"},
		{Path: "lib/models/user.dart", Type: "models"},
		{Path: "lib/screens/home.dart", Type: "screens"},
		{Path: "test/user_test.dart", Type: "tests"},
	}
}

func TestRun_FanOutProducesAllFiles(t *testing.T) {
	inv := &scriptedInvoker{}
	writer := newMemWriter()
	o := New(&fixedPlanner{manifest: testManifest()}, inv, writer, generation.NewBroadcaster(), nil)

	results, err := o.Run(context.Background(), generation.Request{ProjectID: "p", Name: "P"})
	require.NoError(t, err)
	require.Len(t, results, 4)

	paths := map[string]string{}
	for _, r := range results {
		paths[r.Path] = r.Agent
		assert.False(t, r.Fixed)
	}
	assert.Equal(t, "architect", paths["pubspec.yaml"])
	assert.Equal(t, "backend", paths["lib/models/user.dart"])
	assert.Equal(t, "frontend", paths["lib/screens/home.dart"])
	assert.Equal(t, "testing", paths["test/user_test.dart"])

	assert.Len(t, writer.files, 4)
}

func TestRun_ReviewFixInPlace(t *testing.T) {
	inv := &scriptedInvoker{
		verdicts: map[string]string{
			"home.dart": `{"has_errors": true, "errors": ["missing import"], "fixed_code": "fixed home screen"}`,
		},
	}
	writer := newMemWriter()
	bus := generation.NewBroadcaster()
	ch, cancel := bus.Subscribe()
	defer cancel()

	o := New(&fixedPlanner{manifest: testManifest()}, inv, writer, bus, nil)
	results, err := o.Run(context.Background(), generation.Request{ProjectID: "p", Name: "P"})
	require.NoError(t, err)

	// Review-and-fix never adds or removes files.
	require.Len(t, results, 4)

	var fixed *FileResult
	for i := range results {
		if results[i].Path == "lib/screens/home.dart" {
			fixed = &results[i]
		}
	}
	require.NotNil(t, fixed)
	assert.True(t, fixed.Fixed)
	assert.Equal(t, "fixer", fixed.Agent)
	assert.Equal(t, "fixed home screen", fixed.Content)
	assert.Equal(t, "fixed home screen", writer.files["p/lib/screens/home.dart"])

	// A file_created event tagged fixer was emitted.
	sawFixer := false
	for len(ch) > 0 {
		ev := <-ch
		if ev.Type == generation.EventFileCreated && ev.Agent == "fixer" {
			sawFixer = true
		}
	}
	assert.True(t, sawFixer, "expected a fixer-tagged file_created event")
}

func TestRun_ReviewWithoutFixedCodeCallsFixer(t *testing.T) {
	inv := &scriptedInvoker{
		verdicts: map[string]string{
			"user.dart": `{"has_errors": true, "errors": ["null check missing"]}`,
		},
	}
	writer := newMemWriter()
	o := New(&fixedPlanner{manifest: testManifest()}, inv, writer, generation.NewBroadcaster(), nil)

	results, err := o.Run(context.Background(), generation.Request{ProjectID: "p", Name: "P"})
	require.NoError(t, err)

	for _, r := range results {
		if r.Path == "lib/models/user.dart" {
			assert.True(t, r.Fixed)
			assert.Equal(t, "repaired content", r.Content)
		}
	}
}

func TestRun_FailedFilesExcluded(t *testing.T) {
	inv := &scriptedInvoker{failPaths: map[string]bool{"home.dart": true}}
	writer := newMemWriter()
	o := New(&fixedPlanner{manifest: testManifest()}, inv, writer, generation.NewBroadcaster(), nil)

	results, err := o.Run(context.Background(), generation.Request{ProjectID: "p", Name: "P"})
	require.NoError(t, err)
	assert.Len(t, results, 3)
	for _, r := range results {
		assert.NotEqual(t, "lib/screens/home.dart", r.Path)
	}
}

func TestRun_SingleFlightPerProject(t *testing.T) {
	block := make(chan struct{})
	planner := &blockingPlanner{release: block, entered: make(chan struct{})}
	o := New(planner, &scriptedInvoker{}, newMemWriter(), generation.NewBroadcaster(), nil)

	done := make(chan struct{})
	go func() {
		o.Run(context.Background(), generation.Request{ProjectID: "p", Name: "P"})
		close(done)
	}()

	<-planner.entered
	_, err := o.Run(context.Background(), generation.Request{ProjectID: "p", Name: "P"})
	assert.Error(t, err)
	assert.True(t, o.IsRunning("p"))

	close(block)
	<-done
	assert.False(t, o.IsRunning("p"))
}

type blockingPlanner struct {
	release <-chan struct{}
	entered chan struct{}
	once    sync.Once
}

func (p *blockingPlanner) Plan(ctx context.Context, req generation.Request) ([]generation.ManifestEntry, error) {
	p.once.Do(func() {
		if p.entered != nil {
			close(p.entered)
		}
	})
	<-p.release
	return nil, nil
}

func TestGroupFor(t *testing.T) {
	tests := []struct {
		entry generation.ManifestEntry
		want  string
	}{
		{generation.ManifestEntry{Path: "x", Type: "widgets"}, "widgets"},
		{generation.ManifestEntry{Path: "lib/services/api_client.dart"}, "services"},
		{generation.ManifestEntry{Path: "lib/screens/login_page.dart"}, "screens"},
		{generation.ManifestEntry{Path: "test/foo_test.dart"}, "tests"},
		{generation.ManifestEntry{Path: "pubspec.yaml"}, "config"},
		{generation.ManifestEntry{Path: "lib/utils/math.dart"}, "core"},
		{generation.ManifestEntry{Path: "server/handler.go"}, "backend"},
	}
	for _, tt := range tests {
		if got := groupFor(tt.entry); got != tt.want {
			t.Errorf("groupFor(%+v) = %s, want %s", tt.entry, got, tt.want)
		}
	}
}

func TestParseVerdict_Fenced(t *testing.T) {
	v, err := parseVerdict("```json\n{\"has_errors\": true, \"errors\": [\"x\"]}\n```")
	require.NoError(t, err)
	assert.True(t, v.HasErrors)

	_, err = parseVerdict("sorry, I cannot")
	assert.Error(t, err)
}
