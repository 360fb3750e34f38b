package generation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"appkernel/internal/config"
)

type fakePlanner struct {
	manifest []ManifestEntry
	err      error
}

func (f *fakePlanner) Plan(ctx context.Context, req Request) ([]ManifestEntry, error) {
	return f.manifest, f.err
}

type fakeGenerator struct {
	content string
	gate    chan struct{} // when non-nil, each call blocks until a token arrives
}

func (f *fakeGenerator) GenerateFile(ctx context.Context, req Request, entry ManifestEntry) (string, error) {
	if f.gate != nil {
		<-f.gate
	}
	return f.content, nil
}

const sampleContent = `import 'package:flutter/material.dart';

class HomeScreen extends StatelessWidget {
  @override
  Widget build(BuildContext context) {
    return Scaffold(
      body: Center(child: Text('hello')),
    );
  }
}`

func newTestEngine(t *testing.T, planner Planner, gen Generator) (*Engine, *Broadcaster) {
	t.Helper()
	bus := NewBroadcaster()
	writer := NewDiskWriter(t.TempDir())
	e := NewEngine(planner, gen, writer, bus, config.PacingConfig{}, nil)
	e.pace = instantPacing()
	return e, bus
}

// collect drains events until a terminal one or the deadline.
func collect(t *testing.T, ch <-chan Event, deadline time.Duration) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(deadline)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
			if ev.terminal() {
				return events
			}
		case <-timeout:
			t.Fatalf("timed out waiting for terminal event; got %d events", len(events))
		}
	}
}

func TestStart_SingleFlight(t *testing.T) {
	gen := &fakeGenerator{content: sampleContent, gate: make(chan struct{}, 10)}
	planner := &fakePlanner{manifest: []ManifestEntry{{Path: "lib/main.dart", Type: "entry"}}}
	e, bus := newTestEngine(t, planner, gen)
	ch, cancel := bus.Subscribe()
	defer cancel()

	first := e.Start(Request{ProjectID: "p", Name: "P"})
	if first.Status != StatusWorking {
		t.Fatalf("first start = %s, want working", first.Status)
	}

	second := e.Start(Request{ProjectID: "p", Name: "P"})
	if second.Status != StatusAlreadyRunning {
		t.Fatalf("second start = %s, want already_running", second.Status)
	}
	// The rejection is visible on the stream too.
	for sawRejection := false; !sawRejection; {
		select {
		case ev := <-ch:
			sawRejection = ev.Type == EventAlreadyRunning
		case <-time.After(time.Second):
			t.Fatal("no already_running event")
		}
	}

	if !e.Stop("p") {
		t.Fatal("stop should report it cleared the flag")
	}
	gen.gate <- struct{}{} // let the blocked generation observe the stop

	events := collect(t, ch, 5*time.Second)
	last := events[len(events)-1]
	if last.Type != EventStopped {
		t.Fatalf("terminal = %s, want stopped", last.Type)
	}

	// Flag released; a third start works.
	third := e.Start(Request{ProjectID: "p", Name: "P"})
	if third.Status != StatusWorking {
		t.Fatalf("third start = %s, want working", third.Status)
	}
	gen.gate <- struct{}{}
	collect(t, ch, 5*time.Second)
}

func TestStart_AlreadyComplete(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 6; i++ {
		path := filepath.Join(dir, "proj", fmt.Sprintf("file%d.dart", i))
		os.MkdirAll(filepath.Dir(path), 0o755)
		os.WriteFile(path, []byte("content"), 0o644)
	}

	bus := NewBroadcaster()
	e := NewEngine(&fakePlanner{}, &fakeGenerator{}, NewDiskWriter(dir), bus, config.PacingConfig{}, nil)
	e.pace = instantPacing()
	ch, cancel := bus.Subscribe()
	defer cancel()

	res := e.Start(Request{ProjectID: "proj", Name: "P"})
	if res.Status != StatusAlreadyComplete {
		t.Fatalf("status = %s, want already_complete", res.Status)
	}
	if res.FileCount != 6 {
		t.Errorf("file_count = %d, want 6", res.FileCount)
	}

	// One rejection notice, but no plan or file events.
	select {
	case ev := <-ch:
		if ev.Type != EventAlreadyComplete || ev.TotalFiles != 6 {
			t.Fatalf("event = %+v, want already_complete with 6 files", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no already_complete event")
	}
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %s", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRun_EventOrdering(t *testing.T) {
	planner := &fakePlanner{manifest: []ManifestEntry{
		{Path: "lib/a.dart", Type: "core"},
		{Path: "lib/b.dart", Type: "core"},
	}}
	e, bus := newTestEngine(t, planner, &fakeGenerator{content: sampleContent})
	ch, cancel := bus.Subscribe()
	defer cancel()

	if res := e.Start(Request{ProjectID: "p", Name: "P"}); res.Status != StatusWorking {
		t.Fatalf("start = %s", res.Status)
	}
	events := collect(t, ch, 5*time.Second)

	if events[0].Type != EventStarted {
		t.Errorf("first event = %s, want started", events[0].Type)
	}

	// Phase markers: planning precedes the file loop.
	firstAnnounce := -1
	var steps []Event
	for i, ev := range events {
		switch ev.Type {
		case EventStep:
			steps = append(steps, ev)
		case EventFileAnnounced:
			if firstAnnounce < 0 {
				firstAnnounce = i
			}
		}
	}
	if len(steps) != 2 || steps[0].Step != 1 || steps[1].Step != 2 {
		t.Fatalf("step events = %+v, want planning then writing", steps)
	}
	if steps[1].Total != 2 {
		t.Errorf("writing step total = %d, want 2", steps[1].Total)
	}
	if firstAnnounce < 0 {
		t.Fatal("no file_announced event")
	}
	last := events[len(events)-1]
	if last.Type != EventFinished || !last.Success || last.TotalFiles != 2 {
		t.Errorf("terminal = %+v, want finished with 2 files", last)
	}

	// code_written lines are strictly increasing per file, within bounds.
	lastLine := map[string]int{}
	for _, ev := range events {
		if ev.Type != EventCodeWritten {
			continue
		}
		if ev.Line < 1 || ev.Line > ev.TotalLines {
			t.Errorf("line %d out of [1,%d]", ev.Line, ev.TotalLines)
		}
		if ev.Line <= lastLine[ev.Path] {
			t.Errorf("%s: line %d not greater than previous %d", ev.Path, ev.Line, lastLine[ev.Path])
		}
		lastLine[ev.Path] = ev.Line
	}

	// Nothing after the terminal event, and exactly one terminal event.
	terminals := 0
	for _, ev := range events {
		if ev.terminal() {
			terminals++
		}
	}
	if terminals != 1 {
		t.Errorf("terminal events = %d, want 1", terminals)
	}
}

func TestRun_WritesFilesToDisk(t *testing.T) {
	dir := t.TempDir()
	bus := NewBroadcaster()
	planner := &fakePlanner{manifest: []ManifestEntry{{Path: "lib/main.dart", Type: "entry"}}}
	e := NewEngine(planner, &fakeGenerator{content: sampleContent}, NewDiskWriter(dir), bus, config.PacingConfig{}, nil)
	e.pace = instantPacing()
	ch, cancel := bus.Subscribe()
	defer cancel()

	e.Start(Request{ProjectID: "p", Name: "P"})
	collect(t, ch, 5*time.Second)

	data, err := os.ReadFile(filepath.Join(dir, "p", "lib", "main.dart"))
	if err != nil {
		t.Fatalf("generated file missing: %v", err)
	}
	if string(data) != sampleContent {
		t.Error("persisted content differs from generated content")
	}

	info := e.Status("p")
	if !info.ProjectExists || info.FileCount != 1 || info.IsRunning {
		t.Errorf("status = %+v", info)
	}
}

func TestRun_PlannerErrorEmitsError(t *testing.T) {
	planner := &fakePlanner{err: fmt.Errorf("model unavailable")}
	e, bus := newTestEngine(t, planner, &fakeGenerator{})
	ch, cancel := bus.Subscribe()
	defer cancel()

	e.Start(Request{ProjectID: "p", Name: "P"})
	events := collect(t, ch, 5*time.Second)

	last := events[len(events)-1]
	if last.Type != EventError {
		t.Fatalf("terminal = %s, want error", last.Type)
	}
	// Flag released on the error path too.
	if e.Status("p").IsRunning {
		t.Error("running flag not released after error")
	}
}

// A task's terminal event must close its sequence: once a successor start is
// admitted, every event of the finished task has already been delivered.
func TestRun_TerminalClosesSequence(t *testing.T) {
	gen := &fakeGenerator{content: sampleContent, gate: make(chan struct{}, 10)}
	planner := &fakePlanner{manifest: []ManifestEntry{{Path: "lib/main.dart", Type: "entry"}}}
	e, bus := newTestEngine(t, planner, gen)
	ch, cancel := bus.Subscribe()
	defer cancel()

	if res := e.Start(Request{ProjectID: "p", Name: "P"}); res.Status != StatusWorking {
		t.Fatalf("start = %s", res.Status)
	}
	if !e.Stop("p") {
		t.Fatal("stop should clear the flag")
	}
	gen.gate <- struct{}{}

	// Re-start as soon as the slot frees, then let the second task finish.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if res := e.Start(Request{ProjectID: "p", Name: "P"}); res.Status == StatusWorking {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("slot never released")
		}
		time.Sleep(time.Millisecond)
	}
	gen.gate <- struct{}{}

	var events []Event
	terminals := 0
	timeout := time.After(5 * time.Second)
	for terminals < 2 {
		select {
		case ev := <-ch:
			events = append(events, ev)
			if ev.terminal() {
				terminals++
			}
		case <-timeout:
			t.Fatalf("timed out with %d terminals over %d events", terminals, len(events))
		}
	}

	stoppedAt, secondStartAt := -1, -1
	startsSeen := 0
	for i, ev := range events {
		switch ev.Type {
		case EventStopped:
			stoppedAt = i
		case EventStarted:
			startsSeen++
			if startsSeen == 2 {
				secondStartAt = i
			}
		}
	}
	if stoppedAt < 0 || secondStartAt < 0 {
		t.Fatalf("missing stopped (%d) or second started (%d)", stoppedAt, secondStartAt)
	}
	if secondStartAt < stoppedAt {
		t.Errorf("second task's started at %d precedes first task's stopped at %d", secondStartAt, stoppedAt)
	}
	if last := events[len(events)-1]; last.Type != EventFinished {
		t.Errorf("final terminal = %s, want finished", last.Type)
	}
}

func TestStop_NotRunning(t *testing.T) {
	e, _ := newTestEngine(t, &fakePlanner{}, &fakeGenerator{})
	if e.Stop("ghost") {
		t.Error("stop on idle project should report false")
	}
}

func TestStatus_NotStarted(t *testing.T) {
	e, _ := newTestEngine(t, &fakePlanner{}, &fakeGenerator{})
	info := e.Status("nothing")
	if info.Status != "not_started" || info.ProjectExists || info.FileCount != 0 {
		t.Errorf("status = %+v", info)
	}
}
