package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"appkernel/internal/config"
	"appkernel/internal/logging"
	"appkernel/internal/memory"
	"appkernel/internal/metrics"
)

// completeThreshold is the substantive-file count above which a project on
// disk is treated as already built.
const completeThreshold = 5

// Start outcomes.
const (
	StatusWorking         = "working"
	StatusAlreadyRunning  = "already_running"
	StatusAlreadyComplete = "already_complete"
)

// StartResult is the immediate answer from Start.
type StartResult struct {
	Status    string `json:"status"`
	ProjectID string `json:"project_id"`
	FileCount int    `json:"file_count,omitempty"`
}

// StatusInfo is the answer from Status.
type StatusInfo struct {
	IsRunning     bool   `json:"is_running"`
	ProjectExists bool   `json:"project_exists"`
	FileCount     int    `json:"file_count"`
	Status        string `json:"status"` // complete | running | not_started
}

// errStopped aborts the generate loop when the running flag was cleared.
var errStopped = errors.New("generation stopped")

// flight is one active generation task. Identity matters: release only
// clears the slot it owns, so a stale task can never clear a successor's.
type flight struct {
	stopped bool
}

// Engine runs at most one generation task per project, emitting ordered
// events to its broadcaster.
type Engine struct {
	mu      sync.Mutex
	running map[string]*flight

	planner Planner
	gen     Generator
	writer  FileWriter
	bus     *Broadcaster
	pace    pacing
	store   *memory.Store // optional
}

// NewEngine wires a generation engine. store may be nil.
func NewEngine(planner Planner, gen Generator, writer FileWriter, bus *Broadcaster, pc config.PacingConfig, store *memory.Store) *Engine {
	return &Engine{
		running: make(map[string]*flight),
		planner: planner,
		gen:     gen,
		writer:  writer,
		bus:     bus,
		pace:    newPacing(pc),
		store:   store,
	}
}

// Events exposes the engine's broadcaster.
func (e *Engine) Events() *Broadcaster { return e.bus }

// Start begins a generation and returns immediately. The idempotency check
// and the flag set are one atomic step.
func (e *Engine) Start(req Request) StartResult {
	if req.ProjectID == "" {
		return StartResult{Status: StatusAlreadyComplete}
	}

	count := e.writer.FileCount(req.ProjectID)

	e.mu.Lock()
	if e.running[req.ProjectID] != nil {
		e.mu.Unlock()
		e.bus.Publish(Event{Type: EventAlreadyRunning, ProjectID: req.ProjectID})
		return StartResult{Status: StatusAlreadyRunning, ProjectID: req.ProjectID}
	}
	if count > completeThreshold {
		e.mu.Unlock()
		e.bus.Publish(Event{Type: EventAlreadyComplete, ProjectID: req.ProjectID, TotalFiles: count})
		return StartResult{Status: StatusAlreadyComplete, ProjectID: req.ProjectID, FileCount: count}
	}
	f := &flight{}
	e.running[req.ProjectID] = f
	e.mu.Unlock()

	go e.run(req, f)
	return StartResult{Status: StatusWorking, ProjectID: req.ProjectID}
}

// Stop flags the active task. It observes the flag at the next safe point
// and emits exactly one stopped event.
func (e *Engine) Stop(projectID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	f := e.running[projectID]
	if f == nil || f.stopped {
		return false
	}
	f.stopped = true
	return true
}

// Status reports the current generation and disk state of a project.
func (e *Engine) Status(projectID string) StatusInfo {
	e.mu.Lock()
	f := e.running[projectID]
	isRunning := f != nil && !f.stopped
	e.mu.Unlock()

	count := e.writer.FileCount(projectID)
	info := StatusInfo{
		IsRunning:     isRunning,
		ProjectExists: e.writer.Exists(projectID),
		FileCount:     count,
	}
	switch {
	case isRunning:
		info.Status = "running"
	case count > completeThreshold:
		info.Status = "complete"
	default:
		info.Status = "not_started"
	}
	return info
}

// keepGoing reports whether this flight is still allowed to proceed.
func (e *Engine) keepGoing(f *flight) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !f.stopped
}

// release clears the slot, but only if this flight still owns it. Runs
// exactly once per started task, on every outcome.
func (e *Engine) release(projectID string, f *flight) {
	e.mu.Lock()
	if e.running[projectID] == f {
		delete(e.running, projectID)
	}
	e.mu.Unlock()
}

// run is the detached generation task. It emits started first and exactly
// one terminal event last; the slot is released only after the terminal
// event, so no later task can interleave its events before this one closes.
func (e *Engine) run(req Request, f *flight) {
	defer e.release(req.ProjectID, f)

	ctx := context.Background()
	started := time.Now()
	metrics.Get().GenerationsInFlight.Inc()
	defer metrics.Get().GenerationsInFlight.Dec()
	e.bus.Publish(Event{Type: EventStarted, ProjectID: req.ProjectID, Message: req.Name})

	total, err := e.generate(ctx, req, f)
	switch {
	case errors.Is(err, errStopped):
		e.bus.Publish(Event{Type: EventStopped, ProjectID: req.ProjectID})
		e.recordProject(ctx, req, "stopped")
		metrics.Get().RecordGeneration("stopped", time.Since(started))
	case err != nil:
		logging.L().Error("generation failed",
			zap.String("project_id", req.ProjectID), zap.Error(err))
		e.bus.Publish(Event{Type: EventError, ProjectID: req.ProjectID, Message: err.Error()})
		e.recordProject(ctx, req, "error")
		metrics.Get().RecordGeneration("error", time.Since(started))
	default:
		e.bus.Publish(Event{
			Type: EventFinished, ProjectID: req.ProjectID,
			TotalFiles: total, Success: true,
		})
		e.recordProject(ctx, req, "complete")
		metrics.Get().RecordGeneration("finished", time.Since(started))
	}
}

// generate executes the plan and per-file phases. Returns the number of
// files produced, or errStopped when a stop was observed.
func (e *Engine) generate(ctx context.Context, req Request, f *flight) (int, error) {
	e.bus.Publish(Event{Type: EventStep, ProjectID: req.ProjectID, Step: 1, Message: "planning"})
	manifest, err := e.planner.Plan(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("planning failed: %w", err)
	}
	if !e.keepGoing(f) {
		return 0, errStopped
	}

	e.bus.Publish(Event{
		Type: EventStep, ProjectID: req.ProjectID,
		Step: 2, Total: len(manifest), Message: "writing files",
	})
	for i, entry := range manifest {
		if err := e.generateFile(ctx, req, f, entry, i+1, len(manifest)); err != nil {
			return i, err
		}
	}
	return len(manifest), nil
}

func (e *Engine) generateFile(ctx context.Context, req Request, f *flight, entry ManifestEntry, step, total int) error {
	p := req.ProjectID
	lang := languageFor(entry.Path)

	e.bus.Publish(Event{
		Type: EventFileAnnounced, ProjectID: p,
		Path: entry.Path, Language: lang, Step: step,
	})
	time.Sleep(e.pace.announce)
	if !e.keepGoing(f) {
		return errStopped
	}

	content, err := e.gen.GenerateFile(ctx, req, entry)
	if err != nil {
		return fmt.Errorf("generating %s: %w", entry.Path, err)
	}
	if !e.keepGoing(f) {
		return errStopped
	}

	if imports := extractImports(content); imports != "" {
		e.bus.Publish(Event{
			Type: EventCodeSection, ProjectID: p, Path: entry.Path,
			Section: "imports", Content: imports,
			Explanation: "Bringing in the dependencies this file needs.",
		})
		time.Sleep(e.pace.section)
		if !e.keepGoing(f) {
			return errStopped
		}
	}

	if structure := extractStructure(content, 5); structure != "" {
		e.bus.Publish(Event{
			Type: EventCodeSection, ProjectID: p, Path: entry.Path,
			Section: "structure", Content: structure,
			Explanation: "The main building blocks of this file.",
		})
		time.Sleep(e.pace.section)
		if !e.keepGoing(f) {
			return errStopped
		}
	}

	lines := strings.Split(content, "\n")
	totalLines := len(lines)
	var buf strings.Builder

	for i, line := range lines {
		lineNo := i + 1
		if buf.Len() > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(line)

		if lineNo%10 == 0 || isImportantLine(line) {
			e.bus.Publish(Event{
				Type: EventCodeExplanation, ProjectID: p, Path: entry.Path,
				Line: lineNo, Message: explanationFor(line, lineNo),
			})
		}

		e.bus.Publish(Event{
			Type: EventCodeWritten, ProjectID: p, Path: entry.Path,
			Content: buf.String(), Line: lineNo, TotalLines: totalLines,
			Language: lang, Progress: float64(lineNo) / float64(totalLines) * 100,
		})

		time.Sleep(e.pace.forLine(line))
		if !e.keepGoing(f) {
			return errStopped
		}
	}

	if err := e.writer.Write(p, entry.Path, content); err != nil {
		return err
	}
	metrics.Get().RecordFileWritten("solo")

	e.bus.Publish(Event{
		Type: EventFileCreated, ProjectID: p, Path: entry.Path,
		Content: content, Language: lang, Step: step, TotalLines: totalLines,
	})
	e.bus.Publish(Event{
		Type: EventProgress, ProjectID: p,
		Current: step, Total: total, File: entry.Path,
	})
	return nil
}

// explanationFor produces the learner-facing note for an important line.
func explanationFor(line string, lineNo int) string {
	trimmed := strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(trimmed, "class "):
		return "Declaring a class: a blueprint for objects of this kind."
	case strings.HasPrefix(trimmed, "def ") || strings.HasPrefix(trimmed, "func ") || strings.HasPrefix(trimmed, "function "):
		return "Defining a function that the rest of the code can call."
	case strings.HasPrefix(trimmed, "return"):
		return "Handing the computed value back to the caller."
	case strings.HasPrefix(trimmed, "if ") || strings.HasPrefix(trimmed, "if("):
		return "Branching: this code only runs when the condition holds."
	case strings.HasPrefix(trimmed, "for ") || strings.HasPrefix(trimmed, "while "):
		return "Looping over a sequence of steps."
	case strings.HasPrefix(trimmed, "try"):
		return "Guarding the next block so failures are handled, not fatal."
	case strings.Contains(trimmed, "@override"):
		return "Replacing inherited behavior with this class's own version."
	default:
		return fmt.Sprintf("Writing line %d.", lineNo)
	}
}

// recordProject mirrors the outcome into the memory substrate.
func (e *Engine) recordProject(ctx context.Context, req Request, status string) {
	if e.store == nil {
		return
	}
	stack, _ := json.Marshal(req.TechStack)
	err := e.store.AddProject(ctx, memory.Project{
		ID:               req.ProjectID,
		Name:             req.Name,
		CompletionStatus: status,
		TechStack:        string(stack),
		Notes:            req.Description,
	})
	if err != nil {
		logging.L().Warn("failed to record project outcome", zap.Error(err))
	}
}
