// Package monitor renders the download engine's in-flight progress to a
// terminal: a one-line summary plus two lines per active file, redrawn on
// a 1 Hz tick. A NoopMonitor satisfies the same contract silently, for
// non-interactive or scripted runs.
package monitor

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"golang.org/x/term"
)

// Monitor aggregates per-file download progress for display.
type Monitor interface {
	Start()
	Stop()
	Status() *StatusHandle
}

// StatusHandle is a scoped handle for one in-flight file's progress.
// Callers set the filename as soon as it's known, the size once the
// response headers arrive, and add progress as chunks are written. Close
// moves the handle from the active set to the done list.
type StatusHandle struct {
	mu         sync.Mutex
	filename   string
	size       int64
	downloaded int64
	monitor    *TerminalMonitor
}

// SetFilename records the file being downloaded.
func (s *StatusHandle) SetFilename(name string) {
	s.mu.Lock()
	s.filename = name
	s.mu.Unlock()
}

// SetFilesize records the total size, once known from Content-Length.
func (s *StatusHandle) SetFilesize(size int64) {
	s.mu.Lock()
	s.size = size
	s.mu.Unlock()
}

// AddProgress accumulates bytes written so far.
func (s *StatusHandle) AddProgress(n int64) {
	s.mu.Lock()
	s.downloaded += n
	s.mu.Unlock()
}

func (s *StatusHandle) snapshot() (filename string, size, downloaded int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filename, s.size, s.downloaded
}

// Snapshot returns the recorded filename, total size and bytes downloaded
// so far.
func (s *StatusHandle) Snapshot() (filename string, size, downloaded int64) {
	return s.snapshot()
}

// Close finalises the handle, moving it from in-progress to done. Safe to
// call on a nil *StatusHandle and on a handle that belongs to no
// TerminalMonitor (such as the ones NoopMonitor hands out).
func (s *StatusHandle) Close() {
	if s == nil || s.monitor == nil {
		return
	}
	s.monitor.remove(s)
}

// TerminalMonitor redraws progress once per second using ANSI cursor
// movement, sized to the terminal's current width.
type TerminalMonitor struct {
	mu        sync.Mutex
	active    []*StatusHandle
	done      []*StatusHandle
	speedLog  []int64
	prevTotal int64
	stop      chan struct{}
	stopped   chan struct{}
	lastDraw  int
}

// NewTerminal constructs a TerminalMonitor. Start must be called before
// any progress will be rendered.
func NewTerminal() *TerminalMonitor {
	return &TerminalMonitor{stop: make(chan struct{}), stopped: make(chan struct{})}
}

// Start launches the 1 Hz render tick in the background.
func (m *TerminalMonitor) Start() {
	go m.run()
}

// Stop ends the render tick and leaves a final blank line.
func (m *TerminalMonitor) Stop() {
	close(m.stop)
	<-m.stopped
	fmt.Println()
}

// Status registers and returns a new in-flight status handle.
func (m *TerminalMonitor) Status() *StatusHandle {
	s := &StatusHandle{monitor: m}
	m.mu.Lock()
	m.active = append(m.active, s)
	m.mu.Unlock()
	return s
}

func (m *TerminalMonitor) remove(s *StatusHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, a := range m.active {
		if a == s {
			m.active = append(m.active[:i], m.active[i+1:]...)
			break
		}
	}
	m.done = append(m.done, s)
}

func (m *TerminalMonitor) run() {
	defer close(m.stopped)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

func (m *TerminalMonitor) tick() {
	total := m.totalDownloaded()
	m.mu.Lock()
	delta := total - m.prevTotal
	m.prevTotal = total
	m.mu.Unlock()
	m.recordSpeedSample(delta)
	m.draw()
}

func (m *TerminalMonitor) totalDownloaded() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, a := range m.active {
		_, _, d := a.snapshot()
		total += d
	}
	for _, d := range m.done {
		_, size, _ := d.snapshot()
		total += size
	}
	return total
}

func (m *TerminalMonitor) recordSpeedSample(delta int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.speedLog = append(m.speedLog, delta)
	if len(m.speedLog) > 10 {
		m.speedLog = m.speedLog[1:]
	}
}

func (m *TerminalMonitor) speed() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.speedLog) < 2 {
		return 0
	}
	var sum int64
	for _, d := range m.speedLog {
		sum += d
	}
	return float64(sum) / float64(len(m.speedLog))
}

var (
	barStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	summaryStyle = lipgloss.NewStyle().Bold(true)
)

func (m *TerminalMonitor) draw() {
	width := terminalWidth()

	m.mu.Lock()
	active := append([]*StatusHandle(nil), m.active...)
	doneCount := len(m.done)
	m.mu.Unlock()

	m.clearLines()

	summary := fmt.Sprintf("[[ %d files in progress | %d files done | %s total downloaded | %s/s ]]",
		len(active), doneCount, humanize.Bytes(uint64(m.totalDownloaded())), humanize.Bytes(uint64(m.speed())))
	fmt.Println(summaryStyle.Render(summary))

	lines := 1
	for _, s := range active {
		filename, size, downloaded := s.snapshot()
		lines += 2
		fmt.Println(statusLine(filename, size, downloaded, width))
		fmt.Println(progressBar(size, downloaded, width))
	}
	m.lastDraw = lines
}

func (m *TerminalMonitor) clearLines() {
	for i := 0; i < m.lastDraw; i++ {
		fmt.Print("\033[F\033[K")
	}
}

func statusLine(filename string, size, downloaded int64, width int) string {
	if downloaded == 0 {
		return "waiting for connection to start..."
	}
	percent := 0
	if size > 0 {
		percent = int(float64(downloaded) / float64(size) * 100)
	}
	name := filename
	if len(name) > width-24 && width > 24 {
		name = name[:width-24]
	}
	return fmt.Sprintf("%s %s (%d%%)", name, humanize.Bytes(uint64(size)), percent)
}

func progressBar(size, downloaded int64, width int) string {
	innerWidth := width - 2
	if innerWidth < 1 {
		innerWidth = 1
	}
	filled := 0
	if size > 0 {
		filled = int(float64(downloaded) / float64(size) * float64(innerWidth))
	}
	if filled > innerWidth {
		filled = innerWidth
	}
	bar := barStyle.Render(strings.Repeat("█", filled)) + strings.Repeat(" ", innerWidth-filled)
	return "[" + bar + "]"
}

func terminalWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}

// NoopMonitor renders nothing; used for non-interactive runs and tests.
type NoopMonitor struct{}

func (NoopMonitor) Start() {}
func (NoopMonitor) Stop()  {}
func (NoopMonitor) Status() *StatusHandle {
	return &StatusHandle{}
}
