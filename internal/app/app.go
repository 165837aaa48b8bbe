// Package app renders a terminal view of a recovery run.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/brensch/jusosync/internal/errs"
	"github.com/brensch/jusosync/internal/orchestrator"
	"github.com/brensch/jusosync/internal/scheduler"
	"github.com/brensch/jusosync/internal/util"
)

var (
	titleStyle              = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	errorStyle              = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	infoStyle               = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	successStyle            = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	progressBarStyle        = lipgloss.NewStyle().Padding(0, 1)
	fileProgressHeaderStyle = lipgloss.NewStyle().Bold(true).MarginBottom(1)
	statusStyle             = map[string]lipgloss.Style{
		"Fetching":   lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		"Extracting": lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		"Parsing":    lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		"Loading":    lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		"Complete":   lipgloss.NewStyle().Foreground(lipgloss.Color("46")),
		"Skipped":    lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		"Error":      lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
	stageStatus = map[string]string{
		orchestrator.StageFetch:   "Fetching",
		orchestrator.StageExtract: "Extracting",
		orchestrator.StageParse:   "Parsing",
		orchestrator.StageLoad:    "Loading",
		orchestrator.StageDone:    "Complete",
	}
)

// DatasetProgress is one row of the view: a dataset on a day.
type DatasetProgress struct {
	Day     string
	Dataset string
	Status  string
	Records int
	Skipped int
	ErrMsg  string
	Start   time.Time
	Elapsed time.Duration
}

type AppModel struct {
	Title            string
	State            AppState
	spinner          spinner.Model
	overallProgress  progress.Model
	progressBarWidth int
	cancel           context.CancelFunc

	mu           sync.RWMutex
	rows         map[string]*DatasetProgress
	rowOrder     []string
	daysTotal    int
	daysDone     int
	currentDay   string
	lastActivity string

	Summary  scheduler.Summary
	FatalErr error

	termWidth  int
	termHeight int
}

func NewAppModel(title string, cancel context.CancelFunc) *AppModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	return &AppModel{
		Title:           title,
		State:           Running,
		spinner:         s,
		overallProgress: progress.New(progress.WithDefaultGradient()),
		cancel:          cancel,
		rows:            make(map[string]*DatasetProgress),
		termWidth:       100,
		termHeight:      30,
	}
}

func (m *AppModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m *AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			if m.State == Running && m.cancel != nil {
				m.cancel()
			}
			m.State = Exiting
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.termWidth = msg.Width
		m.termHeight = msg.Height
		m.progressBarWidth = max(0, m.termWidth-16)
		m.overallProgress.Width = m.progressBarWidth
	case RunEventMsg:
		cmds = append(cmds, m.applyRunEvent(msg.Event))
	case StageMsg:
		m.applyStage(msg)
	case TaskFinishedMsg:
		m.mu.Lock()
		m.Summary = msg.Summary
		m.FatalErr = msg.Err
		m.lastActivity = fmt.Sprintf("finished in %s", msg.EndTime.Sub(msg.StartTime).Round(time.Millisecond))
		m.mu.Unlock()
		m.State = Finished
		return m, tea.Quit
	case spinner.TickMsg:
		if m.State == Running {
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}
	case progress.FrameMsg:
		progModel, frameCmd := m.overallProgress.Update(msg)
		if newModel, ok := progModel.(progress.Model); ok {
			m.overallProgress = newModel
			cmds = append(cmds, frameCmd)
		}
	}

	return m, tea.Batch(cmds...)
}

func (m *AppModel) applyRunEvent(ev scheduler.Event) tea.Cmd {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch ev.Type {
	case scheduler.RunStarted:
		m.daysTotal = ev.DayTotal
		m.lastActivity = "run " + ev.RunID
	case scheduler.DayStarted:
		m.daysTotal = ev.DayTotal
		m.currentDay = util.FormatDay(ev.Day)
		m.lastActivity = fmt.Sprintf("day %s (%d/%d)", m.currentDay, ev.DayIndex, ev.DayTotal)
	case scheduler.DayFinished:
		m.daysDone = ev.DayIndex
		if ev.Result != nil {
			for _, d := range ev.Result.Datasets {
				row := m.row(util.FormatDay(ev.Day), string(d.Dataset), time.Time{})
				row.Records = d.Records
				row.Skipped = d.Skipped
				row.Elapsed = d.Duration
				switch {
				case d.Err == nil:
					row.Status = "Complete"
				case errs.Classify(d.Err) == errs.KindNotFound:
					row.Status = "Skipped"
				default:
					row.Status = "Error"
					row.ErrMsg = d.Err.Error()
				}
			}
		}
	case scheduler.RunFinished:
		if ev.Err != nil {
			m.lastActivity = ev.Err.Error()
		}
	}

	var percent float64
	if m.daysTotal > 0 {
		percent = float64(m.daysDone) / float64(m.daysTotal)
	}
	return m.overallProgress.SetPercent(percent)
}

func (m *AppModel) applyStage(msg StageMsg) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := m.row(util.FormatDay(msg.Update.Day), string(msg.Update.Dataset), msg.At)
	if status, ok := stageStatus[msg.Update.Stage]; ok {
		row.Status = status
	}
}

// row returns the row for day and dataset, creating it if needed. Callers
// hold mu.
func (m *AppModel) row(day, dataset string, start time.Time) *DatasetProgress {
	id := day + "/" + dataset
	row, ok := m.rows[id]
	if !ok {
		if start.IsZero() {
			start = time.Now()
		}
		row = &DatasetProgress{Day: day, Dataset: dataset, Status: "Fetching", Start: start}
		m.rows[id] = row
		m.rowOrder = append(m.rowOrder, id)
	}
	return row
}

func (m *AppModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(fmt.Sprintf("--- %s ---", m.Title)))
	b.WriteString("\n\n")

	switch m.State {
	case Running:
		b.WriteString(m.viewProgress())
		b.WriteString("\n")
		b.WriteString(infoStyle.Render("Run in progress... 'q' or Ctrl+C to cancel."))
	case Finished:
		b.WriteString(m.viewProgress())
		b.WriteString("\n")
		b.WriteString(m.viewSummary())
	case Exiting:
		b.WriteString(infoStyle.Render("Cancelling..."))
	}
	b.WriteString("\n")
	return b.String()
}

func (m *AppModel) viewProgress() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s Recovering %s\n", m.spinner.View(), m.lastActivity))
	b.WriteString(progressBarStyle.Render(m.overallProgress.View()))
	b.WriteString(fmt.Sprintf(" (%d/%d days)\n\n", m.daysDone, m.daysTotal))

	maxLines := max(1, m.termHeight-10)
	startIdx := 0
	if len(m.rowOrder) > maxLines {
		startIdx = len(m.rowOrder) - maxLines
	}
	if len(m.rowOrder) == 0 {
		return b.String()
	}

	b.WriteString(fileProgressHeaderStyle.Render(fmt.Sprintf("%-10s | %-18s | %-10s | %8s | %8s | %s", "Day", "Dataset", "Status", "Records", "Skipped", "Elapsed")))
	b.WriteString("\n")
	b.WriteString(strings.Repeat("-", m.termWidth))
	b.WriteString("\n")
	for _, id := range m.rowOrder[startIdx:] {
		row := m.rows[id]
		style, ok := statusStyle[row.Status]
		if !ok {
			style = infoStyle
		}
		elapsed := ""
		if row.Elapsed > 0 {
			elapsed = row.Elapsed.Round(time.Millisecond).String()
		} else if !row.Start.IsZero() {
			elapsed = time.Since(row.Start).Round(time.Second).String() + "..."
		}
		// Pad before styling so escape codes don't break alignment.
		b.WriteString(fmt.Sprintf("%-10s | %-18s | %s | %8d | %8d | %s", row.Day, row.Dataset,
			style.Render(fmt.Sprintf("%-10s", row.Status)), row.Records, row.Skipped, elapsed))
		if row.ErrMsg != "" {
			b.WriteString("\n")
			b.WriteString(errorStyle.Render(truncate("  -> Error: "+row.ErrMsg, m.termWidth-1)))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m *AppModel) viewSummary() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var b strings.Builder
	s := m.Summary
	line := fmt.Sprintf("Run %s: %s. Last success %s, gap %d day(s), %d advanced.",
		s.RunID, s.Outcome, util.FormatDay(s.LastSuccess), s.Gap, len(s.Advanced))
	if m.FatalErr != nil {
		b.WriteString(errorStyle.Render(line))
		b.WriteString("\n")
		b.WriteString(wrapText(m.FatalErr.Error(), m.termWidth-4))
	} else {
		b.WriteString(successStyle.Render(line))
	}
	b.WriteString("\n")
	return b.String()
}

// Relay forwards scheduler and pipeline notifications into a running
// program. It drops messages while no program is attached.
type Relay struct {
	mu sync.Mutex
	p  *tea.Program
}

func (r *Relay) OnRun(ev scheduler.Event) {
	r.send(RunEventMsg{Event: ev})
}

func (r *Relay) OnStage(u orchestrator.StageUpdate) {
	r.send(StageMsg{Update: u, At: time.Now()})
}

func (r *Relay) attach(p *tea.Program) {
	r.mu.Lock()
	r.p = p
	r.mu.Unlock()
}

func (r *Relay) send(msg tea.Msg) {
	r.mu.Lock()
	p := r.p
	r.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

// Run shows the progress view while run executes and returns run's result.
// Quitting the view cancels run and waits for it to return.
func Run(ctx context.Context, title string, relay *Relay, run func(ctx context.Context) (scheduler.Summary, error)) (scheduler.Summary, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := NewAppModel(title, cancel)
	p := tea.NewProgram(m)
	relay.attach(p)
	defer relay.attach(nil)

	done := make(chan TaskFinishedMsg, 1)
	go func() {
		start := time.Now()
		sum, err := run(ctx)
		fin := NewTaskFinished(sum, start, err)
		done <- fin
		p.Send(fin)
	}()

	_, uiErr := p.Run()
	if uiErr != nil {
		cancel()
	}
	fin := <-done
	if uiErr != nil {
		return fin.Summary, fmt.Errorf("terminal UI failed: %w (run: %v)", uiErr, fin.Err)
	}
	return fin.Summary, fin.Err
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 3 || len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func wrapText(text string, maxWidth int) string {
	if maxWidth <= 0 {
		return text
	}
	var result strings.Builder
	var currentLine strings.Builder
	for _, word := range strings.Fields(text) {
		if currentLine.Len() > 0 && currentLine.Len()+len(word)+1 > maxWidth {
			result.WriteString(currentLine.String())
			result.WriteString("\n")
			currentLine.Reset()
		}
		if currentLine.Len() > 0 {
			currentLine.WriteString(" ")
		}
		currentLine.WriteString(word)
	}
	result.WriteString(currentLine.String())
	return result.String()
}
