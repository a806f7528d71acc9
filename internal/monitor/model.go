package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/artemshal/DungeonCompanion/internal/shmqueue"
)

// ticksPerSecond is the unit of the header interval and slot timestamps
const ticksPerSecond = 10_000_000

type tickMsg time.Time
type sampleMsg Sample

// Model is the bubbletea model of the monitor
type Model struct {
	name     string
	sampler  func() Sample
	interval time.Duration

	current  Sample
	previous Sample
	rate     float64
	quitting bool
}

// NewModel samples with sampler every interval. name labels the segment.
func NewModel(name string, sampler func() Sample, interval time.Duration) Model {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return Model{name: name, sampler: sampler, interval: interval}
}

func (m Model) Init() tea.Cmd {
	return m.sample()
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) sample() tea.Cmd {
	return func() tea.Msg {
		return sampleMsg(m.sampler())
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		return m, m.sample()

	case sampleMsg:
		m.previous, m.current = m.current, Sample(msg)
		m.rate = publishRate(m.previous, m.current)
		return m, m.tick()
	}

	return m, nil
}

// publishRate is frames per second between two samples of the same stream
func publishRate(prev, cur Sample) float64 {
	if !prev.Connected || !cur.Connected {
		return 0
	}
	elapsed := cur.At.Sub(prev.At).Seconds()
	if elapsed <= 0 {
		return 0
	}
	// uint32 subtraction handles counter wraparound
	return float64(cur.Header.ReadIndex-prev.Header.ReadIndex) / elapsed
}

// Rate returns the measured publish rate
func (m Model) Rate() float64 {
	return m.rate
}

// Current returns the latest sample
func (m Model) Current() Sample {
	return m.current
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).MarginBottom(1)
	labelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86")).Width(12)
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	faintStyle = lipgloss.NewStyle().Faint(true)
	stateStyle = map[shmqueue.State]lipgloss.Style{
		shmqueue.StateStarting: lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
		shmqueue.StateReady:    lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		shmqueue.StateStopping: lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

func row(b *strings.Builder, label, value string) {
	b.WriteString(labelStyle.Render(label))
	b.WriteString(valueStyle.Render(value))
	b.WriteString("\n")
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Virtual Camera Monitor"))
	b.WriteString("\n")
	row(&b, "Segment", m.name)

	s := m.current
	if !s.Connected {
		msg := "waiting for writer"
		if s.Err != "" {
			msg = s.Err
		}
		row(&b, "Status", msg)
		b.WriteString("\n")
		b.WriteString(faintStyle.Render("Press 'q' to quit"))
		return b.String()
	}

	h := s.Header
	style, ok := stateStyle[h.State]
	if !ok {
		style = valueStyle
	}
	b.WriteString(labelStyle.Render("State"))
	b.WriteString(style.Render(h.State.String()))
	b.WriteString("\n")

	row(&b, "Geometry", fmt.Sprintf("%dx%d NV12", h.Width, h.Height))
	if h.Interval > 0 {
		row(&b, "Interval", fmt.Sprintf("%d (%.2f fps)", h.Interval, float64(ticksPerSecond)/float64(h.Interval)))
	}
	row(&b, "Counters", fmt.Sprintf("write %d  read %d", h.WriteIndex, h.ReadIndex))
	row(&b, "Rate", fmt.Sprintf("%.1f frames/s", m.rate))
	b.WriteString("\n")

	for i, ts := range s.Timestamps {
		marker := " "
		if h.State == shmqueue.StateReady && int(h.ReadIndex%shmqueue.SlotCount) == i {
			marker = ">"
		}
		row(&b, fmt.Sprintf("%s Slot %d", marker, i), fmt.Sprintf("@%-8d ts %.3fs", h.Offsets[i], float64(ts)/ticksPerSecond))
	}

	b.WriteString("\n")
	b.WriteString(faintStyle.Render("Press 'q' to quit"))
	return b.String()
}

// Run shows the monitor until the user quits or ctx is cancelled
func Run(ctx context.Context, name string, interval time.Duration, opts ...shmqueue.Option) error {
	watcher := NewWatcher(append([]shmqueue.Option{shmqueue.WithName(name)}, opts...)...)
	defer watcher.Close()

	p := tea.NewProgram(NewModel(name, watcher.Sample, interval), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
