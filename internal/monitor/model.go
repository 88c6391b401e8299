// Package monitor is a terminal level meter and spectrum view over a capture source.
package monitor

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Source is the read side of a capture pipeline. capture.Collector satisfies it.
type Source interface {
	ReadChunk64(out []float64, count int) int
	BufferLen() int
	ChunkSize() int
	SampleRate() int
	ClearBuffer()
	LastError() error
}

// Options configures a Model.
type Options struct {
	RefreshRate time.Duration
	Bars        int
	// SetChunkSize applies a new chunk size. When nil, +/- are ignored.
	SetChunkSize func(frames int) error
	// SetSampleRate applies a new sample rate. When nil, r/R are ignored.
	SetSampleRate func(hz int) error
}

const (
	meterWidth     = 40
	spectrumHeight = 8
	minChunk       = 16
	maxChunk       = 1 << 16
)

// sampleRates are the rates r and R step through.
var sampleRates = []int{8000, 16000, 22050, 32000, 44100, 48000, 96000}

var (
	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			PaddingLeft(2).
			PaddingRight(2).
			MarginBottom(1)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#CCCCCC"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5F5F"))

	meterLow  = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	meterMid  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00"))
	meterHigh = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))

	barStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4"))
)

// TickMsg represents a timer tick
type TickMsg time.Time

// Model represents the UI state
type Model struct {
	src  Source
	opts Options

	samples  []float64
	levels   Levels
	spectrum []float64
	peakHz   float64
	err      error
	width    int
}

// NewModel creates a new UI model
func NewModel(src Source, opts Options) Model {
	if opts.RefreshRate <= 0 {
		opts.RefreshRate = 33 * time.Millisecond
	}
	if opts.Bars <= 0 {
		opts.Bars = 32
	}
	return Model{
		src:      src,
		opts:     opts,
		levels:   Levels{DB: silenceDB},
		spectrum: make([]float64, opts.Bars),
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.opts.RefreshRate, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// Init initializes the UI model
func (m Model) Init() tea.Cmd {
	return m.tick()
}

// Update updates the UI model based on messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "c":
			m.src.ClearBuffer()
		case "+", "=":
			m.resize(m.src.ChunkSize() * 2)
		case "-", "_":
			m.resize(m.src.ChunkSize() / 2)
		case "r":
			m.stepRate(1)
		case "R":
			m.stepRate(-1)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case TickMsg:
		m.refresh()
		return m, m.tick()
	}

	return m, nil
}

func (m *Model) resize(frames int) {
	if m.opts.SetChunkSize == nil || frames < minChunk || frames > maxChunk {
		return
	}
	m.err = m.opts.SetChunkSize(frames)
}

// stepRate moves to the next (dir > 0) or previous standard rate. A rate off
// the list steps to its nearest neighbour in that direction.
func (m *Model) stepRate(dir int) {
	if m.opts.SetSampleRate == nil {
		return
	}
	cur := m.src.SampleRate()
	next := 0
	if dir > 0 {
		for _, r := range sampleRates {
			if r > cur {
				next = r
				break
			}
		}
	} else {
		for i := len(sampleRates) - 1; i >= 0; i-- {
			if sampleRates[i] < cur {
				next = sampleRates[i]
				break
			}
		}
	}
	if next == 0 {
		return
	}
	m.err = m.opts.SetSampleRate(next)
}

// refresh reads the latest chunk and recomputes the display values.
func (m *Model) refresh() {
	n := m.src.BufferLen()
	if cap(m.samples) < n {
		m.samples = make([]float64, n)
	}
	m.samples = m.samples[:n]
	got := m.src.ReadChunk64(m.samples, n)

	chunk := m.samples[:got]
	m.levels = ComputeLevels(chunk)
	m.spectrum = Spectrum(chunk, m.opts.Bars)
	m.peakHz = PeakFrequency(chunk, m.src.SampleRate())
	if err := m.src.LastError(); err != nil {
		m.err = err
	}
}

// Levels returns the values shown for the most recent chunk.
func (m Model) Levels() Levels { return m.levels }

// View renders the UI
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("vela-audio monitor"))
	b.WriteString("\n")

	info := fmt.Sprintf("Rate: %d Hz | Chunk: %d frames", m.src.SampleRate(), m.src.ChunkSize())
	b.WriteString(infoStyle.Render(info))
	b.WriteString("\n\n")

	b.WriteString(renderMeter(m.levels))
	b.WriteString("\n")
	levels := fmt.Sprintf("RMS %.3f | Peak %.3f | %.1f dBFS | %.0f Hz",
		m.levels.RMS, m.levels.Peak, m.levels.DB, m.peakHz)
	b.WriteString(infoStyle.Render(levels))
	b.WriteString("\n\n")

	b.WriteString(renderSpectrum(m.spectrum))
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(errorStyle.Render("Error: " + m.err.Error()))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(infoStyle.Render("q quit | c clear | +/- chunk size | r/R sample rate"))
	return b.String()
}

// renderMeter draws the dBFS level as a horizontal bar.
func renderMeter(l Levels) string {
	filled := int(scaleDB(l.RMS) * meterWidth)

	var b strings.Builder
	for i := 0; i < meterWidth; i++ {
		if i >= filled {
			b.WriteString(infoStyle.Render("·"))
			continue
		}
		style := meterLow
		switch {
		case i >= meterWidth*9/10:
			style = meterHigh
		case i >= meterWidth*7/10:
			style = meterMid
		}
		b.WriteString(style.Render("█"))
	}
	return b.String()
}

var barGlyphs = []rune(" ▁▂▃▄▅▆▇█")

// renderSpectrum draws bars spectrumHeight rows tall using eighth-block glyphs.
func renderSpectrum(bars []float64) string {
	steps := len(barGlyphs) - 1
	rows := make([]string, spectrumHeight)
	for r := 0; r < spectrumHeight; r++ {
		var line strings.Builder
		base := (spectrumHeight - 1 - r) * steps
		for _, v := range bars {
			level := int(v*float64(spectrumHeight*steps)) - base
			switch {
			case level <= 0:
				line.WriteRune(' ')
			case level >= steps:
				line.WriteRune(barGlyphs[steps])
			default:
				line.WriteRune(barGlyphs[level])
			}
		}
		rows[r] = barStyle.Render(line.String())
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}
