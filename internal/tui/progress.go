package tui

import (
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
)

// ProgressState tracks the running upload.
type ProgressState struct {
	progress    progress.Model
	percent     float64
	description string
	isActive    bool
}

func NewProgressState() ProgressState {
	return ProgressState{
		progress: progress.New(
			progress.WithDefaultGradient(),
			progress.WithWidth(40),
		),
	}
}

// Start begins tracking a new upload.
func (p *ProgressState) Start(description string) {
	p.isActive = true
	p.percent = 0
	p.description = description
}

// Update sets the fraction (0.0 to 1.0). It never moves backwards.
func (p *ProgressState) Update(percent float64, description string) {
	if percent > p.percent {
		p.percent = percent
	}
	if description != "" {
		p.description = description
	}
}

func (p *ProgressState) Complete() {
	p.percent = 1.0
	p.isActive = false
}

func (p *ProgressState) Cancel() {
	p.isActive = false
}

func (p *ProgressState) IsActive() bool {
	return p.isActive
}

func (p *ProgressState) Percent() float64 {
	return p.percent
}

// View renders the progress bar.
func (p ProgressState) View() string {
	if !p.isActive {
		return ""
	}
	descStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	return descStyle.Render(p.description) + "\n" + p.progress.ViewAs(p.percent)
}
