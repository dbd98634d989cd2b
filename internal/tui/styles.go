package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/ensemble/pkg/models"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#4ECDC4"))
	panelTitle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("243"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	footerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true)
	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFC857"))

	pendingStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	inProgressStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFC857"))
	completedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#96E6A1"))
	blockedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	skippedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	activeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#45B7D1"))
	pausedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF8E53")).Bold(true)
	doneStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#96E6A1")).Bold(true)
)

func taskStatusStyle(status models.TaskStatus) lipgloss.Style {
	switch status {
	case models.TaskStatusInProgress:
		return inProgressStyle
	case models.TaskStatusCompleted:
		return completedStyle
	case models.TaskStatusBlocked:
		return blockedStyle
	case models.TaskStatusSkipped:
		return skippedStyle
	default:
		return pendingStyle
	}
}

func sessionStatusStyle(status models.SessionStatus) lipgloss.Style {
	switch status {
	case models.SessionActive:
		return activeStyle
	case models.SessionPaused:
		return pausedStyle
	case models.SessionCompleted:
		return doneStyle
	case models.SessionAborted:
		return blockedStyle
	default:
		return dimStyle
	}
}

func messageTypeStyle(t models.MessageType) lipgloss.Style {
	switch t {
	case models.MessageTaskComplete:
		return completedStyle
	case models.MessageTaskBlocked, models.MessageError, models.MessageEscalate:
		return blockedStyle
	default:
		return dimStyle
	}
}
