// Package output provides styled terminal output helpers (success, error,
// warning, transaction and state formatting) using lipgloss.
package output

import (
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/marcus/till/internal/models"
)

var (
	// Styles
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	stateStyles  = map[models.ConnectionState]lipgloss.Style{
		models.StateOffline:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		models.StateOnlineIdle: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		models.StateSyncing:    lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
	}
	statusStyles = map[models.SyncStatus]lipgloss.Style{
		models.SyncPending: lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		models.SyncSyncing: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		models.SyncError:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

// Success prints a success message
func Success(format string, args ...interface{}) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message
func Error(format string, args ...interface{}) {
	fmt.Println(errorStyle.Render("ERROR: " + fmt.Sprintf(format, args...)))
}

// Warning prints a warning message
func Warning(format string, args ...interface{}) {
	fmt.Println(warningStyle.Render("Warning: " + fmt.Sprintf(format, args...)))
}

// Info prints an info message
func Info(format string, args ...interface{}) {
	fmt.Println(fmt.Sprintf(format, args...))
}

// Subtle prints a de-emphasized message
func Subtle(format string, args ...interface{}) {
	fmt.Println(subtleStyle.Render(fmt.Sprintf(format, args...)))
}

// JSON outputs data as JSON
func JSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// FormatState formats a connectivity state with color
func FormatState(s models.ConnectionState) string {
	style, ok := stateStyles[s]
	if !ok {
		return string(s)
	}
	return style.Render(string(s))
}

// FormatSyncStatus formats a transaction sync status with color
func FormatSyncStatus(s models.SyncStatus) string {
	style, ok := statusStyles[s]
	if !ok {
		return string(s)
	}
	return style.Render(fmt.Sprintf("[%s]", s))
}

// FormatTransaction renders a one-line transaction summary.
func FormatTransaction(tx *models.PendingTransaction) string {
	line := fmt.Sprintf("%s %s %s", shortID(tx.ID), FormatSyncStatus(tx.SyncStatus), tx.Kind)
	if tx.RetryCount > 0 {
		line += subtleStyle.Render(fmt.Sprintf(" retries=%d", tx.RetryCount))
	}
	if tx.ErrorClass != "" {
		line += " " + errorStyle.Render(string(tx.ErrorClass))
	}
	if tx.ErrorMessage != "" {
		line += subtleStyle.Render(" " + tx.ErrorMessage)
	}
	return line
}

// shortID truncates a uuid for display
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
