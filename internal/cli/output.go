package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/ashureev/fluxion-chat/internal/domain"
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow, color.Bold)
	infoColor    = color.New(color.FgCyan)
	boldColor    = color.New(color.Bold)
	faintColor   = color.New(color.Faint)
)

func printSuccess(w io.Writer, format string, args ...interface{}) {
	successColor.Fprintf(w, "✓ %s\n", fmt.Sprintf(format, args...))
}

func printError(w io.Writer, format string, args ...interface{}) {
	errorColor.Fprintf(w, "✗ %s\n", fmt.Sprintf(format, args...))
}

func printWarning(w io.Writer, format string, args ...interface{}) {
	warningColor.Fprintf(w, "⚠ %s\n", fmt.Sprintf(format, args...))
}

func kindColor(k domain.MessageKind) *color.Color {
	switch k {
	case domain.MessageUser:
		return boldColor
	case domain.MessageAgent:
		return infoColor
	case domain.MessageError:
		return errorColor
	default:
		return faintColor
	}
}

func printMessage(w io.Writer, m domain.Message) {
	faintColor.Fprintf(w, "[%s] ", m.Timestamp.Local().Format("15:04:05"))
	kindColor(m.Kind).Fprintf(w, "%-6s", m.Kind)
	fmt.Fprintf(w, " %s\n", m.Content)
}

// stageColor maps a stage outcome to its colour.
func stageColor(s domain.ProgressStage) *color.Color {
	switch s.Outcome() {
	case domain.OutcomeSuccess:
		return successColor
	case domain.OutcomeFailure:
		return errorColor
	case domain.OutcomeAction:
		return warningColor
	default:
		return infoColor
	}
}

func printProgress(w io.Writer, ev domain.ProgressEvent) {
	faintColor.Fprintf(w, "[%s] ", ev.Time().Local().Format("15:04:05"))
	stageColor(ev.Stage).Fprintf(w, "%-19s", ev.Stage)
	fmt.Fprintf(w, " %s", ev.Message)
	if tool := ev.Details.Tool(); tool != "" {
		faintColor.Fprintf(w, " (tool: %s)", tool)
	}
	if sql := ev.Details.SQL(); sql != "" {
		faintColor.Fprintf(w, "\n    %s", sql)
	}
	fmt.Fprintln(w)
}
