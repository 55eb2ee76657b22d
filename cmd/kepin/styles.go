package main

import "github.com/charmbracelet/lipgloss"

var (
	PrimaryColor = lipgloss.Color("#2E86AB")
	SuccessColor = lipgloss.Color("#4ECDC4")
	WarningColor = lipgloss.Color("#FFE66D")
	ErrorColor   = lipgloss.Color("#FF6B6B")
	InfoColor    = lipgloss.Color("#95E1D3")
	SubtleColor  = lipgloss.Color("#666666")

	TitleStyle   = lipgloss.NewStyle().Bold(true).Foreground(PrimaryColor)
	SuccessStyle = lipgloss.NewStyle().Foreground(SuccessColor)
	WarningStyle = lipgloss.NewStyle().Foreground(WarningColor)
	ErrorStyle   = lipgloss.NewStyle().Foreground(ErrorColor)
	InfoStyle    = lipgloss.NewStyle().Foreground(InfoColor)
	SubtleStyle  = lipgloss.NewStyle().Foreground(SubtleColor)

	// TableHeaderStyle is used for table headers.
	TableHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(PrimaryColor).Padding(0, 1)
	// TableCellStyle pads every cell.
	TableCellStyle = lipgloss.NewStyle().Padding(0, 1)
	// AmountCellStyle right-aligns money columns.
	AmountCellStyle = TableCellStyle.Align(lipgloss.Right)
)
