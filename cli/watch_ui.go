package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/ramhaidar/kilocode/indexer"
)

func isInteractiveTerminal() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

var (
	watchTitleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	watchLabelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	watchRootStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("81"))
	watchBranchStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("114"))
	watchErrorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	watchOKStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))
	watchFooterStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).MarginTop(1)
	watchSpinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
)

// runWatchUI drives the supervisor exactly like the plain foreground mode
// but renders its snapshots as a live dashboard. Quitting the dashboard
// stops the daemon.
func runWatchUI(sup *watchSupervisor) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	p := tea.NewProgram(newWatchModel(sup), tea.WithAltScreen())

	done := make(chan error, 1)
	go func() {
		done <- sup.Run(ctx)
		p.Quit()
	}()

	_, uiErr := p.Run()
	cancel()
	if runErr := <-done; runErr != nil {
		return runErr
	}
	return uiErr
}

type watchTickMsg time.Time

func watchTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return watchTickMsg(t)
	})
}

type watchModel struct {
	sup      *watchSupervisor
	snapshot indexer.Snapshot
	spinner  spinner.Model
	width    int
}

func newWatchModel(sup *watchSupervisor) watchModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = watchSpinnerStyle
	return watchModel{sup: sup, snapshot: sup.Snapshot(), spinner: s}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, watchTickCmd())
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case watchTickMsg:
		m.snapshot = m.sup.Snapshot()
		return m, watchTickCmd()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder

	b.WriteString(watchTitleStyle.Render("kilocode sync"))
	if m.snapshot.OrganizationID != "" {
		b.WriteString(watchLabelStyle.Render("  org "))
		b.WriteString(m.snapshot.OrganizationID)
	}
	b.WriteString("\n\n")

	if !m.snapshot.Active {
		b.WriteString(watchLabelStyle.Render("  starting..."))
		b.WriteString("\n")
	} else if len(m.snapshot.Roots) == 0 {
		b.WriteString(watchLabelStyle.Render("  no workspace roots configured"))
		b.WriteString("\n")
	}

	for _, root := range m.snapshot.Roots {
		b.WriteString(m.renderRoot(root))
	}

	b.WriteString(watchFooterStyle.Render("  q quit"))
	b.WriteString("\n")
	return b.String()
}

func (m watchModel) renderRoot(root indexer.RootStatus) string {
	var b strings.Builder

	marker := watchOKStyle.Render("●")
	state := "watching"
	switch {
	case root.LastError != "":
		marker = watchErrorStyle.Render("●")
		state = "degraded"
	case root.IsIndexing:
		marker = m.spinner.View()
		state = "indexing"
	case !root.HasWatcher:
		marker = watchLabelStyle.Render("○")
		state = "stopped"
	}

	b.WriteString("  ")
	b.WriteString(marker)
	b.WriteString(" ")
	b.WriteString(watchRootStyle.Render(root.Name))
	if root.GitBranch != "" {
		b.WriteString("  ")
		b.WriteString(watchBranchStyle.Render(root.GitBranch))
	}
	b.WriteString("  ")
	b.WriteString(watchLabelStyle.Render(state))
	b.WriteString("\n")

	b.WriteString(watchLabelStyle.Render("      project "))
	if root.ProjectID != "" {
		b.WriteString(root.ProjectID)
	} else {
		b.WriteString("-")
	}
	if root.HasManifest {
		b.WriteString(watchLabelStyle.Render("  manifest "))
		b.WriteString(fmt.Sprintf("%d files", root.ManifestFiles))
	}
	b.WriteString(watchLabelStyle.Render("  uploaded "))
	b.WriteString(fmt.Sprintf("%d", root.FilesUploaded))
	b.WriteString(watchLabelStyle.Render("  skipped "))
	b.WriteString(fmt.Sprintf("%d", root.FilesSkipped))
	b.WriteString("\n")

	if root.LastError != "" {
		b.WriteString(watchErrorStyle.Render("      " + root.LastError))
		b.WriteString("\n")
	}
	return b.String()
}
