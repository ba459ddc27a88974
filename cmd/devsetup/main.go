// devsetup is a developer environment setup wizard. It installs the
// external tools the bot shells out to (yt-dlp, ffmpeg) and collects
// environment variables. Run via `go run ./cmd/devsetup`.
package main

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type step int

const (
	stepYTDLP step = iota
	stepFFmpeg
	stepEnv
	stepComplete
)

var stepNames = []string{
	"yt-dlp",
	"ffmpeg",
	"Environment (.env)",
	"Complete",
}

type envField int

const (
	fieldBotToken envField = iota
	fieldSessionID
	fieldKeepaliveURL
	fieldDone
)

var envFieldNames = []string{
	"Telegram Bot Token",
	"Instagram Session Cookie (optional)",
	"Keepalive URL (optional)",
}

type model struct {
	step         step
	envField     envField
	textInput    textinput.Model
	envValues    map[envField]string
	status       string
	err          error
	width        int
	height       int
	skippedSteps map[step]bool
}

type stepDoneMsg struct {
	skipped bool
}
type stepErrorMsg struct{ err error }

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	activeStepStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86")).
			Bold(true)

	completedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	linkStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Underline(true)

	subtleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(1, 2)
)

func initialModel() model {
	ti := textinput.New()
	ti.Focus()
	ti.CharLimit = 256
	ti.Width = 60

	return model{
		step:         stepYTDLP,
		envField:     fieldBotToken,
		textInput:    ti,
		envValues:    make(map[envField]string),
		skippedSteps: make(map[step]bool),
	}
}

func (m model) Init() tea.Cmd {
	return m.runCurrentStep()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		}
		switch msg.String() {
		case "q":
			return m, tea.Quit
		case "enter":
			if m.step == stepEnv && m.envField < fieldDone {
				return m.handleEnvInput()
			}
			if m.step == stepComplete {
				return m, tea.Quit
			}
		case "tab":
			if m.step == stepEnv && m.envField < fieldDone {
				return m.skipEnvField()
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case stepDoneMsg:
		m.skippedSteps[m.step] = msg.skipped
		m.step++
		if m.step == stepEnv && envFileExists() {
			m.skippedSteps[stepEnv] = true
			m.step++
		}
		if m.step <= stepComplete {
			return m, m.runCurrentStep()
		}

	case stepErrorMsg:
		m.err = msg.err
		return m, nil
	}

	if m.step == stepEnv && m.envField < fieldDone {
		var cmd tea.Cmd
		m.textInput, cmd = m.textInput.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m model) View() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("igrelay - Developer Setup"))
	s.WriteString("\n\n")

	s.WriteString(m.renderProgress())
	s.WriteString("\n\n")

	s.WriteString(m.renderStepContent())
	s.WriteString("\n\n")

	s.WriteString(subtleStyle.Render("enter=continue • esc/ctrl+c=quit"))
	if m.step == stepEnv && m.envField < fieldDone {
		s.WriteString(subtleStyle.Render(" • tab=skip"))
	}

	return boxStyle.Render(s.String())
}

func (m model) renderProgress() string {
	var dots []string
	for i := 0; i <= int(stepComplete); i++ {
		if i < int(m.step) {
			dots = append(dots, completedStyle.Render("●"))
		} else if i == int(m.step) {
			dots = append(dots, activeStepStyle.Render("●"))
		} else {
			dots = append(dots, stepStyle.Render("○"))
		}
	}
	progress := strings.Join(dots, " ")

	stepLabel := ""
	if m.step <= stepComplete {
		stepLabel = fmt.Sprintf("Step %d of %d: %s", m.step+1, len(stepNames), stepNames[m.step])
	}

	return fmt.Sprintf("[%s]  %s", progress, activeStepStyle.Render(stepLabel))
}

func (m model) renderStepContent() string {
	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("Error: %v", m.err))
	}

	switch m.step {
	case stepYTDLP:
		return "Checking yt-dlp installation..."
	case stepFFmpeg:
		return "Checking ffmpeg installation..."
	case stepEnv:
		return m.renderEnvStep()
	case stepComplete:
		return m.renderComplete()
	}
	return ""
}

func (m model) renderEnvStep() string {
	if m.envField >= fieldDone {
		return completedStyle.Render("Environment configured!")
	}

	var s strings.Builder
	s.WriteString("Configure your environment:\n\n")

	fieldName := envFieldNames[m.envField]
	s.WriteString(fmt.Sprintf("%s:\n", activeStepStyle.Render(fieldName)))

	switch m.envField {
	case fieldBotToken:
		s.WriteString(fmt.Sprintf("  1. Open Telegram and message %s\n", linkStyle.Render("@BotFather")))
		s.WriteString("  2. Send /newbot and follow the prompts\n")
		s.WriteString("  3. Copy the token BotFather replies with\n")
		s.WriteString("\n")
		s.WriteString(subtleStyle.Render("  Paste the token from step 3:\n"))
	case fieldSessionID:
		s.WriteString("  Lets the bot fetch content behind Instagram's login wall:\n")
		s.WriteString(fmt.Sprintf("  1. Log in to %s in a browser\n", linkStyle.Render("https://www.instagram.com")))
		s.WriteString("  2. Open DevTools → Application → Cookies\n")
		s.WriteString("  3. Copy the value of the 'sessionid' cookie\n")
		s.WriteString("\n")
		s.WriteString(subtleStyle.Render("  Paste the cookie (or tab to skip):\n"))
	case fieldKeepaliveURL:
		s.WriteString("  If you deploy on a free tier that idles, the bot can ping\n")
		s.WriteString("  its own public URL to stay awake.\n")
		s.WriteString("\n")
		s.WriteString(subtleStyle.Render("  Enter the URL (or tab to skip):\n"))
	}

	s.WriteString("\n")
	s.WriteString(m.textInput.View())

	return s.String()
}

func (m model) renderComplete() string {
	var s strings.Builder
	s.WriteString(completedStyle.Render("✓ Setup complete!"))
	s.WriteString("\n\n")

	skipped := 0
	for _, v := range m.skippedSteps {
		if v {
			skipped++
		}
	}

	if skipped > 0 {
		s.WriteString(subtleStyle.Render(fmt.Sprintf("(%d steps were already configured)\n\n", skipped)))
	}

	s.WriteString("Next steps:\n")
	s.WriteString("  1. Run " + activeStepStyle.Render("go run ./cmd/igrelay") + " to start the bot\n")
	s.WriteString("  2. Open your bot in Telegram and send /start\n")
	s.WriteString("  3. Paste an Instagram link\n")

	return s.String()
}

func (m model) handleEnvInput() (tea.Model, tea.Cmd) {
	value := strings.TrimSpace(m.textInput.Value())

	if m.envField == fieldSessionID || m.envField == fieldKeepaliveURL {
		m.envValues[m.envField] = value
	} else if value == "" {
		return m, nil
	} else {
		m.envValues[m.envField] = value
	}

	m.textInput.SetValue("")
	m.envField++

	if m.envField == fieldDone {
		return m, m.writeEnvFile()
	}

	return m, nil
}

func (m model) skipEnvField() (tea.Model, tea.Cmd) {
	if m.envField == fieldSessionID || m.envField == fieldKeepaliveURL {
		m.envValues[m.envField] = ""
		m.textInput.SetValue("")
		m.envField++

		if m.envField == fieldDone {
			return m, m.writeEnvFile()
		}
	}
	return m, nil
}

func (m model) writeEnvFile() tea.Cmd {
	return func() tea.Msg {
		content := fmt.Sprintf(`# Generated by setup tool

# Database Configuration
DATABASE_URL=igrelay.db

# Telegram Configuration
BOT_TOKEN=%s

# Instagram Configuration
INSTAGRAM_SESSION_ID=%s

# Keepalive Configuration
KEEPALIVE_URL=%s
`,
			m.envValues[fieldBotToken],
			m.envValues[fieldSessionID],
			m.envValues[fieldKeepaliveURL],
		)

		if err := os.WriteFile(".env", []byte(content), 0600); err != nil {
			return stepErrorMsg{err}
		}
		return stepDoneMsg{skipped: false}
	}
}

func (m model) runCurrentStep() tea.Cmd {
	switch m.step {
	case stepYTDLP:
		return checkYTDLP()
	case stepFFmpeg:
		return checkFFmpeg()
	case stepEnv:
		return nil
	case stepComplete:
		return nil
	}
	return nil
}

func commandExists(cmd string) bool {
	_, err := exec.LookPath(cmd)
	return err == nil
}

func envFileExists() bool {
	_, err := os.Stat(".env")
	return err == nil
}

func checkYTDLP() tea.Cmd {
	return func() tea.Msg {
		if commandExists("yt-dlp") {
			return stepDoneMsg{skipped: true}
		}

		if runtime.GOOS == "darwin" {
			cmd := exec.Command("brew", "install", "yt-dlp")
			if err := cmd.Run(); err != nil {
				return stepErrorMsg{fmt.Errorf("failed to install yt-dlp: %w", err)}
			}
			return stepDoneMsg{skipped: false}
		}

		cmd := exec.Command("sh", "-c", "python3 -m pip install --user --upgrade yt-dlp")
		if err := cmd.Run(); err != nil {
			return stepErrorMsg{fmt.Errorf("failed to install yt-dlp: %w", err)}
		}
		return stepDoneMsg{skipped: false}
	}
}

func checkFFmpeg() tea.Cmd {
	return func() tea.Msg {
		if commandExists("ffmpeg") {
			return stepDoneMsg{skipped: true}
		}

		if runtime.GOOS == "darwin" {
			cmd := exec.Command("brew", "install", "ffmpeg")
			if err := cmd.Run(); err != nil {
				return stepErrorMsg{fmt.Errorf("failed to install ffmpeg: %w", err)}
			}
			return stepDoneMsg{skipped: false}
		}

		cmd := exec.Command("sudo", "apt-get", "install", "-y", "ffmpeg")
		if err := cmd.Run(); err != nil {
			return stepErrorMsg{fmt.Errorf("failed to install ffmpeg: %w", err)}
		}
		return stepDoneMsg{skipped: false}
	}
}

func main() {
	p := tea.NewProgram(initialModel())
	if _, err := p.Run(); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}
