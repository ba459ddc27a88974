// envsetup provides a lightweight .env configuration wizard.
// It runs automatically on first bot startup when no .env file exists,
// collecting the Telegram bot token and the optional Instagram session
// cookie and keepalive URL.
package envsetup

import (
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type step int

const (
	stepWelcome step = iota
	stepToken
	stepSession
	stepKeepalive
	stepConfirm
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99")).
			MarginBottom(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	linkStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Underline(true)

	inputStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("229"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("82"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

type model struct {
	step          step
	telegramToken string
	sessionID     string
	keepaliveURL  string
	input         string
	err           error
	width         int
	height        int
}

func New() model {
	return model{
		step: stepWelcome,
	}
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m, tea.Quit

		case tea.KeyEnter:
			return m.handleEnter()

		case tea.KeyBackspace:
			if len(m.input) > 0 {
				m.input = m.input[:len(m.input)-1]
			}
			return m, nil

		case tea.KeyRunes:
			m.input += string(msg.Runes)
			return m, nil

		case tea.KeySpace:
			m.input += " "
			return m, nil
		}
	}

	return m, nil
}

func (m model) handleEnter() (tea.Model, tea.Cmd) {
	m.err = nil

	switch m.step {
	case stepWelcome:
		m.step = stepToken
		m.input = ""

	case stepToken:
		token := strings.TrimSpace(m.input)
		if token == "" {
			m.err = fmt.Errorf("Telegram bot token is required")
			return m, nil
		}
		m.telegramToken = token
		m.step = stepSession
		m.input = ""

	case stepSession:
		m.sessionID = strings.TrimSpace(m.input)
		m.step = stepKeepalive
		m.input = ""

	case stepKeepalive:
		m.keepaliveURL = strings.TrimSpace(m.input)
		m.step = stepConfirm
		m.input = ""

	case stepConfirm:
		choice := strings.TrimSpace(strings.ToLower(m.input))
		if choice == "y" || choice == "yes" || choice == "" {
			if err := m.writeEnvFile(); err != nil {
				m.err = err
				return m, nil
			}
			return m, tea.Quit
		} else if choice == "n" || choice == "no" {
			m.step = stepWelcome
			m.input = ""
			m.telegramToken = ""
			m.sessionID = ""
			m.keepaliveURL = ""
		}
	}

	return m, nil
}

func (m model) writeEnvFile() error {
	content := fmt.Sprintf(`DATABASE_URL=./igrelay.db
BOT_TOKEN=%s
INSTAGRAM_SESSION_ID=%s
KEEPALIVE_URL=%s
`, m.telegramToken, m.sessionID, m.keepaliveURL)

	return os.WriteFile(".env", []byte(content), 0600)
}

func (m model) View() string {
	var s strings.Builder

	switch m.step {
	case stepWelcome:
		s.WriteString(titleStyle.Render("igrelay - Env Setup"))
		s.WriteString("\n\n")
		s.WriteString("This wizard will help you configure the bot.\n")
		s.WriteString("You'll need:\n\n")
		s.WriteString("  - A Telegram bot token from @BotFather\n")
		s.WriteString("  - Optionally, an Instagram sessionid cookie\n")
		s.WriteString("  - Optionally, a public URL for keepalive pings\n")
		s.WriteString("\n")
		s.WriteString(dimStyle.Render("Press Enter to continue, Ctrl+C to exit"))

	case stepToken:
		s.WriteString(titleStyle.Render("Step 1: Telegram Bot Token"))
		s.WriteString("\n\n")
		s.WriteString("To get your bot token:\n\n")
		s.WriteString("  1. Open Telegram and message " + linkStyle.Render("@BotFather") + "\n")
		s.WriteString("  2. Send /newbot and follow the prompts\n")
		s.WriteString("  3. Copy the token BotFather replies with\n")
		s.WriteString("\n")
		s.WriteString(labelStyle.Render("Paste your bot token here:"))
		s.WriteString("\n")
		s.WriteString("> " + inputStyle.Render(maskToken(m.input)))
		if m.err != nil {
			s.WriteString("\n" + errorStyle.Render(m.err.Error()))
		}

	case stepSession:
		s.WriteString(titleStyle.Render("Step 2: Instagram Session Cookie (optional)"))
		s.WriteString("\n\n")
		s.WriteString("Without a session cookie some reels and posts hit Instagram's\n")
		s.WriteString("login wall. To get one:\n\n")
		s.WriteString("  1. Log in to " + linkStyle.Render("https://www.instagram.com") + " in a browser\n")
		s.WriteString("  2. Open DevTools -> Application -> Cookies\n")
		s.WriteString("  3. Copy the value of the 'sessionid' cookie\n")
		s.WriteString("\n")
		s.WriteString(labelStyle.Render("Paste the cookie here (or press Enter to skip):"))
		s.WriteString("\n")
		s.WriteString("> " + inputStyle.Render(maskToken(m.input)))
		if m.err != nil {
			s.WriteString("\n" + errorStyle.Render(m.err.Error()))
		}

	case stepKeepalive:
		s.WriteString(titleStyle.Render("Step 3: Keepalive URL (optional)"))
		s.WriteString("\n\n")
		s.WriteString("Free hosting tiers put idle processes to sleep. If yours does,\n")
		s.WriteString("enter the bot's own public URL and it will ping itself.\n")
		s.WriteString("\n")
		s.WriteString(labelStyle.Render("Enter the URL (or press Enter to skip):"))
		s.WriteString("\n")
		s.WriteString("> " + inputStyle.Render(m.input))
		if m.err != nil {
			s.WriteString("\n" + errorStyle.Render(m.err.Error()))
		}

	case stepConfirm:
		s.WriteString(titleStyle.Render("Configuration Complete"))
		s.WriteString("\n\n")
		s.WriteString("Your configuration:\n\n")
		s.WriteString("  Database:   " + successStyle.Render("./igrelay.db") + "\n")
		s.WriteString("  Bot token:  " + successStyle.Render(maskToken(m.telegramToken)) + "\n")
		if m.sessionID != "" {
			s.WriteString("  Instagram:  " + successStyle.Render(maskToken(m.sessionID)) + "\n")
		} else {
			s.WriteString("  Instagram:  " + dimStyle.Render("(none, public content only)") + "\n")
		}
		if m.keepaliveURL != "" {
			s.WriteString("  Keepalive:  " + successStyle.Render(m.keepaliveURL) + "\n")
		} else {
			s.WriteString("  Keepalive:  " + dimStyle.Render("(disabled)") + "\n")
		}
		s.WriteString("\n")
		s.WriteString(labelStyle.Render("Save this configuration? [Y/n]:"))
		s.WriteString("\n")
		s.WriteString("> " + inputStyle.Render(m.input))
		if m.err != nil {
			s.WriteString("\n" + errorStyle.Render(m.err.Error()))
		}
	}

	s.WriteString("\n")
	return s.String()
}

func maskToken(token string) string {
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + strings.Repeat("*", len(token)-8) + token[len(token)-4:]
}

// Run starts the setup wizard and returns true if setup was completed successfully
func Run() (bool, error) {
	p := tea.NewProgram(New())
	finalModel, err := p.Run()
	if err != nil {
		return false, err
	}

	m := finalModel.(model)
	return m.step == stepConfirm && m.err == nil, nil
}

// NeedsSetup checks if .env file exists
func NeedsSetup() bool {
	_, err := os.Stat(".env")
	return os.IsNotExist(err)
}
