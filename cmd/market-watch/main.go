// market-watch is a terminal dashboard over the exchange market feed.
// It polls mark prices and 24h change and renders them as a sortable table.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/sirupsen/logrus"

	"github.com/custodia/gotrade/internal/gateway/exchange"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	upStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("2"))

	downStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("1"))

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

type model struct {
	gw      exchange.Gateway
	filter  string
	markets []exchange.Market
	updated time.Time
	err     error
	offset  int
	height  int
}

type tickMsg time.Time

type marketsMsg struct {
	markets []exchange.Market
	err     error
}

func tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetchCmd(gw exchange.Gateway) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		markets, err := gw.GetAllMarkets(ctx)
		return marketsMsg{markets: markets, err: err}
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(fetchCmd(m.gw), tickCmd())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "up", "k":
			if m.offset > 0 {
				m.offset--
			}
		case "down", "j":
			if m.offset < len(m.markets)-1 {
				m.offset++
			}
		}

	case tea.WindowSizeMsg:
		m.height = msg.Height

	case tickMsg:
		return m, tea.Batch(fetchCmd(m.gw), tickCmd())

	case marketsMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		markets := msg.markets
		if m.filter != "" {
			kept := markets[:0]
			for _, mk := range markets {
				if strings.Contains(strings.ToLower(mk.Symbol), strings.ToLower(m.filter)) {
					kept = append(kept, mk)
				}
			}
			markets = kept
		}
		// Biggest movers first.
		sort.Slice(markets, func(i, j int) bool {
			return markets[i].Change24h.Abs().GreaterThan(markets[j].Change24h.Abs())
		})
		m.markets = markets
		m.updated = time.Now()
	}

	return m, nil
}

func (m model) View() string {
	var s strings.Builder

	status := "connecting..."
	if !m.updated.IsZero() {
		status = fmt.Sprintf("updated %s ago", time.Since(m.updated).Round(time.Second))
	}
	if m.err != nil {
		status = fmt.Sprintf("error: %v", m.err)
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("markets: %d | %s", len(m.markets), status)))
	s.WriteString("\n\n")

	var table strings.Builder
	table.WriteString(fmt.Sprintf("  %-12s %16s %12s\n", "SYMBOL", "PRICE", "24H"))

	rows := m.height - 8
	if rows < 5 {
		rows = 20
	}
	start := m.offset
	if start > len(m.markets) {
		start = len(m.markets)
	}
	end := start + rows
	if end > len(m.markets) {
		end = len(m.markets)
	}
	for _, mk := range m.markets[start:end] {
		change := fmt.Sprintf("%s%%", mk.Change24h.StringFixed(2))
		if mk.Change24h.IsNegative() {
			change = downStyle.Render(change)
		} else {
			change = upStyle.Render(change)
		}
		table.WriteString(fmt.Sprintf("  %-12s %16s %12s\n", mk.Symbol, mk.Price.String(), change))
	}
	if len(m.markets) == 0 {
		table.WriteString(dimStyle.Render("  no markets\n"))
	}

	s.WriteString(borderStyle.Render(table.String()))
	s.WriteString("\n")
	s.WriteString(dimStyle.Render("j/k scroll  q quit"))
	return s.String()
}

func main() {
	var (
		baseURL = flag.String("url", envOr("HYPERLIQUID_BASE_URL", "https://api.hyperliquid-testnet.xyz"), "exchange API base URL")
		filter  = flag.String("filter", "", "only show symbols containing this substring")
	)
	flag.Parse()

	// Keep component loggers off the terminal; the TUI owns the screen.
	logrus.SetOutput(io.Discard)

	gw := exchange.NewHyperliquid(exchange.HyperliquidConfig{BaseURL: *baseURL})

	p := tea.NewProgram(model{gw: gw, filter: *filter}, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Fatalf("run failed: %v", err)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
