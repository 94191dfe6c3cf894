package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/glimte/mandate-go/audit"
	"github.com/glimte/mandate-go/contracts"
	"github.com/glimte/mandate-go/integrity"
	"github.com/glimte/mandate-go/shopping"
)

const (
	primaryColor   = lipgloss.Color("#7C3AED")
	secondaryColor = lipgloss.Color("#10B981")
	warningColor   = lipgloss.Color("#F59E0B")
	errorColor     = lipgloss.Color("#EF4444")
	mutedColor     = lipgloss.Color("#6B7280")
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(primaryColor).
			Bold(true).
			Margin(1, 0, 0, 0)

	labelStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	userStyle = lipgloss.NewStyle().
			Foreground(primaryColor).
			Bold(true)

	agentStyle = lipgloss.NewStyle().
			Foreground(secondaryColor)

	okStyle = lipgloss.NewStyle().
		Foreground(secondaryColor).
		Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(warningColor).
			Bold(true)

	errStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)
)

func renderTurn(turn shopping.Turn) string {
	if turn.Type == shopping.TurnUser {
		return userStyle.Render("you   ") + " " + turn.Text
	}
	return agentStyle.Render("agent ") + " " + turn.Text
}

func renderState(state shopping.State) string {
	switch state {
	case shopping.StatePaymentSettled:
		return okStyle.Render(string(state))
	case shopping.StatePaymentFailed:
		return warnStyle.Render(string(state))
	case shopping.StateAborted:
		return errStyle.Render(string(state))
	default:
		return labelStyle.Render(string(state))
	}
}

func renderAmount(a contracts.CurrencyAmount) string {
	return a.Value.StringFixed(2) + " " + a.Currency
}

func renderCart(i int, cart contracts.CartMandate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", titleStyle.UnsetMargins().Render(fmt.Sprintf("[%d]", i+1)), cart.ID())
	for _, item := range cart.Contents.PaymentRequest.Details.DisplayItems {
		fmt.Fprintf(&b, "  %-32s %s\n", item.Label, renderAmount(item.Amount))
	}
	total := cart.Total()
	fmt.Fprintf(&b, "  %-32s %s\n", labelStyle.Render(total.Label), okStyle.Render(renderAmount(total.Amount)))
	fmt.Fprintf(&b, "  %s %s", labelStyle.Render("expires"), cart.Contents.CartExpiry.Format("15:04:05 MST"))
	return cardStyle.Render(b.String())
}

func renderCarts(carts []contracts.CartMandate) string {
	parts := make([]string, 0, len(carts))
	for i, c := range carts {
		parts = append(parts, renderCart(i, c))
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func renderMethods(methods []contracts.PaymentMethod) string {
	var b strings.Builder
	for _, m := range methods {
		detail := m.Brand
		if m.Last4 != "" {
			detail += " ****" + m.Last4
		}
		fmt.Fprintf(&b, "  %s  %-18s %-7s %s\n", userStyle.Render(m.ID), m.Alias, m.Type, labelStyle.Render(detail))
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderSession(s shopping.Session) string {
	lines := []string{
		titleStyle.Render("Session " + s.ContextID),
		labelStyle.Render("state   ") + renderState(s.State),
	}
	if s.PaymentMandate != nil {
		lines = append(lines, labelStyle.Render("mandate ")+s.PaymentMandate.ID())
	}
	if s.Receipt != nil {
		lines = append(lines,
			labelStyle.Render("receipt ")+s.Receipt.ID,
			labelStyle.Render("charged ")+okStyle.Render(renderAmount(s.Receipt.Amount))+" via "+s.Receipt.MethodName)
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderReport(r *audit.Report) string {
	status := okStyle.Render("verified")
	if !r.OK() {
		status = errStyle.Render("FAILED")
	}
	lines := []string{
		titleStyle.Render("Audit " + r.ContextID),
		fmt.Sprintf("%s %s  %s %d  %s %d", labelStyle.Render("status"), status,
			labelStyle.Render("carts"), r.Carts, labelStyle.Render("payments"), r.Payments),
	}
	for _, f := range r.Findings {
		mark := okStyle.Render("ok ")
		if f.Error != "" {
			mark = errStyle.Render("err")
		}
		line := fmt.Sprintf("  %s %s cart=%s settled=%t", mark, f.PaymentMandateID, f.CartID, f.Settled)
		if f.Error != "" {
			line += " " + errStyle.Render(f.Error)
		}
		lines = append(lines, line)
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderDecoded(d *integrity.Decoded) string {
	section := func(title string, m map[string]any) []string {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := []string{titleStyle.Render(title)}
		for _, k := range keys {
			out = append(out, fmt.Sprintf("  %s %v", labelStyle.Render(fmt.Sprintf("%-20s", k)), m[k]))
		}
		return out
	}
	lines := append(section("Header", d.Header), section("Claims", d.Claims)...)
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}
