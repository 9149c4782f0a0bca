// Package ledger implements the per-room poker ledger: buy-ins,
// cash-outs, balance and settlement. Amounts are stored as integer
// cents so settlement equality is exact.
package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNoActiveSession is returned for operations that require a session
// before the first buy-in has been recorded.
var ErrNoActiveSession = errors.New("no active poker session")

// NotHostError reports a settle attempt by someone other than the host.
type NotHostError struct {
	Host string
}

func (e *NotHostError) Error() string {
	return fmt.Sprintf("only the host (%s) can settle up", e.Host)
}

// UnbalancedError reports a settle attempt while buy-ins and cash-outs
// do not match. Diff is sum(buy-ins) - sum(cash-outs) in cents.
type UnbalancedError struct {
	Diff int64
}

func (e *UnbalancedError) Error() string {
	if e.Diff > 0 {
		return fmt.Sprintf("cannot settle: %s still in the pot (difference %s)", FormatCents(e.Diff), FormatSigned(e.Diff))
	}
	return fmt.Sprintf("cannot settle: cash-outs exceed buy-ins by %s (difference %s)", FormatCents(-e.Diff), FormatSigned(e.Diff))
}

// Entry is one buy-in or cash-out.
type Entry struct {
	Player string
	Amount int64 // cents
	At     time.Time
}

// Session is the poker state attached to a room. Created lazily on the
// first buy-in; the record is retained after settlement as an audit
// trail, and later buy-ins append to the same session.
type Session struct {
	Host     string
	BuyIns   []Entry
	CashOuts []Entry
}

// Payment is one settlement instruction.
type Payment struct {
	To     string `json:"to"`
	Amount int64  `json:"amount"` // cents
}

// Ledger wraps the optional session. The zero value is ready to use.
// Callers are responsible for serializing access (the room store holds
// its lock across every ledger call).
type Ledger struct {
	session *Session
}

// Active reports whether a session exists.
func (l *Ledger) Active() bool { return l.session != nil }

// Snapshot returns a copy of the session for read-only consumers, or
// nil if no session exists.
func (l *Ledger) Snapshot() *Session {
	if l.session == nil {
		return nil
	}
	s := &Session{Host: l.session.Host}
	s.BuyIns = append([]Entry(nil), l.session.BuyIns...)
	s.CashOuts = append([]Entry(nil), l.session.CashOuts...)
	return s
}

// RecordBuyIn records a buy-in, creating the session on first use with
// the buyer as host. Returns confirmation text with the running pot.
func (l *Ledger) RecordBuyIn(player string, amount int64) string {
	if l.session == nil {
		l.session = &Session{Host: player}
	}
	l.session.BuyIns = append(l.session.BuyIns, Entry{Player: player, Amount: amount, At: time.Now().UTC()})
	return fmt.Sprintf("%s bought in for %s. Total pot: %s.", player, FormatCents(amount), FormatCents(l.totalBuyIns()))
}

// RecordCashOut records a cash-out. Fails if no buy-in has occurred.
func (l *Ledger) RecordCashOut(player string, amount int64) (string, error) {
	if l.session == nil {
		return "", ErrNoActiveSession
	}
	l.session.CashOuts = append(l.session.CashOuts, Entry{Player: player, Amount: amount, At: time.Now().UTC()})
	return fmt.Sprintf("%s cashed out %s.", player, FormatCents(amount)), nil
}

// Summary renders buy-ins, cash-outs, totals and the balance verdict.
func (l *Ledger) Summary() string {
	if l.session == nil {
		return "No poker session yet. The first buy-in starts one."
	}
	var b strings.Builder
	b.WriteString("Poker ledger (host: " + l.session.Host + ")\n")
	b.WriteString("Buy-ins:\n")
	for _, e := range l.session.BuyIns {
		fmt.Fprintf(&b, "  %s: %s\n", e.Player, FormatCents(e.Amount))
	}
	if len(l.session.CashOuts) == 0 {
		b.WriteString("Cash-outs: none\n")
	} else {
		b.WriteString("Cash-outs:\n")
		for _, e := range l.session.CashOuts {
			fmt.Fprintf(&b, "  %s: %s\n", e.Player, FormatCents(e.Amount))
		}
	}
	in, out := l.totalBuyIns(), l.totalCashOuts()
	fmt.Fprintf(&b, "Total buy-ins: %s, total cash-outs: %s\n", FormatCents(in), FormatCents(out))
	switch diff := in - out; {
	case diff == 0:
		b.WriteString("The ledger is exactly balanced.")
	case diff > 0:
		fmt.Fprintf(&b, "Pot remaining: %s (%s).", FormatCents(diff), FormatSigned(diff))
	default:
		fmt.Fprintf(&b, "Over-paid by %s (%s).", FormatCents(-diff), FormatSigned(diff))
	}
	return b.String()
}

// Balance returns sum(buy-ins) - sum(cash-outs) in cents.
func (l *Ledger) Balance() int64 {
	if l.session == nil {
		return 0
	}
	return l.totalBuyIns() - l.totalCashOuts()
}

// Settle validates the requester and the balance, then returns one
// payment per cash-out entry in recorded order. resolve maps a player
// name to a wallet address; an empty result falls back to the name.
func (l *Ledger) Settle(requester string, resolve func(player string) string) ([]Payment, error) {
	if l.session == nil {
		return nil, ErrNoActiveSession
	}
	if requester != l.session.Host {
		return nil, &NotHostError{Host: l.session.Host}
	}
	if diff := l.Balance(); diff != 0 {
		return nil, &UnbalancedError{Diff: diff}
	}
	payments := make([]Payment, 0, len(l.session.CashOuts))
	for _, e := range l.session.CashOuts {
		to := e.Player
		if resolve != nil {
			if addr := resolve(e.Player); addr != "" {
				to = addr
			}
		}
		payments = append(payments, Payment{To: to, Amount: e.Amount})
	}
	return payments, nil
}

func (l *Ledger) totalBuyIns() int64 {
	var sum int64
	for _, e := range l.session.BuyIns {
		sum += e.Amount
	}
	return sum
}

func (l *Ledger) totalCashOuts() int64 {
	var sum int64
	for _, e := range l.session.CashOuts {
		sum += e.Amount
	}
	return sum
}

// FormatCents renders cents as dollars: $100 or $37.50.
func FormatCents(cents int64) string {
	neg := ""
	if cents < 0 {
		neg = "-"
		cents = -cents
	}
	if cents%100 == 0 {
		return fmt.Sprintf("%s$%d", neg, cents/100)
	}
	return fmt.Sprintf("%s$%d.%02d", neg, cents/100, cents%100)
}

// FormatSigned renders cents with an explicit sign: +$100 / -$50 / $0.
func FormatSigned(cents int64) string {
	if cents > 0 {
		return "+" + FormatCents(cents)
	}
	return FormatCents(cents)
}

// ParseDollars converts a dollar string like "100" or "37.50" (an
// optional leading $ is stripped) to cents.
func ParseDollars(s string) (int64, error) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "$"))
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 2 {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	for len(frac) < 2 {
		frac += "0"
	}
	var cents int64
	for _, part := range []string{whole, frac} {
		for _, c := range part {
			if c < '0' || c > '9' {
				return 0, fmt.Errorf("invalid amount %q", s)
			}
			cents = cents*10 + int64(c-'0')
		}
	}
	if neg {
		cents = -cents
	}
	return cents, nil
}
