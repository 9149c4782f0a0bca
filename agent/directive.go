package agent

import (
	"regexp"
	"strings"

	"github.com/splitpot/splitpot-server/ledger"
)

// Ledger action directives the agent may embed in its reply text, e.g.
// BUY_IN(Alice, 100). Each is executed in textual order and replaced by
// the literal result text before the response goes out.
var directiveRe = regexp.MustCompile(`(BUY_IN|CASH_OUT|SHOW_LEDGER|SETTLE_UP)\(([^)]*)\)`)

func applyDirectives(text string, ops LedgerOps) string {
	return directiveRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := directiveRe.FindStringSubmatch(m)
		name, args := sub[1], splitArgs(sub[2])

		switch name {
		case "BUY_IN":
			if ops.BuyIn == nil {
				return m
			}
			player, cents, err := playerAmount(args)
			if err != "" {
				return err
			}
			return ops.BuyIn(player, cents)
		case "CASH_OUT":
			if ops.CashOut == nil {
				return m
			}
			player, cents, err := playerAmount(args)
			if err != "" {
				return err
			}
			return ops.CashOut(player, cents)
		case "SHOW_LEDGER":
			if ops.Summary == nil {
				return m
			}
			return ops.Summary()
		case "SETTLE_UP":
			if ops.Settle == nil {
				return m
			}
			if len(args) != 1 || args[0] == "" {
				return "[settle_up needs the requesting player's name]"
			}
			return ops.Settle(args[0])
		}
		return m
	})
}

func playerAmount(args []string) (player string, cents int64, errText string) {
	if len(args) != 2 || args[0] == "" {
		return "", 0, "[expected (player, amount)]"
	}
	cents, err := ledger.ParseDollars(args[1])
	if err != nil {
		return "", 0, "[could not read amount " + args[1] + "]"
	}
	return args[0], cents, ""
}

func splitArgs(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	for i, p := range parts {
		parts[i] = strings.Trim(strings.TrimSpace(p), `"'`)
	}
	return parts
}
