package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
)

// Tool is a named capability exposed to the model. The core never
// inspects results; it only records which tool names were used.
type Tool struct {
	Name        string
	Description string
	Properties  map[string]interface{} // JSON Schema properties
	Required    []string
	Run         func(ctx context.Context, input json.RawMessage) (string, error)
}

// ClaudeOptions configures the Anthropic-backed agent.
type ClaudeOptions struct {
	Model     anthropic.Model
	MaxTokens int64
	APIKey    string
	Tools     []Tool
}

// Claude implements Agent on the Anthropic Messages API with a
// tool-use loop.
type Claude struct {
	client *anthropic.Client
	opts   ClaudeOptions
}

func NewClaude(optFns ...func(o *ClaudeOptions)) *Claude {
	opts := ClaudeOptions{
		Model:     anthropic.ModelClaude3_5Sonnet20241022,
		MaxTokens: 1024,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &Claude{client: &client, opts: opts}
}

// ProcessMessage runs one invocation: room context as the system
// prompt, the trimmed history as the user turn, and wallet + ledger
// tools in a tool-use loop until the model stops.
func (c *Claude) ProcessMessage(ctx context.Context, req Request, onProgress ProgressFunc) (*Response, error) {
	tools := append(append([]Tool(nil), c.opts.Tools...), ledgerTools(req.Ledger)...)

	params := anthropic.MessageNewParams{
		Model:     c.opts.Model,
		MaxTokens: c.opts.MaxTokens,
		System:    []anthropic.TextBlockParam{{Text: buildSystemPrompt(req)}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildTranscript(req))),
		},
		Tools: buildTools(tools),
	}

	start := time.Now()
	var toolUses []string

	for {
		resp, err := c.client.Messages.New(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("anthropic api error: %w", err)
		}

		var text string
		var assistantBlocks []anthropic.ContentBlockParamUnion
		var toolResults []anthropic.ContentBlockParamUnion

		for _, block := range resp.Content {
			switch block.Type {
			case "text":
				tb := block.AsText()
				text += tb.Text
				if tb.Text != "" {
					assistantBlocks = append(assistantBlocks, anthropic.NewTextBlock(tb.Text))
				}
			case "tool_use":
				tb := block.AsToolUse()
				if onProgress != nil {
					onProgress(tb.Name, time.Since(start))
				}
				toolUses = append(toolUses, tb.Name)
				assistantBlocks = append(assistantBlocks, anthropic.NewToolUseBlock(tb.ID, tb.Input, tb.Name))

				input, _ := json.Marshal(tb.Input)
				result, isErr := runTool(ctx, tools, tb.Name, input)
				toolResults = append(toolResults, anthropic.NewToolResultBlock(tb.ID, result, isErr))
			}
		}

		if string(resp.StopReason) != "tool_use" || len(toolResults) == 0 {
			return &Response{Text: text, ToolUses: toolUses}, nil
		}

		params.Messages = append(params.Messages,
			anthropic.NewAssistantMessage(assistantBlocks...),
			anthropic.NewUserMessage(toolResults...),
		)
	}
}

func runTool(ctx context.Context, tools []Tool, name string, input json.RawMessage) (result string, isErr bool) {
	for _, t := range tools {
		if t.Name != name {
			continue
		}
		out, err := t.Run(ctx, input)
		if err != nil {
			return err.Error(), true
		}
		return out, false
	}
	return "unknown tool: " + name, true
}

func buildTools(tools []Tool) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema := anthropic.ToolInputSchemaParam{
			Type:       constant.Object("object"),
			Properties: t.Properties,
			Required:   t.Required,
		}
		tu := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if t.Description != "" {
			tu.OfTool.Description = anthropic.String(t.Description)
		}
		out = append(out, tu)
	}
	return out
}

func buildSystemPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("You are Claude, the assistant in a group chat room")
	if req.RoomName != "" {
		b.WriteString(" called \"" + req.RoomName + "\"")
	}
	b.WriteString(". Be concise and conversational.\n")

	if len(req.Participants) > 0 {
		b.WriteString("\nParticipants:\n")
		for _, p := range req.Participants {
			if p.Wallet != "" {
				fmt.Fprintf(&b, "- %s (wallet: %s)\n", p.Username, p.Wallet)
			} else {
				fmt.Fprintf(&b, "- %s\n", p.Username)
			}
		}
	}
	if len(req.Contacts) > 0 {
		b.WriteString("\nKnown wallet addresses:\n")
		for name, addr := range req.Contacts {
			fmt.Fprintf(&b, "- %s: %s\n", name, addr)
		}
	}
	if req.Poker != nil {
		fmt.Fprintf(&b, "\nPoker session in progress, hosted by %s. Buy-ins so far: %d, cash-outs: %d.\n",
			req.Poker.Host, len(req.Poker.BuyIns), len(req.Poker.CashOuts))
	}

	b.WriteString("\nYou can manage the room's poker ledger with the record_buy_in, " +
		"record_cash_out, show_ledger and settle_up tools. You may also embed the " +
		"directives BUY_IN(player, amount), CASH_OUT(player, amount), SHOW_LEDGER() " +
		"or SETTLE_UP(player) in your reply; the server replaces each with its result.")
	return b.String()
}

func buildTranscript(req Request) string {
	var b strings.Builder
	if len(req.History) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, m := range req.History {
			fmt.Fprintf(&b, "[%s] %s\n", m.Sender, m.Text)
		}
		b.WriteString("\n")
	}
	b.WriteString("New message: " + req.Text)
	return b.String()
}

// ledgerTools wraps the room-bound ledger closures as model tools.
func ledgerTools(ops LedgerOps) []Tool {
	if ops.BuyIn == nil && ops.CashOut == nil && ops.Summary == nil && ops.Settle == nil {
		return nil
	}

	playerAmountSchema := map[string]interface{}{
		"player": map[string]interface{}{"type": "string", "description": "Player display name"},
		"amount": map[string]interface{}{"type": "number", "description": "Dollar amount"},
	}
	type playerAmountArgs struct {
		Player string  `json:"player"`
		Amount float64 `json:"amount"`
	}

	var tools []Tool
	if ops.BuyIn != nil {
		tools = append(tools, Tool{
			Name:        "record_buy_in",
			Description: "Record a poker buy-in for a player.",
			Properties:  playerAmountSchema,
			Required:    []string{"player", "amount"},
			Run: func(_ context.Context, input json.RawMessage) (string, error) {
				var args playerAmountArgs
				if err := json.Unmarshal(input, &args); err != nil {
					return "", err
				}
				return ops.BuyIn(args.Player, dollarsToCents(args.Amount)), nil
			},
		})
	}
	if ops.CashOut != nil {
		tools = append(tools, Tool{
			Name:        "record_cash_out",
			Description: "Record a poker cash-out for a player.",
			Properties:  playerAmountSchema,
			Required:    []string{"player", "amount"},
			Run: func(_ context.Context, input json.RawMessage) (string, error) {
				var args playerAmountArgs
				if err := json.Unmarshal(input, &args); err != nil {
					return "", err
				}
				return ops.CashOut(args.Player, dollarsToCents(args.Amount)), nil
			},
		})
	}
	if ops.Summary != nil {
		tools = append(tools, Tool{
			Name:        "show_ledger",
			Description: "Show the current poker ledger with totals and balance.",
			Properties:  map[string]interface{}{},
			Run: func(_ context.Context, _ json.RawMessage) (string, error) {
				return ops.Summary(), nil
			},
		})
	}
	if ops.Settle != nil {
		tools = append(tools, Tool{
			Name:        "settle_up",
			Description: "Settle the poker session. Only the host can settle.",
			Properties: map[string]interface{}{
				"player": map[string]interface{}{"type": "string", "description": "Name of the player requesting settlement"},
			},
			Required: []string{"player"},
			Run: func(_ context.Context, input json.RawMessage) (string, error) {
				var args struct {
					Player string `json:"player"`
				}
				if err := json.Unmarshal(input, &args); err != nil {
					return "", err
				}
				return ops.Settle(args.Player), nil
			},
		})
	}
	return tools
}

func dollarsToCents(v float64) int64 {
	return int64(math.Round(v * 100))
}
