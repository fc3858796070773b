package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *Client
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *Client) *Handlers {
	return &Handlers{client: client}
}

// HandleAssessTransaction scores a prospective transaction.
func (h *Handlers) HandleAssessTransaction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	wallet := strings.TrimSpace(req.GetString("wallet", ""))
	contract := strings.TrimSpace(req.GetString("contract", ""))
	txType := strings.TrimSpace(req.GetString("tx_type", ""))

	var missing []string
	if wallet == "" {
		missing = append(missing, "wallet")
	}
	if contract == "" {
		missing = append(missing, "contract")
	}
	if txType == "" {
		missing = append(missing, "tx_type")
	}
	if len(missing) > 0 {
		return mcp.NewToolResultError(strings.Join(missing, ", ") + " required"), nil
	}

	v, err := h.client.Assess(ctx, wallet, contract, txType)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to assess transaction: %v", err)), nil
	}

	return mcp.NewToolResultText(formatVerdict(v)), nil
}

// HandleLookupAddress reports what the scam dataset knows about an address.
func (h *Handlers) HandleLookupAddress(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	addr := strings.TrimSpace(req.GetString("address", ""))
	if addr == "" {
		return mcp.NewToolResultError("address is required"), nil
	}

	ai, err := h.client.LookupAddress(ctx, addr)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to look up address: %v", err)), nil
	}

	return mcp.NewToolResultText(formatAddressIntel(ai)), nil
}

// ---------------------------------------------------------------------------
// Formatting
// ---------------------------------------------------------------------------

func formatVerdict(v *Verdict) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Risk: %s (score %d/100)\n", v.Risk, v.RiskScore)

	if len(v.Reasons) > 0 {
		sb.WriteString("\nReasons:\n")
		for _, r := range v.Reasons {
			fmt.Fprintf(&sb, "  - %s\n", r)
		}
	}

	var sig struct {
		Simulation *struct {
			DrainProbability float64 `json:"drainProbability"`
		} `json:"simulation"`
		DatasetVersion string `json:"datasetVersion"`
	}
	if len(v.Signals) > 0 && json.Unmarshal(v.Signals, &sig) == nil {
		if sig.Simulation != nil {
			fmt.Fprintf(&sb, "\nSimulated drain probability: %.1f%%\n", sig.Simulation.DrainProbability*100)
		}
		if sig.DatasetVersion != "" {
			fmt.Fprintf(&sb, "Dataset: %s\n", sig.DatasetVersion)
		}
	}

	switch v.Risk {
	case "DANGEROUS":
		sb.WriteString("\nDo not sign this transaction.")
	case "CAUTION":
		sb.WriteString("\nReview the reasons with the user before signing.")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatAddressIntel(ai *AddressIntel) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Address: %s\n", ai.Address)

	if ai.Match == nil {
		sb.WriteString("Flagged: no\n")
	} else {
		kind := "exact"
		if !ai.Match.Exact {
			kind = "cluster " + ai.Match.ClusterID
		}
		fmt.Fprintf(&sb, "Flagged: yes (%s match)\n", kind)
		fmt.Fprintf(&sb, "  Category: %s\n", ai.Match.Record.Category)
		fmt.Fprintf(&sb, "  Confidence: %.2f\n", ai.Match.Record.Confidence)
		if ai.Match.Record.Source != "" {
			fmt.Fprintf(&sb, "  Source: %s\n", ai.Match.Record.Source)
		}
	}

	switch {
	case ai.Graph == nil || !ai.Graph.InGraph:
		sb.WriteString("Graph: not in association graph\n")
	case ai.Graph.Distance == nil:
		sb.WriteString("Graph: no flagged address within hop limit\n")
	default:
		fmt.Fprintf(&sb, "Graph: %d hop(s) from %s\n", *ai.Graph.Distance, ai.Graph.Nearest)
	}

	if ai.DatasetVersion != "" {
		fmt.Fprintf(&sb, "Dataset: %s\n", ai.DatasetVersion)
	}
	return strings.TrimRight(sb.String(), "\n")
}
