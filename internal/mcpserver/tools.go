package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the txguard MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolAssessTransaction = mcp.NewTool("assess_transaction",
	mcp.WithDescription(
		"Assess the risk of a transaction before the user signs it. "+
			"Returns a SAFE, CAUTION or DANGEROUS verdict with a 0-100 score and the reasons behind it. "+
			"Call this before submitting any approval, swap or transfer on the user's behalf."),
	mcp.WithString("wallet",
		mcp.Required(),
		mcp.Description("The signing wallet address (0x followed by 40 hex characters)")),
	mcp.WithString("contract",
		mcp.Required(),
		mcp.Description("The counterparty address: the contract being called or the transfer recipient")),
	mcp.WithString("tx_type",
		mcp.Required(),
		mcp.Description("Kind of transaction: 'transfer', 'swap' or 'approve'"),
		mcp.Enum("transfer", "swap", "approve")),
)

var ToolLookupAddress = mcp.NewTool("lookup_address",
	mcp.WithDescription(
		"Look up an address in the scam intelligence dataset. "+
			"Reports whether the address is flagged, which category and source flagged it, "+
			"and how many hops it sits from the nearest flagged address."),
	mcp.WithString("address",
		mcp.Required(),
		mcp.Description("The address to look up (0x followed by 40 hex characters)")),
)
