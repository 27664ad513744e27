// ABOUTME: Instruction prompt and function schema offered to the model
// ABOUTME: Markup instructions are used when the provider cannot take tools

package conversation

import (
	"github.com/2389/palladium-gateway/internal/action"
	"github.com/2389/palladium-gateway/internal/llm"
)

const basePrompt = `You are a helpful assistant that keeps the user's vendor and inventory data in a spreadsheet.
Answer conversationally. When the user asks you to create or change the spreadsheet, request the change instead of describing it.`

const markupPrompt = basePrompt + `

To request a spreadsheet change, write a block like this on its own lines:

[ACTION] Create a spreadsheet
Title: Vendor Inventory
Headers:
- Name
- Contact
- Status
[/ACTION]

Supported actions:
- "Create a spreadsheet" with Title: and Headers: (bullets or a comma separated list)
- "Append a row" with Values: (comma separated, in column order)
- "Update a row" with Row: (1 is the first row below the headers) and Values:
- "Add a column" with Column: <name>
- "Get the spreadsheet link"
- "Read the table"

The block is replaced by the result before the user sees it. Never show the markers to the user in any other way.`

const functionPrompt = basePrompt + `

Use the provided functions to work with the spreadsheet. The user sees the result of each call in place of the call.`

// instructionPrompt returns the system message that teaches the model how to
// request actions.
func instructionPrompt(withTools bool) string {
	if withTools {
		return functionPrompt
	}
	return markupPrompt
}

func stringProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func stringList(desc string) map[string]any {
	return map[string]any{
		"type":        "array",
		"description": desc,
		"items":       map[string]any{"type": "string"},
	}
}

func object(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Tools is the function schema for providers that support structured calls.
func Tools() []llm.Tool {
	spreadsheetID := stringProp("Spreadsheet id. Defaults to the conversation's spreadsheet.")
	sheetName := stringProp("Tab name. Defaults to the first tab.")

	return []llm.Tool{
		{
			Name:        action.FunctionCreateSpreadsheet,
			Description: "Create a new spreadsheet with a header row.",
			Parameters: object(map[string]any{
				"title":   stringProp("Spreadsheet title"),
				"headers": stringList("Column headers in order"),
			}, "title"),
		},
		{
			Name:        action.FunctionAppendRow,
			Description: "Append a row of values below the existing data.",
			Parameters: object(map[string]any{
				"spreadsheet_id": spreadsheetID,
				"sheet_name":     sheetName,
				"values":         stringList("Cell values in column order"),
			}, "values"),
		},
		{
			Name:        action.FunctionUpdateRow,
			Description: "Replace the values of a data row. Row 1 is the first row below the headers.",
			Parameters: object(map[string]any{
				"spreadsheet_id": spreadsheetID,
				"sheet_name":     sheetName,
				"row_index":      map[string]any{"type": "integer", "minimum": 1},
				"values":         stringList("Cell values in column order"),
			}, "row_index", "values"),
		},
		{
			Name:        action.FunctionAddColumn,
			Description: "Add a column header after the last existing column.",
			Parameters: object(map[string]any{
				"spreadsheet_id": spreadsheetID,
				"sheet_name":     sheetName,
				"column_name":    stringProp("Header of the new column"),
			}, "column_name"),
		},
		{
			Name:        action.FunctionGetLink,
			Description: "Return the link to the spreadsheet.",
			Parameters: object(map[string]any{
				"spreadsheet_id": spreadsheetID,
			}),
		},
		{
			Name:        action.FunctionReadTable,
			Description: "Read rows from the spreadsheet.",
			Parameters: object(map[string]any{
				"spreadsheet_id": spreadsheetID,
				"range":          stringProp("A1 range such as 'Sheet1'!A1:D20. Defaults to the whole first tab."),
			}),
		},
	}
}
