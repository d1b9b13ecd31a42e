package nl2sql

import (
	"strings"

	"github.com/duckmesh/dbchat/internal/schema"
)

const replyContract = `RESPONSE FORMAT (JSON only, no explanations):
{
  "status": "SUCCESS|ERROR|MISSING_INFO",
  "intent": "CREATE|READ|UPDATE|DELETE|LIST|COUNT",
  "tableName": "table_name",
  "sql": "SQL query with ? placeholders",
  "parameters": ["param1", "param2"],
  "humanResponse": "Friendly response to user",
  "missingFields": ["field1", "field2"],
  "errorMessage": "error description if any"
}

RULES:
1. For partial matches use LIKE with % wildcards
2. For exact matches use = operator
3. String parameters in quotes, numbers without quotes
4. Provide helpful humanResponse for successful operations
5. If missing required fields, set status to MISSING_INFO
6. Never put parameter values into the SQL text, always use ? placeholders

EXAMPLES:
User: "find users like john"
{
  "status": "SUCCESS",
  "intent": "READ",
  "tableName": "users",
  "sql": "SELECT * FROM users WHERE name LIKE ?",
  "parameters": ["%john%"],
  "humanResponse": "I'll search for users with names containing 'john'."
}

User: "create user named Alice"
{
  "status": "MISSING_INFO",
  "intent": "CREATE",
  "tableName": "users",
  "missingFields": ["email"],
  "humanResponse": "I need more information to create a user."
}

Now process the user request:`

// BuildPrompt renders the schema, the user's request and the reply contract
// into a single completion prompt. Tables are sorted by name and columns by
// ordinal position so the same snapshot always yields the same prompt.
func BuildPrompt(input string, snapshot *schema.Snapshot) string {
	var b strings.Builder
	b.WriteString("You are a SQL database assistant. Process this user request and provide a complete response.\n\n")

	b.WriteString("AVAILABLE TABLES:\n")
	if snapshot != nil {
		for _, name := range snapshot.TableNames() {
			table := snapshot.Tables[name]
			b.WriteString("Table: ")
			b.WriteString(name)
			b.WriteString("\nColumns: ")
			for _, column := range table.OrderedColumns() {
				b.WriteString(column.Name)
				b.WriteString("(")
				b.WriteString(column.DataType)
				b.WriteString(")")
				if !column.Nullable {
					b.WriteString("[REQUIRED]")
				}
				if column.AutoGenerated {
					b.WriteString("[AUTO]")
				}
				b.WriteString(" ")
			}
			b.WriteString("\n\n")
		}
	}

	b.WriteString("USER REQUEST: \"")
	b.WriteString(strings.TrimSpace(input))
	b.WriteString("\"\n\n")
	b.WriteString(replyContract)
	return b.String()
}
