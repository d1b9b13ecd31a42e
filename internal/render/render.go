package render

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/duckmesh/dbchat/internal/query"
)

// MaxListedRecords caps the numbered entries in a multi-record listing.
const MaxListedRecords = 10

const (
	NoResults = "🔍 **No Results Found**\n\n" +
		"I couldn't find any records matching your search criteria. You might want to:\n" +
		"• Check your spelling\n" +
		"• Try a broader search term\n" +
		"• Use partial matches (e.g., \"John\" instead of \"Johnathan\")"

	AccessDenied = "🚫 **Access Denied**\n\n" +
		"This operation is not permitted for security reasons. " +
		"Please contact your administrator if you need access to this functionality."

	SystemError = "**System Error**\n\n" +
		"I encountered an unexpected error while processing your request. " +
		"Please try again or contact support if the problem persists."

	InvalidRequest = "❓ **Request Not Understood**\n\n" +
		"I couldn't turn that into a database operation. " +
		"Please rephrase your request and mention what you want to find, create, update, or delete."

	Created = "✅ **Record Created Successfully**\n\n" +
		"Great! I've successfully added the new record to the database. " +
		"The information has been saved and is now available for future searches."

	GenericNeedsInfo = "I need more information to complete this request."

	followUp = "\n💡 **Need something else?** Just ask me to search, update, create, or delete records!"
)

// Read renders a READ or LIST result. The output does not depend on intent.
func Read(_ string, result query.ReadResult, base string) string {
	if len(result.Records) == 0 {
		return NoResults
	}

	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n\n")

	if len(result.Records) == 1 {
		record := result.Records[0]
		b.WriteString("📄 **Record Details:**\n")
		for _, key := range fieldOrder(result.Columns, record) {
			if strings.EqualFold(key, "password") {
				continue
			}
			fmt.Fprintf(&b, "• **%s:** %s\n", HumanizeField(key), formatValue(record[key]))
		}
	} else {
		fmt.Fprintf(&b, "📊 **Found %d records:**\n\n", len(result.Records))
		for i, record := range result.Records {
			if i == MaxListedRecords {
				break
			}
			fmt.Fprintf(&b, "**Record %d:**\n", i+1)
			if value, ok := record["name"]; ok {
				fmt.Fprintf(&b, "• Name: %s\n", formatValue(value))
			}
			if value, ok := record["email"]; ok {
				fmt.Fprintf(&b, "• Email: %s\n", formatValue(value))
			}
			if value, ok := record["id"]; ok {
				fmt.Fprintf(&b, "• ID: %s\n", formatValue(value))
			}
			b.WriteString("\n")
		}
		if remaining := len(result.Records) - MaxListedRecords; remaining > 0 {
			fmt.Fprintf(&b, "... and %d more records.\n", remaining)
		}
	}

	b.WriteString(followUp)
	return b.String()
}

// Count reports the first value of the first record, or base when the
// statement returned nothing.
func Count(result query.ReadResult, base string) string {
	if len(result.Records) == 0 {
		return base
	}
	record := result.Records[0]
	keys := fieldOrder(result.Columns, record)
	if len(keys) == 0 {
		return base
	}
	return "🔢 **Count Results**\n\n" +
		"I found **" + formatValue(record[keys[0]]) + "** records that match your criteria.\n\n" +
		"Would you like me to show you the actual records or perform another search?"
}

// Mutation renders an UPDATE or DELETE result. A negative count means the
// driver could not report affected rows, and base is returned.
func Mutation(affected int64, base string) string {
	switch {
	case affected < 0:
		return base
	case affected == 0:
		return "⚠️ **No Records Updated**\n\n" +
			"No records were found matching your criteria, so no updates were made.\n\n" +
			"Please check your search criteria and try again."
	}
	noun := "record"
	if affected > 1 {
		noun = "records"
	}
	return fmt.Sprintf("✅ **Update Successful**\n\n"+
		"I've successfully updated **%d** %s in the database.\n\n"+
		"The changes have been saved and are now active.", affected, noun)
}

// NeedsInfo prefers the engine's own wording and otherwise lists the missing
// fields as bullets.
func NeedsInfo(fields []string, custom string) string {
	if strings.TrimSpace(custom) != "" {
		return custom
	}
	if len(fields) == 0 {
		return GenericNeedsInfo
	}
	return "ℹ️ **Additional Information Needed**\n\n" +
		"To complete this operation, I need:\n• " +
		strings.Join(fields, "\n• ") +
		"\n\nPlease provide this information and I'll be happy to help!"
}

// HumanizeField turns first_name into First Name.
func HumanizeField(name string) string {
	parts := strings.Split(name, "_")
	words := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		first, size := utf8.DecodeRuneInString(part)
		words = append(words, string(unicode.ToUpper(first))+strings.ToLower(part[size:]))
	}
	return strings.Join(words, " ")
}

func fieldOrder(columns []string, record query.Record) []string {
	keys := make([]string, 0, len(record))
	seen := make(map[string]struct{}, len(record))
	for _, column := range columns {
		if _, ok := record[column]; !ok {
			continue
		}
		if _, dup := seen[column]; dup {
			continue
		}
		seen[column] = struct{}{}
		keys = append(keys, column)
	}
	extra := make([]string, 0)
	for key := range record {
		if _, ok := seen[key]; !ok {
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)
	return append(keys, extra...)
}

func formatValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return "(none)"
	case string:
		return typed
	case []byte:
		return string(typed)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(typed), 'f', -1, 32)
	case time.Time:
		return typed.Format("2006-01-02 15:04:05")
	default:
		return fmt.Sprint(typed)
	}
}
