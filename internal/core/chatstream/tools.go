package chatstream

import (
	"encoding/json"
	"fmt"
	"strings"
)

type toolArgs map[string]any

func (a toolArgs) str(keys ...string) string {
	for _, k := range keys {
		if v, ok := a[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

type toolDescription struct {
	prefixes []string
	describe func(args toolArgs) string
}

func fixed(text string) func(toolArgs) string {
	return func(toolArgs) string { return text }
}

// toolDescriptions is matched in order against the lower-cased function
// name; the first entry with a matching prefix wins, so specific prefixes
// must come before general ones.
var toolDescriptions = []toolDescription{
	{
		prefixes: []string{"fetch", "web_fetch", "browse"},
		describe: func(a toolArgs) string {
			if u := a.str("url", "uri", "link"); u != "" {
				return fmt.Sprintf("Fetching the page %s ...", u)
			}
			return "Fetching a web page..."
		},
	},
	{prefixes: []string{"run_python", "execute_python", "python"}, describe: fixed("Executing Python code...")},
	{prefixes: []string{"run_javascript", "execute_javascript", "run_node", "execute_node", "run_js", "execute_js"}, describe: fixed("Executing JavaScript code...")},
	{prefixes: []string{"run_go", "execute_go"}, describe: fixed("Executing Go code...")},
	{prefixes: []string{"run_ruby", "execute_ruby"}, describe: fixed("Executing Ruby code...")},
	{prefixes: []string{"run_bash", "execute_bash", "run_shell", "execute_shell"}, describe: fixed("Executing shell script...")},
	{prefixes: []string{"run_code", "execute_code"}, describe: fixed("Executing code...")},
	{
		prefixes: []string{"db_schema", "get_schema", "describe_schema"},
		describe: func(a toolArgs) string {
			if t := a.str("table", "table_name"); t != "" {
				return fmt.Sprintf("Inspecting the schema of %s ...", t)
			}
			return "Inspecting the database schema..."
		},
	},
	{prefixes: []string{"db_query", "sql_query", "query_database", "run_query"}, describe: fixed("Querying the database...")},
	{
		prefixes: []string{"remote_command", "ssh"},
		describe: func(a toolArgs) string {
			if h := a.str("host", "hostname", "server"); h != "" {
				return fmt.Sprintf("Running a command on %s ...", h)
			}
			return "Running a remote command..."
		},
	},
	{
		prefixes: []string{"read_pdf", "pdf", "read_document"},
		describe: func(a toolArgs) string {
			if u := a.str("url", "path", "document"); u != "" {
				return fmt.Sprintf("Reading the document %s ...", u)
			}
			return "Reading a document..."
		},
	},
}

// DescribeToolCall turns a tool invocation into the progress line shown to
// the user. Unknown tools get a generic line and unparseable arguments fall
// back to "Processing...".
func DescribeToolCall(name, arguments string) string {
	args := toolArgs{}
	if strings.TrimSpace(arguments) != "" {
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			return "Processing..."
		}
	}
	lower := strings.ToLower(strings.TrimSpace(name))
	for _, d := range toolDescriptions {
		for _, p := range d.prefixes {
			if strings.HasPrefix(lower, p) {
				return d.describe(args)
			}
		}
	}
	if lower == "" {
		return "Processing..."
	}
	return fmt.Sprintf("Processing %s...", name)
}
