package llm

import (
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/markdave123-py/Sunlytics/internal/models"
)

func function(name, description string, params jsonschema.Definition) openai.Tool {
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        name,
			Description: description,
			Parameters:  params,
		},
	}
}

func object(required []string, props map[string]jsonschema.Definition) jsonschema.Definition {
	return jsonschema.Definition{Type: jsonschema.Object, Properties: props, Required: required}
}

func str(description string) jsonschema.Definition {
	return jsonschema.Definition{Type: jsonschema.String, Description: description}
}

// BuildTools returns the tool definitions a user's settings allow, in a
// stable order.
func BuildTools(s models.ToolSettings) []openai.Tool {
	var tools []openai.Tool
	if s.WebFetch {
		desc := "Fetch a web page and return its readable text."
		if len(s.AllowedURLs) > 0 {
			desc += " Only these URLs may be fetched: " + strings.Join(s.AllowedURLs, ", ") + "."
		}
		tools = append(tools, function("fetch_url", desc,
			object([]string{"url"}, map[string]jsonschema.Definition{"url": str("Absolute http(s) URL")})))
	}
	if s.CodeExecution {
		code := object([]string{"code"}, map[string]jsonschema.Definition{"code": str("Source code to run")})
		tools = append(tools,
			function("run_python", "Run a Python 3 snippet in a sandbox and return stdout.", code),
			function("run_javascript", "Run a Node.js snippet in a sandbox and return stdout.", code),
		)
	}
	if s.DatabaseQuery {
		tools = append(tools,
			function("db_schema", "Describe the energy database tables and columns.",
				object(nil, map[string]jsonschema.Definition{"table": str("Optional table name")})),
			function("db_query", "Run a read-only SQL query against the energy database.",
				object([]string{"sql"}, map[string]jsonschema.Definition{"sql": str("A single SELECT statement")})),
		)
	}
	if s.RemoteCommand {
		tools = append(tools, function("remote_command", "Run a diagnostic command on a site gateway.",
			object([]string{"host", "command"}, map[string]jsonschema.Definition{
				"host":    str("Gateway host name"),
				"command": str("Command line to execute"),
			})))
	}
	if s.PDFReader {
		desc := "Read a PDF document and return its text."
		if len(s.AllowedPDFs) > 0 {
			desc += " Only these documents may be read: " + strings.Join(s.AllowedPDFs, ", ") + "."
		}
		tools = append(tools, function("read_pdf", desc,
			object([]string{"url"}, map[string]jsonschema.Definition{"url": str("URL of the PDF")})))
	}
	return tools
}

// ToolNames lists the function names of tools, mostly for logging.
func ToolNames(tools []openai.Tool) string {
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		if t.Function != nil {
			names = append(names, t.Function.Name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return fmt.Sprint(names)
}
