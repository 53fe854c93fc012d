package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/markdave123-py/Sunlytics/internal/core"
	"github.com/markdave123-py/Sunlytics/internal/models"
)

// GeminiStreamer serves completions from Gemini and re-encodes them as
// ND-JSON chat completion chunks so the chat pipeline sees one format.
type GeminiStreamer struct {
	client    *genai.Client
	modelName string
}

func NewGeminiStreamer(ctx context.Context, apiKey, modelName string) (*GeminiStreamer, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	return &GeminiStreamer{client: cl, modelName: modelName}, nil
}

func (g *GeminiStreamer) Name() string { return "gemini" }

func (g *GeminiStreamer) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *GeminiStreamer) StreamCompletion(ctx context.Context, req core.CompletionRequest) (io.ReadCloser, error) {
	system, history, last, err := splitConversation(req.Messages)
	if err != nil {
		return nil, err
	}

	m := g.client.GenerativeModel(g.modelName)
	if system != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	if decls := toFunctionDeclarations(req.Tools); len(decls) > 0 {
		m.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	cs := m.StartChat()
	cs.History = history

	pr, pw := io.Pipe()
	it := cs.SendMessageStream(ctx, genai.Text(last))
	go func() {
		pw.CloseWithError(pumpGemini(it, pw))
	}()
	return pr, nil
}

// pumpGemini copies the response iterator into w until it is exhausted.
// A nil return closes the pipe with io.EOF.
func pumpGemini(it *genai.GenerateContentResponseIterator, w io.Writer) error {
	enc := json.NewEncoder(w)
	for {
		resp, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("gemini stream: %w", err)
		}
		for _, delta := range geminiDeltas(resp) {
			if err := enc.Encode(delta); err != nil {
				return err
			}
		}
	}
}

type completionChunk struct {
	Choices []completionChoice `json:"choices"`
}

type completionChoice struct {
	Delta openai.ChatCompletionMessage `json:"delta"`
}

func geminiDeltas(resp *genai.GenerateContentResponse) []completionChunk {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}
	var out []completionChunk
	var text strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		switch v := p.(type) {
		case genai.Text:
			text.WriteString(string(v))
		case genai.FunctionCall:
			args, _ := json.Marshal(v.Args)
			out = append(out, completionChunk{Choices: []completionChoice{{Delta: openai.ChatCompletionMessage{
				Role: openai.ChatMessageRoleAssistant,
				ToolCalls: []openai.ToolCall{{
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: v.Name, Arguments: string(args)},
				}},
			}}}})
		}
	}
	if text.Len() > 0 {
		out = append([]completionChunk{{Choices: []completionChoice{{Delta: openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleAssistant,
			Content: text.String(),
		}}}}}, out...)
	}
	return out
}

// splitConversation separates the system prompt and the final user turn from
// the history Gemini expects on the chat session.
func splitConversation(msgs []models.PromptMessage) (system string, history []*genai.Content, last string, err error) {
	var sys []string
	var turns []models.PromptMessage
	for _, m := range msgs {
		if m.Role == models.RoleSystem {
			sys = append(sys, m.Content)
			continue
		}
		turns = append(turns, m)
	}
	if len(turns) == 0 || turns[len(turns)-1].Role != models.RoleUser {
		return "", nil, "", fmt.Errorf("conversation must end with a user message")
	}
	for _, m := range turns[:len(turns)-1] {
		role := "user"
		switch m.Role {
		case models.RoleAssistant, models.RoleAgent:
			role = "model"
		case models.RoleTool, models.RoleError:
			continue
		}
		history = append(history, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}})
	}
	return strings.Join(sys, "\n\n"), history, turns[len(turns)-1].Content, nil
}

func toFunctionDeclarations(tools []openai.Tool) []*genai.FunctionDeclaration {
	var out []*genai.FunctionDeclaration
	for _, t := range tools {
		if t.Function == nil {
			continue
		}
		decl := &genai.FunctionDeclaration{Name: t.Function.Name, Description: t.Function.Description}
		if def, ok := t.Function.Parameters.(jsonschema.Definition); ok {
			decl.Parameters = toGeminiSchema(def)
		}
		out = append(out, decl)
	}
	return out
}

func toGeminiSchema(def jsonschema.Definition) *genai.Schema {
	s := &genai.Schema{Description: def.Description, Required: def.Required}
	switch def.Type {
	case jsonschema.Object:
		s.Type = genai.TypeObject
	case jsonschema.String:
		s.Type = genai.TypeString
	case jsonschema.Integer:
		s.Type = genai.TypeInteger
	case jsonschema.Number:
		s.Type = genai.TypeNumber
	case jsonschema.Boolean:
		s.Type = genai.TypeBoolean
	case jsonschema.Array:
		s.Type = genai.TypeArray
		if def.Items != nil {
			s.Items = toGeminiSchema(*def.Items)
		}
	}
	if len(def.Properties) > 0 {
		s.Properties = make(map[string]*genai.Schema, len(def.Properties))
		for name, p := range def.Properties {
			s.Properties[name] = toGeminiSchema(p)
		}
	}
	return s
}

var _ core.CompletionProvider = (*GeminiStreamer)(nil)
