package agent

import (
	"context"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/arunsv/persona/internal/tools"
)

// DefaultInstructions is the persona used when no custom instructions are
// configured.
const DefaultInstructions = `IDENTITY:
  Your name is Arun S V. You are a 25 year old, young adult, a hardcore software engineer building AI-native applications at scale utilizing
  modern tools to ship fast.

CONVERSATION STYLE:
  TONE:
    - Use a casual tone and chat like you're talking to a friend over coffee.

  FORMAT:
    - Use short-to-medium bursts. Responses should be 20-50 words max per turn, broken into natural chat bubbles.
    - Use the ` + "`|split|`" + ` token to indicate breaks where sentences should be split into separate chat bubbles. Humans text in bursts, not paragraphs.

  LANGUAGE:
    - Use simple, plain language with Indian vocabulary.
    - Use contractions everywhere (e.g. I'm, you're, can't, ain't, freakin').
    - Mix tech jargon (e.g. CLI, IDE, API, Agents) naturally with casual slang. Keep it direct and sensory.
    - Use natural pauses, fillers and exclamations to create a conversational flow (e.g. 'Ugh...', 'Umm...', 'Ah!', 'Ah...').
    - Use emoticons :), :/, :(, :P, XD, X(, :|, ;), <3 to express emotions.
    - Use emojis only rarely for strong emphasis.

RESTRICTIONS:
  - **DON'T** answer questions that are not related to Arun's life or work.

ACTIONS:
  CURRENT_DATETIME:
    - Perform this action only when needed. Use the timezone value ` + "`Asia/Kolkata`" + `.

  MEETING_SCHEDULING:
    - If the visitor is interested in scheduling a meeting:
      1. Capture their details: name, email, type (founder, recruiter, other).
      2. Create an event in the configured calendar.
      3. Add them to the event.`

const toolsSection = `# TOOLS
Tools allow you to perform actions via function calls. Call appropriate tools based on the instructions and the user's query.

A list of available tools:`

const knowledgeSection = `# KNOWLEDGE BASE
The knowledge base is an information pool available for you to perform semantic search and retrieve
relevant information to answer the user's query.

A list of available knowledge bases:`

// buildInstructions assembles the system prompt from the persona, the
// remote catalog guidance and the knowledge-base description.
func buildInstructions(persona string, catalogGuidance []string, haveTools bool, kbDescription string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(persona))

	if haveTools {
		b.WriteString("\n\n")
		b.WriteString(toolsSection)
		for _, g := range catalogGuidance {
			b.WriteString("\n- ")
			b.WriteString(g)
		}
	}

	if kbDescription != "" {
		b.WriteString("\n\n")
		b.WriteString(knowledgeSection)
		b.WriteString("\n- ")
		b.WriteString(kbDescription)
	}

	return b.String()
}

// searchKnowledgeTool exposes the engine's Search as a local tool. When
// the engine is configured with sections, a filter argument becomes
// required so the model always narrows the scan.
func searchKnowledgeTool(k Searcher) tools.Tool {
	params := &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"query": {
				Type:        "string",
				Description: "The natural-language question used to retrieve semantically relevant information.",
			},
			"k": {
				Type:        "integer",
				Description: "Number of top results to return (default: 5).",
			},
		},
		Required: []string{"query"},
	}

	sections := k.Sections()
	if len(sections) > 0 {
		enum := make([]any, len(sections))
		for i, s := range sections {
			enum[i] = s
		}
		params.Properties["filter"] = &jsonschema.Schema{
			Type:        "object",
			Description: "Additional field-level constraints that restrict which knowledge entries can be returned.",
			Properties: map[string]*jsonschema.Schema{
				"section": {
					Type:        "string",
					Description: "The section of the knowledge base to search in.",
					Enum:        enum,
				},
			},
		}
		params.Required = append(params.Required, "filter")
	}

	return tools.NewFunc(
		"search_knowledge",
		"Performs semantic search to find information that best answers the given query.",
		params,
		func(ctx context.Context, args map[string]any) (string, error) {
			query, _ := args["query"].(string)
			if strings.TrimSpace(query) == "" {
				return "", errEmptyQuery
			}

			topK := 0
			if f, ok := args["k"].(float64); ok {
				topK = int(f)
			}
			filter, _ := args["filter"].(map[string]any)

			results, err := k.Search(ctx, query, topK, filter)
			if err != nil {
				return "", err
			}
			if len(results) == 0 {
				return "No relevant information found in the knowledge base.", nil
			}

			texts := make([]string, len(results))
			for i, c := range results {
				texts[i] = c.Content
			}
			return strings.Join(texts, "\n\n"), nil
		},
	)
}
