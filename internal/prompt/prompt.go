// Package prompt builds the instruction text sent to the language model.
// Every builder is a pure function of its inputs.
package prompt

import (
	"fmt"
	"strings"

	"github.com/fifthdraft/fifthdraft/internal/note"
)

const jsonOnly = "Respond with ONLY a single valid JSON object matching the schema below. Do not include any other text, prose, or markdown."

const brainstormSchema = `{
  "coreIdeas": [
    {"title": "Short idea name", "description": "One or two sentences", "connections": ["Title of a related core idea"]}
  ],
  "expansionOpportunities": [
    {"ideaTitle": "Short idea name", "directions": ["A direction worth exploring"]}
  ],
  "researchQuestions": ["A question that web research could answer"],
  "nextSteps": [
    {"title": "Action", "description": "What to do", "dueDate": "2025-01-31 or null", "priority": "high | medium | low"}
  ],
  "obstacles": ["A challenge, framed as something to solve"],
  "creativePrompts": ["A provocative question to push the thinking further"]
}`

const brainstormGuidelines = `Guidelines:
- Identify 3 to 7 distinct core ideas. Use short, memorable titles.
- Connections must reference other core idea titles exactly.
- Give each core idea at least one expansion direction.
- Research questions should be answerable by searching the web.
- Next steps must be concrete and actionable. Use null for dueDate unless a date was stated.
- Frame obstacles as challenges to solve, not reasons to stop.
- Keep the speaker's own vocabulary where possible.`

// Brainstorm builds the Idea Studio structuring prompt.
func Brainstorm(transcript string) string {
	var sb strings.Builder
	sb.WriteString("You are a creative thinking partner. Turn the brainstorming transcript below into a structured idea map.\n\n")
	sb.WriteString(jsonOnly)
	sb.WriteString("\n\nSchema:\n")
	sb.WriteString(brainstormSchema)
	sb.WriteString("\n\n")
	sb.WriteString(brainstormGuidelines)
	writeTranscript(&sb, transcript)
	return sb.String()
}

const meetingSchema = `{
  "summary": "Two to four sentence overview",
  "keyPoints": ["An important point raised"],
  "decisions": ["A decision that was made"],
  "actionItems": [
    {"task": "What needs doing", "owner": "Name or empty string", "dueDate": "2025-01-31 or null", "priority": "high | medium | low"}
  ],
  "topics": ["A topic discussed"]
}`

const meetingGuidelines = `Guidelines:
- Only record decisions that were actually agreed.
- Start each action item with a strong action verb and vary the verbs across items.
- Assign an owner to an action item only when one was named.
- Use null for dueDate unless a date was stated.
- Keep key points specific to this conversation. No filler phrases such as "the team discussed" or "it was mentioned that".
- Write summary sentences in plain, direct language.`

// Meeting builds the meeting-notes structuring prompt. modeLabel describes
// the recording, for example "team meeting" or "1:1".
func Meeting(transcript, modeLabel string) string {
	if modeLabel == "" {
		modeLabel = "meeting"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are an expert note taker. Turn the %s transcript below into clear, structured notes.\n\n", modeLabel)
	sb.WriteString(jsonOnly)
	sb.WriteString("\n\nSchema:\n")
	sb.WriteString(meetingSchema)
	sb.WriteString("\n\n")
	sb.WriteString(meetingGuidelines)
	writeTranscript(&sb, transcript)
	return sb.String()
}

// ResearchQueries asks the model for 3 to 5 concise web search queries as
// a JSON array of strings.
func ResearchQueries(content string, questions []string) string {
	var sb strings.Builder
	sb.WriteString("You are a research assistant. Read the note below and decide what to look up on the web.\n\n")
	sb.WriteString("Respond with ONLY a JSON array of strings. Do not include any other text, prose, or markdown.\n\n")
	sb.WriteString("Example:\n")
	sb.WriteString(`["concise search query", "another search query"]`)
	sb.WriteString("\n\nGuidelines:\n")
	sb.WriteString("- Return between 3 and 5 queries.\n")
	sb.WriteString("- Each query should be short and specific, as typed into a search engine.\n")
	sb.WriteString("- Prefer facts, market data, prior art and current developments.")
	if len(questions) > 0 {
		sb.WriteString("\n\nOpen questions from the note:\n")
		for _, q := range questions {
			fmt.Fprintf(&sb, "- %s\n", q)
		}
	}
	sb.WriteString("\n\nNote:\n\"\"\"\n")
	sb.WriteString(content)
	sb.WriteString("\n\"\"\"")
	return sb.String()
}

// ResearchSynthesis asks the model to summarise findings against the note.
func ResearchSynthesis(content string, findings []note.ResearchFinding) string {
	var sb strings.Builder
	sb.WriteString("You are a research analyst. Synthesize the web research below into insights for the author of the note.\n\n")
	sb.WriteString(jsonOnly)
	sb.WriteString("\n\nSchema:\n")
	sb.WriteString(`{"summary": "Two to three sentences", "keyInsights": ["An insight tied back to the note"]}`)
	sb.WriteString("\n\nGuidelines:\n")
	sb.WriteString("- Keep the summary to 2 or 3 sentences.\n")
	sb.WriteString("- Give between 3 and 5 key insights, each actionable for the author.")
	sb.WriteString("\n\nNote:\n\"\"\"\n")
	sb.WriteString(content)
	sb.WriteString("\n\"\"\"\n\nFindings:\n")
	for i, f := range findings {
		fmt.Fprintf(&sb, "\n[%d] %s\n", i+1, f.Query)
		if f.Answer != "" {
			fmt.Fprintf(&sb, "Answer: %s\n", f.Answer)
		}
		for _, src := range f.Sources {
			fmt.Fprintf(&sb, "- %s (%s): %s\n", src.Title, src.URL, src.Snippet)
		}
	}
	return sb.String()
}

// ProjectBrief asks the model to turn a brainstorm into a project brief.
func ProjectBrief(title string, s note.BrainstormStructure) string {
	var sb strings.Builder
	sb.WriteString("You are a product strategist. Turn the idea map below into a one-page project brief.\n\n")
	sb.WriteString(jsonOnly)
	sb.WriteString("\n\nSchema:\n")
	sb.WriteString(`{"title": "Project name", "overview": "One paragraph", "goals": ["Goal"], "scope": ["In-scope item"], "risks": ["Risk"], "milestones": ["Milestone"]}`)
	fmt.Fprintf(&sb, "\n\nWorking title: %s\n\nCore ideas:\n", title)
	for _, ci := range s.CoreIdeas {
		fmt.Fprintf(&sb, "- %s: %s\n", ci.Title, ci.Description)
	}
	if len(s.NextSteps) > 0 {
		sb.WriteString("\nNext steps:\n")
		for _, ns := range s.NextSteps {
			fmt.Fprintf(&sb, "- [%s] %s\n", ns.Priority, ns.Title)
		}
	}
	if len(s.Obstacles) > 0 {
		sb.WriteString("\nChallenges:\n")
		for _, o := range s.Obstacles {
			fmt.Fprintf(&sb, "- %s\n", o)
		}
	}
	return sb.String()
}

func writeTranscript(sb *strings.Builder, transcript string) {
	sb.WriteString("\n\nTranscript:\n\"\"\"\n")
	sb.WriteString(transcript)
	sb.WriteString("\n\"\"\"")
}
