// Package mindmap renders brainstorm structures as Mermaid diagrams.
package mindmap

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/fifthdraft/fifthdraft/internal/note"
)

// Format selects the diagram type.
type Format string

const (
	FormatRadial Format = "radial"
	FormatGraph  Format = "graph"
)

const (
	imageBaseURL = "https://mermaid.ink/img/"

	titleLimit      = 30
	directionLimit  = 40
	connectionLimit = 30
	obstacleLimit   = 40

	maxConnections = 2
	maxNextSteps   = 5
	maxObstacles   = 3

	untitled = "Untitled"
)

var priorityFill = map[note.Priority]string{
	note.PriorityHigh:   "#ef4444",
	note.PriorityMedium: "#f59e0b",
	note.PriorityLow:    "#22c55e",
}

// Diagram is a rendered mind map.
type Diagram struct {
	Format   Format `json:"format"`
	Syntax   string `json:"syntax"`
	ImageURL string `json:"image_url"`
}

// ParseFormat validates a format name. Empty defaults to radial.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", FormatRadial:
		return FormatRadial, nil
	case FormatGraph:
		return FormatGraph, nil
	default:
		return "", fmt.Errorf("unknown mind map format %q", s)
	}
}

// Generate renders s in the requested format.
func Generate(format Format, title string, s note.BrainstormStructure) (Diagram, error) {
	var syntax string
	switch format {
	case FormatRadial:
		syntax = Radial(title, s)
	case FormatGraph:
		syntax = Graph(title, s)
	default:
		return Diagram{}, fmt.Errorf("unknown mind map format %q", format)
	}
	return Diagram{Format: format, Syntax: syntax, ImageURL: ImageURL(syntax)}, nil
}

// Sanitize makes s safe to embed as a Mermaid label: bracket characters
// are removed, double quotes become single quotes, and runs of whitespace
// (line breaks included) collapse to a single space.
func Sanitize(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '(', ')', '[', ']', '{', '}':
			return -1
		case '"':
			return '\''
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// ImageURL returns a rendering-service URL for the diagram text.
func ImageURL(syntax string) string {
	return imageBaseURL + base64.StdEncoding.EncodeToString([]byte(syntax))
}

// Radial renders a Mermaid mindmap: the title at the root, one branch per
// core idea, and expansion directions plus up to two connections beneath
// each idea.
func Radial(title string, s note.BrainstormStructure) string {
	var sb strings.Builder
	sb.WriteString("mindmap\n")
	fmt.Fprintf(&sb, "  root((%s))\n", rootLabel(title))

	for _, idea := range s.CoreIdeas {
		label := Sanitize(idea.Title)
		if label == "" {
			continue
		}
		fmt.Fprintf(&sb, "    %s\n", label)

		if exp, ok := findExpansion(idea.Title, s.ExpansionOpportunities); ok {
			for _, d := range exp.Directions {
				if d = truncate(Sanitize(d), directionLimit); d != "" {
					fmt.Fprintf(&sb, "      %s\n", d)
				}
			}
		}

		n := 0
		for _, c := range idea.Connections {
			if n == maxConnections {
				break
			}
			c = truncate(Sanitize(c), connectionLimit)
			if c == "" {
				continue
			}
			fmt.Fprintf(&sb, "      Connected: %s\n", c)
			n++
		}
	}
	return sb.String()
}

// Graph renders a Mermaid top-down flowchart with core ideas, next steps
// coloured by priority, and challenges on dashed edges.
func Graph(title string, s note.BrainstormStructure) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")
	fmt.Fprintf(&sb, "    ROOT[\"%s\"]\n", rootLabel(title))

	if len(s.CoreIdeas) > 0 {
		sb.WriteString("    subgraph CoreIdeas[\"Core Ideas\"]\n")
		for i, idea := range s.CoreIdeas {
			fmt.Fprintf(&sb, "        IDEA%d[\"%s\"]\n", i, Sanitize(idea.Title))
		}
		sb.WriteString("    end\n")
		for i := range s.CoreIdeas {
			fmt.Fprintf(&sb, "    ROOT --> IDEA%d\n", i)
		}
	}

	steps := s.NextSteps
	if len(steps) > maxNextSteps {
		steps = steps[:maxNextSteps]
	}
	if len(steps) > 0 {
		sb.WriteString("    subgraph NextSteps[\"Next Steps\"]\n")
		for i, st := range steps {
			fmt.Fprintf(&sb, "        STEP%d[\"%s\"]\n", i, Sanitize(st.Title))
		}
		sb.WriteString("    end\n")
		for i, st := range steps {
			fmt.Fprintf(&sb, "    ROOT --> STEP%d\n", i)
			fmt.Fprintf(&sb, "    style STEP%d fill:%s,color:#fff\n", i, fillFor(st.Priority))
		}
	}

	obstacles := s.Obstacles
	if len(obstacles) > maxObstacles {
		obstacles = obstacles[:maxObstacles]
	}
	if len(obstacles) > 0 {
		sb.WriteString("    subgraph Challenges[\"Challenges\"]\n")
		for i, o := range obstacles {
			fmt.Fprintf(&sb, "        OBS%d[\"⚠️ %s\"]\n", i, truncate(Sanitize(o), obstacleLimit))
		}
		sb.WriteString("    end\n")
		for i := range obstacles {
			fmt.Fprintf(&sb, "    ROOT -.-> OBS%d\n", i)
		}
	}
	return sb.String()
}

// findExpansion returns the first opportunity whose ideaTitle and title
// contain one another, ignoring case. Empty titles never match.
func findExpansion(title string, opps []note.ExpansionOpportunity) (note.ExpansionOpportunity, bool) {
	t := strings.ToLower(strings.TrimSpace(title))
	if t == "" {
		return note.ExpansionOpportunity{}, false
	}
	for _, o := range opps {
		it := strings.ToLower(strings.TrimSpace(o.IdeaTitle))
		if it == "" {
			continue
		}
		if strings.Contains(t, it) || strings.Contains(it, t) {
			return o, true
		}
	}
	return note.ExpansionOpportunity{}, false
}

func fillFor(p note.Priority) string {
	if c, ok := priorityFill[p]; ok {
		return c
	}
	return priorityFill[note.PriorityMedium]
}

func rootLabel(title string) string {
	l := truncate(Sanitize(title), titleLimit)
	if l == "" {
		return untitled
	}
	return l
}

// truncate shortens s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n-3])) + "..."
}
