package analyze

import "github.com/kalambet/recall/internal/ai"

// analysisPrompt is the fixed contract sent with every segment. The
// model sees sampled frames of one recording and must return every named
// field; missing or malformed fields are defaulted by parseAnalysis, so
// the prompt optimizes for coverage rather than strictness.
const analysisPrompt = `You are analyzing frames sampled from a short screen recording of a user's desktop.
Describe what the user was doing during this segment. Respond with a single JSON object
containing exactly these fields:

- application: the primary application in focus (e.g. "vscode", "chrome", "slack")
- window_title: the visible window or tab title, best effort
- category: one of work, coding, learning, meeting, browsing, entertainment, communication, other
- focus_level: one of deep, moderate, shallow
- description: one concise sentence describing the activity
- summary: 2-3 sentences of free-text detail
- tags: array of short lowercase topic keywords
- key_topics: array of subjects or technologies visible on screen
- productivity_score: number between 0.0 and 1.0
- project_hint: the project or repository name being worked on, or "" if unclear
- accomplishments: array of concrete things completed in this segment, may be empty
- is_continuation: boolean, whether this looks like a continuation of the immediately preceding activity
- distractions: array of off-task applications or sites that appeared
- language: primary programming or natural language on screen, or ""
- meeting_participants: array of participant names if this is a call, else empty
- confidence: number between 0.0 and 1.0, your confidence in this analysis

Base every field only on what is visible in the frames.`

// analysisSchema constrains the model to the prompt's field set.
func analysisSchema() *ai.Schema {
	return &ai.Schema{
		Type: "object",
		Properties: map[string]ai.Property{
			"application":          {Type: "string", Description: "Primary application in focus"},
			"window_title":         {Type: "string", Description: "Visible window or tab title"},
			"category":             {Type: "string", Description: "One of: work, coding, learning, meeting, browsing, entertainment, communication, other"},
			"focus_level":          {Type: "string", Description: "One of: deep, moderate, shallow"},
			"description":          {Type: "string", Description: "One-sentence activity description"},
			"summary":              {Type: "string", Description: "2-3 sentence free-text detail"},
			"tags":                 {Type: "array", Description: "Short lowercase topic keywords"},
			"key_topics":           {Type: "array", Description: "Subjects or technologies visible on screen"},
			"productivity_score":   {Type: "number", Description: "0.0-1.0"},
			"project_hint":         {Type: "string", Description: "Project or repository name, or empty"},
			"accomplishments":      {Type: "array", Description: "Concrete things completed"},
			"is_continuation":      {Type: "boolean", Description: "Continuation of the preceding activity"},
			"distractions":         {Type: "array", Description: "Off-task applications or sites"},
			"language":             {Type: "string", Description: "Primary programming or natural language"},
			"meeting_participants": {Type: "array", Description: "Call participants, if any"},
			"confidence":           {Type: "number", Description: "Model confidence 0.0-1.0"},
		},
		Required: []string{"application", "category", "description", "productivity_score"},
	}
}
