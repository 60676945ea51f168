package meeting

import (
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

const summarySystemPrompt = `You write meeting minutes. Analyse the transcript and produce a structured summary.

Guidelines:
- Use objective, plain sentences.
- Attribute statements to speakers where it matters.
- Emphasise decisions and agreements.
- Leave out greetings, small talk and private conversation.
- Keep technical terms as spoken.

Respond with JSON only, in exactly this shape:
{
  "summary": "two or three paragraphs covering the main discussion",
  "key_points": ["3 to 7 key points"],
  "decisions": ["only items that were settled; empty if none"]
}`

const actionSystemPrompt = `You extract action items from meetings.

An action item is a commitment ("I will..."), a request ("please..."), a deadline ("by Friday"),
an assignment ("Kim owns this") or a follow-up ("review and report back").

Rules:
- assignee: a speaker name when the transcript makes it clear, otherwise "unassigned".
- due_date: YYYY-MM-DD. "next week" means %s; "this week" means this Friday; null when unclear.
- priority: urgent (today, immediately), high (important, this week), medium (default), low (when there is time).
- Skip opinions that were not agreed, work already done and pleasantries.

Today is %s.

Respond with JSON only:
{
  "action_items": [
    {"content": "specific task", "assignee": "name", "due_date": "YYYY-MM-DD or null", "priority": "low|medium|high|urgent"}
  ]
}`

const critiqueSystemPrompt = `You review generated meeting minutes for quality.

Summary checks: complete, faithful to the transcript, objective, clear.
Action item checks: specific, sensibly assigned, sensible due dates, nothing important missing, nothing unagreed included.

Set "passed" to false only for serious factual errors, important omissions or clearly wrong assignments.
Minor style problems go in "issues" but may still pass.

Respond with JSON only:
{
  "passed": true,
  "issues": ["problem"],
  "suggestions": ["improvement"],
  "critique": "two or three sentence overall assessment"
}`

type meetingInfo struct {
	title    string
	date     string
	speakers []string
}

func (m meetingInfo) header(b *strings.Builder) {
	date := m.date
	if date == "" {
		date = "unknown"
	}
	speakers := "unknown"
	if len(m.speakers) > 0 {
		speakers = strings.Join(m.speakers, ", ")
	}
	fmt.Fprintf(b, "Meeting title: %s\nMeeting date: %s\nParticipants: %s\n\n", m.title, date, speakers)
}

// revisionNotes carries the reasons a draft is being regenerated.
type revisionNotes struct {
	issues      []string
	suggestions []string
	feedback    string
}

func (r revisionNotes) empty() bool {
	return len(r.issues) == 0 && len(r.suggestions) == 0 && r.feedback == ""
}

func summaryPrompt(info meetingInfo, transcript string, notes revisionNotes) string {
	var b strings.Builder
	b.WriteString("Summarise the following meeting transcript.\n\n")
	info.header(&b)
	b.WriteString("<transcript>\n")
	b.WriteString(transcript)
	b.WriteString("\n</transcript>\n")

	if !notes.empty() {
		b.WriteString("\nA previous draft was sent back.\n")
		if len(notes.issues) > 0 {
			b.WriteString("\nProblems found:\n")
			writeList(&b, notes.issues)
		}
		if len(notes.suggestions) > 0 {
			b.WriteString("\nSuggestions:\n")
			writeList(&b, notes.suggestions)
		}
		if notes.feedback != "" {
			b.WriteString("\nReviewer feedback:\n")
			b.WriteString(notes.feedback)
			b.WriteString("\n")
		}
		b.WriteString("\nFix every problem listed above in the new summary.\n")
	}

	b.WriteString("\nRespond with the JSON summary.")
	return b.String()
}

func actionPrompt(info meetingInfo, transcript, summary string) string {
	var b strings.Builder
	b.WriteString("Extract the action items from the following meeting.\n\n")
	info.header(&b)
	b.WriteString("<transcript>\n")
	b.WriteString(transcript)
	b.WriteString("\n</transcript>\n\n<summary>\n")
	b.WriteString(summary)
	b.WriteString("\n</summary>\n\n")
	b.WriteString("Use speaker names from the transcript as assignees. Respond with the JSON action items.")
	return b.String()
}

func actionSystem(now time.Time) string {
	return fmt.Sprintf(actionSystemPrompt, now.AddDate(0, 0, 7).Format("2006-01-02"), now.Format("2006-01-02"))
}

func critiquePrompt(transcript, summary string, keyPoints, decisions []string, items []ActionItem) string {
	var b strings.Builder
	b.WriteString("Review the following meeting minutes.\n\n<transcript>\n")
	b.WriteString(transcript)
	b.WriteString("\n</transcript>\n\n<summary>\n")
	b.WriteString(summary)
	b.WriteString("\n</summary>\n\nKey points:\n")
	writeList(&b, keyPoints)
	b.WriteString("\nDecisions:\n")
	writeList(&b, decisions)
	b.WriteString("\nAction items:\n")
	itemsJSON, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		itemsJSON = []byte("[]")
	}
	b.Write(itemsJSON)
	b.WriteString("\n\nRespond with the JSON review.")
	return b.String()
}

func writeList(b *strings.Builder, items []string) {
	if len(items) == 0 {
		b.WriteString("- (none)\n")
		return
	}
	for _, item := range items {
		b.WriteString("- ")
		b.WriteString(item)
		b.WriteString("\n")
	}
}
