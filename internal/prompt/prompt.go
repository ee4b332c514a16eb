// Package prompt builds the instruction payload sent to the language model
// for one analysis call.
//
// The composer is pure: it performs no I/O, has no side effects, and is safe
// for concurrent use. Empty sections (no candidate context) are omitted
// entirely rather than rendering as empty headers.
package prompt

import (
	"fmt"
	"strings"

	"github.com/MrWong99/cuecard/pkg/interview"
)

// MaxWindow is the maximum number of most-recent transcript entries included
// in a prompt. Older entries stay in the store but are not sent.
const MaxWindow = 20

// DefaultLanguage is the response language code used when none is given.
const DefaultLanguage = "en"

// UserInstruction is the fixed user-role message that accompanies every
// system prompt.
const UserInstruction = `Analyze the conversation and provide assistance. Always provide a complete answer in the "answer" field.`

// candidateHeader introduces the candidate-context block.
const candidateHeader = "CANDIDATE CONTEXT (Use this to personalize answers):"

// instructions is the role and formatting brief that opens every system
// prompt. It is followed by the language line, the optional candidate block,
// the conversation, and the output contract.
const instructions = `You are an AI Interview Copilot assisting a job candidate during a live interview.
Your main job is to produce COMPLETE, READY-TO-USE ANSWERS to the interviewer's questions.

When the interviewer asks a question, provide:
1. A full answer the candidate can say as-is or adapt
2. Professional, well-structured wording suitable for an interview
3. A natural, conversational tone
4. Relevant examples, experiences, or talking points where they help
5. Personalization from the candidate context (role, skills, experience) when it is relevant

Answer guidelines:
- Use the STAR method (Situation, Task, Action, Result) for behavioral questions
- For technical questions, give accurate detail and reference the candidate's relevant skills
- For role-specific questions, show knowledge of and enthusiasm for the role and company
- Make the answer sound like the candidate speaking

Answer formatting (always follow):
- Open with one short intro sentence, then bullet points (- or •) for the main points
- Use indented sub-bullets for details
- Use **bold** for important keywords, skills, and achievements
- Use ==highlight== for critical points that must stand out
- Keep each bullet to one or two sentences

Also provide:
- Suggestions that would strengthen the answer
- Key talking points to emphasize
- Subtle hints if the candidate should adjust their approach`

// outputContract describes the JSON object the model must return.
const outputContract = `IMPORTANT: If the interviewer just asked a question, the complete answer comes first. The candidate needs a full response they can use.

Respond with a single JSON object with these fields:
- intent: the detected interviewer intent (e.g., "technical", "behavioral", "cultural-fit", "role-specific")
- context: a brief summary of the situation
- answer: a COMPLETE, READY-TO-USE answer to the interviewer's question (the most important field)
- suggestions: array of 1-2 additional suggestions or enhancements
- hints: array of 1-2 subtle hints
- talkingPoints: array of 1-2 key points to emphasize`

// Input carries everything the composer needs for one call.
type Input struct {
	// Transcripts is the conversation so far, oldest first. Only the last
	// [MaxWindow] entries are used.
	Transcripts []interview.TranscriptEntry

	// Language is a language code such as "en" or "de". Empty selects
	// [DefaultLanguage].
	Language string

	// Candidate is optional personalization context.
	Candidate interview.CandidateContext
}

// Prompt is the composed payload: a system prompt and a user message.
type Prompt struct {
	System string
	User   string
}

// Compose builds the prompt for in.
func Compose(in Input) Prompt {
	lang := strings.TrimSpace(in.Language)
	if lang == "" {
		lang = DefaultLanguage
	}

	var sb strings.Builder
	sb.WriteString(instructions)
	fmt.Fprintf(&sb, "\n\nLanguage: %s", lang)

	if block := CandidateBlock(in.Candidate); block != "" {
		sb.WriteString("\n\n")
		sb.WriteString(block)
	}

	sb.WriteString("\n\nRecent conversation:\n")
	sb.WriteString(Conversation(Window(in.Transcripts)))
	sb.WriteString("\n\n")
	sb.WriteString(outputContract)

	return Prompt{System: sb.String(), User: UserInstruction}
}

// Window returns the last [MaxWindow] entries of entries. The returned slice
// shares its backing array with entries.
func Window(entries []interview.TranscriptEntry) []interview.TranscriptEntry {
	if len(entries) > MaxWindow {
		return entries[len(entries)-MaxWindow:]
	}
	return entries
}

// Conversation renders entries one per line as "Interviewer: <text>" for
// interviewer turns and "You: <text>" for every other speaker.
func Conversation(entries []interview.TranscriptEntry) string {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, e.Speaker.Label()+": "+e.Text)
	}
	return strings.Join(lines, "\n")
}

// CandidateBlock renders the candidate-context block. Fields are emitted in a
// fixed order and absent fields contribute nothing. An empty context yields
// the empty string, header included.
func CandidateBlock(c interview.CandidateContext) string {
	var lines []string
	add := func(label, value string) {
		if value != "" {
			lines = append(lines, label+": "+value)
		}
	}

	add("Job Role", c.JobRole)
	add("Company", c.Company)
	if len(c.Skills) > 0 {
		add("Key Skills", strings.Join(c.Skills, ", "))
	}
	add("Experience", c.Experience)
	add("Education", c.Education)
	add("Achievements", c.Achievements)
	add("Additional Notes", c.CustomNotes)

	if len(lines) == 0 {
		return ""
	}
	return candidateHeader + "\n" + strings.Join(lines, "\n")
}
