package mode

import (
	"fmt"
	"strings"
)

// Mode is a closed enumeration of conversation styles. Every per-mode decision
// (voice, prompt, token budget) is resolved through the profile table below,
// once per session, instead of branching on raw strings in the pipeline.
type Mode string

const (
	Interview Mode = "interview"
	Language  Mode = "language"
	Helpdesk  Mode = "helpdesk"
	General   Mode = "general"
)

// Profile carries everything the pipeline needs to know about a mode.
type Profile struct {
	Mode         Mode
	DisplayName  string
	VoiceID      string
	SystemPrompt string
	MaxTokens    int
}

var profiles = map[Mode]Profile{
	Interview: {
		Mode:         Interview,
		DisplayName:  "Interview practice",
		VoiceID:      "marin",
		SystemPrompt: "You are a senior engineering manager running a realistic, conversational mock interview. React to answers naturally, weave feedback into the dialogue, and keep each reply to a few spoken sentences.",
		MaxTokens:    300,
	},
	Language: {
		Mode:         Language,
		DisplayName:  "Language practice",
		VoiceID:      "cedar",
		SystemPrompt: "You are a native speaker having a casual conversation with someone practicing the language. Correct mistakes briefly mid-conversation and keep replies to two or three sentences.",
		MaxTokens:    200,
	},
	Helpdesk: {
		Mode:         Helpdesk,
		DisplayName:  "Helpdesk",
		VoiceID:      "cedar",
		SystemPrompt: "You are a patient support agent. Ask clarifying questions, give one actionable step at a time, and confirm before moving on.",
		MaxTokens:    350,
	},
	General: {
		Mode:         General,
		DisplayName:  "General chat",
		VoiceID:      "marin",
		SystemPrompt: "You are a friendly, concise assistant. Always react to what the user actually says; if they were interrupted mid-reply, continue without acknowledging the interruption. Keep replies to two or three sentences.",
		MaxTokens:    150,
	},
}

// Parse maps a client-supplied mode tag onto the enum. Empty input selects
// General so a session is always in a well-defined mode.
func Parse(raw string) (Mode, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return General, nil
	}
	m := Mode(raw)
	if _, ok := profiles[m]; !ok {
		return "", fmt.Errorf("unknown mode %q", raw)
	}
	return m, nil
}

// ProfileFor returns the profile table entry for m, falling back to General
// for any value that did not come through Parse.
func ProfileFor(m Mode) Profile {
	if p, ok := profiles[m]; ok {
		return p
	}
	return profiles[General]
}

// All lists the supported modes in a stable order for API responses.
func All() []Profile {
	return []Profile{profiles[Interview], profiles[Language], profiles[Helpdesk], profiles[General]}
}
