package voice

import "strings"

// Short transcripts that speech models hallucinate from silence or breath.
// Matched whole against the normalized transcript, never as substrings.
var noiseTranscripts = map[string]struct{}{
	"you":                    {},
	"bye":                    {},
	"thank you":              {},
	"thanks for watching":    {},
	"thank you for watching": {},
	"subscribe":              {},
	"uh":                     {},
	"um":                     {},
	"hmm":                    {},
	"mm-hmm":                 {},
	"so":                     {},
	"the":                    {},
	".":                      {},
}

// IsTranscriptNoise reports whether a transcript should be discarded instead
// of sent to the model. Empty and punctuation-only transcripts count as noise.
func IsTranscriptNoise(transcript string) bool {
	norm := strings.ToLower(strings.TrimSpace(transcript))
	norm = strings.Trim(norm, ".,!?…")
	norm = strings.TrimSpace(norm)
	if norm == "" {
		return true
	}
	_, ok := noiseTranscripts[norm]
	return ok
}
