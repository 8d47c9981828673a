package mode

import "testing"

func TestParseDefaultsToGeneral(t *testing.T) {
	m, err := Parse("")
	if err != nil {
		t.Fatalf("Parse(\"\") error = %v", err)
	}
	if m != General {
		t.Fatalf("Parse(\"\") = %q, want %q", m, General)
	}
}

func TestParseRejectsUnknown(t *testing.T) {
	if _, err := Parse("karaoke"); err == nil {
		t.Fatalf("Parse(karaoke) should fail")
	}
}

func TestProfileTableIsComplete(t *testing.T) {
	for _, p := range All() {
		if p.VoiceID == "" {
			t.Fatalf("mode %q has no voice", p.Mode)
		}
		if p.MaxTokens <= 0 {
			t.Fatalf("mode %q has no token budget", p.Mode)
		}
		if p.SystemPrompt == "" {
			t.Fatalf("mode %q has no system prompt", p.Mode)
		}
	}
}

func TestProfileForFallsBack(t *testing.T) {
	p := ProfileFor(Mode("bogus"))
	if p.Mode != General {
		t.Fatalf("ProfileFor(bogus).Mode = %q, want %q", p.Mode, General)
	}
}
