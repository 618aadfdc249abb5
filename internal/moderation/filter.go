package moderation

import "strings"

// PatternFilter blocks prompts matching known policy phrases. It is the
// deterministic first gate: cheap, offline, fail-closed.
type PatternFilter struct {
	blockedCategories map[string][]string
}

func NewPatternFilter() *PatternFilter {
	return &PatternFilter{
		blockedCategories: map[string][]string{
			"minors": {
				"child in a swimsuit", "naked child", "underage girl",
				"underage boy", "nude minor",
			},
			"sexual_content": {
				"explicit nude", "pornographic", "hardcore sex",
				"non-consensual",
			},
			"graphic_violence": {
				"dismembered body", "torture scene", "beheading",
				"mutilated corpse",
			},
			"impersonation": {
				"fake id photo", "passport photo of", "forged document",
			},
			"hate": {
				"nazi propaganda", "racial caricature",
			},
		},
	}
}

// Check returns the matched category, or "" when the prompt passes.
func (f *PatternFilter) Check(prompt string) string {
	lower := strings.ToLower(prompt)
	for category, patterns := range f.blockedCategories {
		for _, p := range patterns {
			if strings.Contains(lower, p) {
				return category
			}
		}
	}
	return ""
}
