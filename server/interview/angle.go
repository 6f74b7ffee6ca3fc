package interview

import (
	"fmt"
	"strings"
)

// Angle is the interviewer's editorial stance for a session. The set is
// closed: each variant carries its own instruction-assembly rules, resolved
// once at session start.
type Angle string

const (
	AngleNarrative     Angle = "narrative"
	AngleInvestigative Angle = "investigative"
	AngleReflective    Angle = "reflective"
	AngleTechnical     Angle = "technical"
	AngleCelebratory   Angle = "celebratory"
)

// DefaultAngle is used when neither the session nor its template sets one.
const DefaultAngle = AngleNarrative

var angleInstructions = map[Angle]string{
	AngleNarrative:     "Draw out the story: chronology, turning points, and the people involved. Prefer open questions that invite scene-setting.",
	AngleInvestigative: "Press for specifics: dates, numbers, causes, and contradictions. Follow up when an answer stays vague.",
	AngleReflective:    "Explore meaning and hindsight: what the guest learned, would change, and how they feel about it now.",
	AngleTechnical:     "Go deep on mechanism: how things worked, what was tried, what failed, and the trade-offs behind decisions.",
	AngleCelebratory:   "Highlight achievements warmly: milestones, proud moments, and credit to collaborators.",
}

// ParseAngle parses a stored angle value.
func ParseAngle(s string) (Angle, bool) {
	a := Angle(strings.ToLower(strings.TrimSpace(s)))
	_, ok := angleInstructions[a]
	return a, ok
}

// ResolveAngle applies the override rules: session value wins, else the
// template value, else the default.
func ResolveAngle(sessionValue, templateValue string) Angle {
	if a, ok := ParseAngle(sessionValue); ok {
		return a
	}
	if a, ok := ParseAngle(templateValue); ok {
		return a
	}
	return DefaultAngle
}

// ResolveSecondary resolves the optional secondary blend angle. Returns nil
// when unset, invalid, or equal to the primary.
func ResolveSecondary(primary Angle, sessionValue, templateValue string) *Angle {
	for _, raw := range []string{sessionValue, templateValue} {
		if a, ok := ParseAngle(raw); ok {
			if a == primary {
				return nil
			}
			return &a
		}
	}
	return nil
}

// Instructions returns the stance text for the angle.
func (a Angle) Instructions() string {
	return angleInstructions[a]
}

// AssembleInstructions builds the interviewer briefing for a session from
// the resolved angle variant, the prepared questions, and the research
// summary.
func AssembleInstructions(primary Angle, secondary *Angle, topic string, questions []string, researchSummary string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are conducting a voice interview about: %s\n\n", topic)
	fmt.Fprintf(&b, "Primary approach: %s\n", primary.Instructions())
	if secondary != nil {
		fmt.Fprintf(&b, "Blend in: %s\n", secondary.Instructions())
	}
	if researchSummary != "" {
		fmt.Fprintf(&b, "\nBackground research:\n%s\n", researchSummary)
	}
	if len(questions) > 0 {
		b.WriteString("\nPrepared questions, in rough order:\n")
		for i, q := range questions {
			fmt.Fprintf(&b, "%d. %s\n", i+1, q)
		}
	}
	b.WriteString("\nKeep turns short and conversational. One question at a time.")
	return b.String()
}
