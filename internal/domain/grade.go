package domain

import (
	"encoding"
	"encoding/json"
	"fmt"
	"strings"
)

// Grade is the user's self-assessed recall quality for a card.
type Grade int

const (
	Again Grade = iota + 1 // Not recalled.
	Hard                   // Recalled with serious difficulty.
	Good                   // Recalled.
	Easy                   // Recalled effortlessly.
)

var (
	gradeNames  = [...]string{Again: "again", Hard: "hard", Good: "good", Easy: "easy"}
	gradeByName = map[string]Grade{
		"again": Again,
		"hard":  Hard,
		"good":  Good,
		"easy":  Easy,
	}
)

var (
	_ fmt.Stringer             = Grade(0)
	_ json.Marshaler           = Grade(0)
	_ json.Unmarshaler         = (*Grade)(nil)
	_ encoding.TextMarshaler   = Grade(0)
	_ encoding.TextUnmarshaler = (*Grade)(nil)
)

// ParseGrade converts a label such as "good" into a Grade. Matching is case
// insensitive.
func ParseGrade(s string) (Grade, error) {
	g, ok := gradeByName[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("%w: unknown grade %q", ErrValidation, s)
	}
	return g, nil
}

// IsValid reports whether g is one of Again, Hard, Good or Easy.
func (g Grade) IsValid() bool {
	return g >= Again && g <= Easy
}

// Correct reports whether the grade counts as a successful recall for
// accuracy statistics.
func (g Grade) Correct() bool {
	return g == Good || g == Easy
}

func (g Grade) String() string {
	if g.IsValid() {
		return gradeNames[g]
	}
	return fmt.Sprintf("Grade(%d)", int(g))
}

// MarshalText implements encoding.TextMarshaler.
func (g Grade) MarshalText() ([]byte, error) {
	if !g.IsValid() {
		return nil, fmt.Errorf("%w: invalid grade %d", ErrValidation, int(g))
	}
	return []byte(gradeNames[g]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (g *Grade) UnmarshalText(text []byte) error {
	v, err := ParseGrade(string(text))
	if err != nil {
		return err
	}
	*g = v
	return nil
}

// MarshalJSON implements json.Marshaler. A Grade serializes as its label.
func (g Grade) MarshalJSON() ([]byte, error) {
	text, err := g.MarshalText()
	if err != nil {
		return nil, err
	}
	return json.Marshal(string(text))
}

// UnmarshalJSON implements json.Unmarshaler.
func (g *Grade) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: grade must be a string: %s", ErrValidation, data)
	}
	return g.UnmarshalText([]byte(s))
}
