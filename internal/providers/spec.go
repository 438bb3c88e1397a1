package providers

import (
	"fmt"
	"strings"
)

// Mode is a provider capability.
type Mode string

const (
	ModeChat       Mode = "chat"
	ModeCompletion Mode = "completion"
	ModeEmbedding  Mode = "embedding"
)

// Spec identifies one configured endpoint, parsed from a provider
// identifier string such as "groq:chat:llama-3.3-70b". Immutable after
// construction.
type Spec struct {
	Vendor string
	Mode   Mode
	Model  string

	// Raw is the identifier string the spec was parsed from.
	Raw string
}

// String returns the canonical vendor:mode:model form.
func (s Spec) String() string {
	return fmt.Sprintf("%s:%s:%s", s.Vendor, s.Mode, s.Model)
}

// Parser turns identifier strings into Specs. It knows the registered
// vendors and their modes; parsing is a pure function of its inputs, so
// parsing the same string twice yields structurally equal specs.
type Parser struct {
	vendors map[string][]Mode
}

// NewParser builds a parser over vendor -> supported modes.
func NewParser(vendors map[string][]Mode) *Parser {
	copied := make(map[string][]Mode, len(vendors))
	for v, modes := range vendors {
		copied[v] = append([]Mode(nil), modes...)
	}
	return &Parser{vendors: copied}
}

// Parse splits a colon-delimited identifier into (vendor, mode, model).
//
// The mode segment is optional; when the second token is not a known mode
// for the vendor it is treated as the start of the model name. Model names
// may themselves contain colons, so the longest known vendor:mode prefix
// wins before the remainder is taken verbatim as the model.
func (p *Parser) Parse(id string) (Spec, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Spec{}, fmt.Errorf("empty provider identifier")
	}

	tokens := strings.Split(id, ":")
	vendor := tokens[0]
	modes, known := p.vendors[vendor]
	if !known {
		return Spec{}, fmt.Errorf("unknown vendor %q in provider identifier %q", vendor, id)
	}
	if len(modes) == 0 {
		return Spec{}, fmt.Errorf("vendor %q has no registered modes", vendor)
	}

	mode := modes[0]
	rest := tokens[1:]
	if len(rest) > 0 && p.isMode(vendor, rest[0]) {
		mode = Mode(rest[0])
		rest = rest[1:]
	}

	model := strings.Join(rest, ":")
	if model == "" {
		return Spec{}, fmt.Errorf("provider identifier %q has no model name", id)
	}

	return Spec{Vendor: vendor, Mode: mode, Model: model, Raw: id}, nil
}

func (p *Parser) isMode(vendor, token string) bool {
	for _, m := range p.vendors[vendor] {
		if string(m) == token {
			return true
		}
	}
	return false
}
