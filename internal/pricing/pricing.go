package pricing

import (
	"eval_harness/internal/eval"
)

type Direction string
type Unit string

// Pricing enums
const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"

	UnitToken     Unit = "token"
	Unit1KTokens  Unit = "1k_tokens"
	Unit1MTokens  Unit = "1m_tokens"
	UnitCharacter Unit = "character"
)

// Component prices one token direction for a model. Price is in USD per
// Unit; a model typically carries one input and one output component.
type Component struct {
	Direction Direction `yaml:"direction" json:"direction"`
	Unit      Unit      `yaml:"unit" json:"unit"`
	Price     float64   `yaml:"price" json:"price"`
}

// ModelPricing is the full price card for one vendor model.
type ModelPricing struct {
	Vendor     string      `yaml:"vendor" json:"vendor"`
	Model      string      `yaml:"model" json:"model"`
	Currency   string      `yaml:"currency,omitempty" json:"currency,omitempty"`
	Components []Component `yaml:"components" json:"components"`
}

// Cost computes the dollar cost of one call from its token usage. The
// result is nil when the usage carries no token counts; absence of data
// must stay distinguishable from a free call.
func (m *ModelPricing) Cost(usage *eval.TokenUsage) *float64 {
	if m == nil || usage == nil {
		return nil
	}
	if usage.Prompt == 0 && usage.Completion == 0 {
		return nil
	}

	cost := 0.0
	if usage.Prompt > 0 {
		if c := m.component(DirectionInput); c != nil {
			cost += componentCost(c, usage.Prompt)
		}
	}
	if usage.Completion > 0 {
		if c := m.component(DirectionOutput); c != nil {
			cost += componentCost(c, usage.Completion)
		}
	}
	return &cost
}

func (m *ModelPricing) component(direction Direction) *Component {
	for i := range m.Components {
		if m.Components[i].Direction == direction {
			return &m.Components[i]
		}
	}
	return nil
}

func componentCost(c *Component, tokens int) float64 {
	switch c.Unit {
	case Unit1MTokens:
		return (float64(tokens) / 1_000_000.0) * c.Price
	case Unit1KTokens:
		return (float64(tokens) / 1000.0) * c.Price
	case UnitToken:
		return float64(tokens) * c.Price
	case UnitCharacter:
		// Rough token-to-character estimate for character-priced vendors.
		return float64(tokens*4) * c.Price
	default:
		return 0.0
	}
}
