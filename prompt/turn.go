package prompt

import (
	"fmt"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/model"
)

// Fractions tried by BuildTurnMessagesWithBudget, largest first.
var Fractions = []float64{1, 0.75, 0.5, 0.25}

// Turn is a rendered system + user pair.
type Turn struct {
	System   string
	User     string
	Tokens   int
	Fraction float64
	// Warning is set when even the smallest fraction exceeds the ceiling.
	Warning string
}

// Request converts the turn into a model request.
func (t Turn) Request(tools []model.ToolDefinition, endpoint string) model.Request {
	req := model.NewRequest(t.System, t.User, tools)
	req.Endpoint = endpoint
	return req
}

// BuildTurnMessages renders the system message (role, phase marker and
// serialized state) and the phase instruction as the user message.
func BuildTurnMessages(state core.ResearchState, budget Budget, opts Options) Turn {
	ci := Serialize(state, budget)
	system := rolePreamble + "\n" + Marker(state.Phase) + "\n\n" + ci.Text
	user := Instruction(state, opts)
	return Turn{
		System:   system,
		User:     user,
		Tokens:   EstimateTokens(system) + EstimateTokens(user),
		Fraction: 1,
	}
}

// BuildTurnMessagesWithBudget rebuilds the turn at decreasing budget fractions
// until it fits maxTokens. If nothing fits, the smallest build is returned with
// a warning. A non-positive maxTokens disables the ceiling.
func BuildTurnMessagesWithBudget(state core.ResearchState, maxTokens int, opts Options) Turn {
	base := DefaultBudget()
	var turn Turn
	for _, f := range Fractions {
		turn = BuildTurnMessages(state, base.Scale(f), opts)
		turn.Fraction = f
		if maxTokens <= 0 || turn.Tokens <= maxTokens {
			return turn
		}
	}
	turn.Warning = fmt.Sprintf("context of ~%d tokens exceeds budget of %d even at %.0f%%", turn.Tokens, maxTokens, turn.Fraction*100)
	return turn
}
