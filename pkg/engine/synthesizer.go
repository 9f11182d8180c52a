package engine

// Synthesizer maps an option set to the ordered build arguments and
// environment mutations. It reads nothing but the option set and the recipe.
type Synthesizer struct {
	recipe *Recipe
}

// NewSynthesizer creates a synthesizer for the recipe.
func NewSynthesizer(recipe *Recipe) *Synthesizer {
	return &Synthesizer{recipe: recipe}
}

// Synthesize evaluates every flag effect and env effect in declaration order.
func (s *Synthesizer) Synthesize(opts *OptionSet) Synthesis {
	args := make([]string, 0, 48)
	for _, f := range s.recipe.Flags {
		args = f.emit(opts, s.recipe.Layout, args)
	}

	var env EnvList
	for _, e := range s.recipe.Env {
		if !e.When.Eval(opts) {
			continue
		}
		env.Add(EnvMutation{
			Variable:  e.Variable,
			Op:        e.Op,
			Value:     e.Value.resolve(opts, s.recipe.Layout),
			Separator: e.Separator,
		})
	}

	return Synthesis{Args: args, Env: env.Items()}
}
