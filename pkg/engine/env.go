package engine

import (
	"slices"
	"strings"
)

// EnvOp is the operation an environment mutation applies.
type EnvOp string

const (
	EnvAppend  EnvOp = "append"
	EnvPrepend EnvOp = "prepend"
	EnvSet     EnvOp = "set"
)

// EnvMutation is one (variable, operation, value) triple.
type EnvMutation struct {
	Variable  string `json:"variable" yaml:"variable"`
	Op        EnvOp  `json:"op" yaml:"op"`
	Value     string `json:"value" yaml:"value"`
	Separator string `json:"separator,omitempty" yaml:"separator,omitempty"`
}

// Append builds an append mutation.
func Append(variable, value, sep string) EnvMutation {
	return EnvMutation{Variable: variable, Op: EnvAppend, Value: value, Separator: sep}
}

// Prepend builds a prepend mutation.
func Prepend(variable, value, sep string) EnvMutation {
	return EnvMutation{Variable: variable, Op: EnvPrepend, Value: value, Separator: sep}
}

// Set builds a set mutation.
func Set(variable, value string) EnvMutation {
	return EnvMutation{Variable: variable, Op: EnvSet, Value: value}
}

// EnvList is an ordered list of mutations holding at most one entry per
// (variable, op) pair.
type EnvList struct {
	items []EnvMutation
}

// Add merges m into the list. Appends and prepends to an existing pair are
// joined with the entry's separator unless the value is already present;
// a set replaces the existing set in place.
func (l *EnvList) Add(m EnvMutation) {
	if m.Op == "" {
		m.Op = EnvAppend
	}
	if m.Op != EnvSet && m.Separator == "" {
		m.Separator = " "
	}
	for i := range l.items {
		cur := &l.items[i]
		if cur.Variable != m.Variable || cur.Op != m.Op {
			continue
		}
		switch m.Op {
		case EnvSet:
			cur.Value = m.Value
		case EnvAppend:
			if !slices.Contains(strings.Split(cur.Value, cur.Separator), m.Value) {
				cur.Value = cur.Value + cur.Separator + m.Value
			}
		case EnvPrepend:
			if !slices.Contains(strings.Split(cur.Value, cur.Separator), m.Value) {
				cur.Value = m.Value + cur.Separator + cur.Value
			}
		}
		return
	}
	l.items = append(l.items, m)
}

// AddAll merges every mutation in order.
func (l *EnvList) AddAll(ms []EnvMutation) {
	for _, m := range ms {
		l.Add(m)
	}
}

// Items returns a copy of the mutations.
func (l *EnvList) Items() []EnvMutation {
	return slices.Clone(l.items)
}

// ApplyEnv applies mutations in order over a copy of base, given in
// os.Environ form. Variables not named by a mutation are left untouched and
// keep their original position.
func ApplyEnv(base []string, mutations []EnvMutation) []string {
	out := slices.Clone(base)
	index := make(map[string]int, len(out))
	for i, kv := range out {
		k, _, _ := strings.Cut(kv, "=")
		index[k] = i
	}

	for _, m := range mutations {
		i, exists := index[m.Variable]
		var current string
		if exists {
			_, current, _ = strings.Cut(out[i], "=")
		}

		var next string
		switch m.Op {
		case EnvSet:
			next = m.Value
		case EnvPrepend:
			next = joinNonEmpty(m.Value, current, m.Separator)
		default:
			next = joinNonEmpty(current, m.Value, m.Separator)
		}

		kv := m.Variable + "=" + next
		if exists {
			out[i] = kv
		} else {
			index[m.Variable] = len(out)
			out = append(out, kv)
		}
	}
	return out
}

func joinNonEmpty(a, b, sep string) string {
	if sep == "" {
		sep = " "
	}
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + sep + b
	}
}
