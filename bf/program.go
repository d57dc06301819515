package bf

import (
	"strings"
)

type Command byte

const (
	Increment Command = '+'
	Decrement Command = '-'
	Left      Command = '<'
	Right     Command = '>'
	Output    Command = '.'
	Input     Command = ','
	LoopStart Command = '['
	LoopEnd   Command = ']'
)

func (c Command) String() string {
	return string([]byte{byte(c)})
}

// Instruction is either a Leaf or a Loop.
type Instruction interface {
	instruction()
}

// Leaf is a single source byte. It is not checked for validity until it is
// executed.
type Leaf Command

// Loop is the body between a matched '[' and ']'.
type Loop []Instruction

func (Leaf) instruction() {}
func (Loop) instruction() {}

// Program is an instruction tree in source order.
type Program []Instruction

// String writes the tree back out as source.
func (p Program) String() string {
	var sb strings.Builder
	writeSource(&sb, p)
	return sb.String()
}

func writeSource(sb *strings.Builder, seq []Instruction) {
	for _, ins := range seq {
		switch ins := ins.(type) {
		case Leaf:
			sb.WriteByte(byte(ins))
		case Loop:
			sb.WriteByte(byte(LoopStart))
			writeSource(sb, ins)
			sb.WriteByte(byte(LoopEnd))
		}
	}
}

// Count returns the number of instructions in the tree, loops included.
func (p Program) Count() int {
	return count(p)
}

func count(seq []Instruction) int {
	n := len(seq)
	for _, ins := range seq {
		if loop, ok := ins.(Loop); ok {
			n += count(loop)
		}
	}
	return n
}

// Depth returns the deepest loop nesting in the tree.
func (p Program) Depth() int {
	return depth(p)
}

func depth(seq []Instruction) int {
	d := 0
	for _, ins := range seq {
		if loop, ok := ins.(Loop); ok {
			d = max(d, 1+depth(loop))
		}
	}
	return d
}

// Reads reports whether the tree contains an input command anywhere,
// including inside loops that may never run.
func (p Program) Reads() bool {
	return reads(p)
}

func reads(seq []Instruction) bool {
	for _, ins := range seq {
		switch ins := ins.(type) {
		case Leaf:
			if Command(ins) == Input {
				return true
			}
		case Loop:
			if reads(ins) {
				return true
			}
		}
	}
	return false
}

type builder struct {
	source []byte
	pos    int
}

// Build parses source into an instruction tree. Only bracket structure is
// checked; every other byte becomes a Leaf.
func Build(source []byte) (Program, error) {
	b := &builder{source: source}
	seq, err := b.sequence(-1)
	if err != nil {
		return nil, err
	}
	return Program(seq), nil
}

// sequence consumes instructions up to the end of the source when open is
// negative, or up to the ']' matching the '[' at offset open.
func (b *builder) sequence(open int) ([]Instruction, error) {
	seq := []Instruction{}
	for b.pos < len(b.source) {
		c := Command(b.source[b.pos])
		b.pos++
		switch c {
		case LoopStart:
			body, err := b.sequence(b.pos - 1)
			if err != nil {
				return nil, err
			}
			seq = append(seq, Loop(body))
		case LoopEnd:
			if open < 0 {
				return nil, &ParseError{Kind: ErrUnmatchedCloseBracket, Offset: b.pos - 1}
			}
			return seq, nil
		default:
			seq = append(seq, Leaf(c))
		}
	}
	if open >= 0 {
		return nil, &ParseError{Kind: ErrUnterminatedLoop, Offset: open}
	}
	return seq, nil
}
