package bf

// ChunkSize is the number of zero cells added whenever the head reaches the
// right edge of the allocated tape.
const ChunkSize = 100

// Machine holds the state of a single run. The tape starts at the initial
// head position (index 0) and only grows to the right.
type Machine struct {
	tape   []uint8
	head   int
	input  []byte
	output []byte
}

func NewMachine(input []byte) *Machine {
	return &Machine{
		input:  input,
		output: []byte{},
	}
}

// Head is the index of the current cell relative to the initial position.
func (m *Machine) Head() int {
	return m.head
}

// TapeLength is the number of cells allocated so far.
func (m *Machine) TapeLength() int {
	return len(m.tape)
}

// At returns the cell at index j. Cells that were never allocated read as 0.
func (m *Machine) At(j int) uint8 {
	if j < 0 || j >= len(m.tape) {
		return 0
	}
	return m.tape[j]
}

// Output returns what has been written so far.
func (m *Machine) Output() []byte {
	return m.output
}

// cell returns the current cell, allocating a chunk if the head is past the
// end of the tape.
func (m *Machine) cell() *uint8 {
	if m.head >= len(m.tape) {
		m.tape = append(m.tape, make([]uint8, ChunkSize)...)
	}
	return &m.tape[m.head]
}

// Exec walks the program against the machine state. On error the state is
// left as it was at the failing instruction.
func (m *Machine) Exec(program Program) error {
	return m.exec(program)
}

func (m *Machine) exec(seq []Instruction) error {
	for _, ins := range seq {
		switch ins := ins.(type) {
		case Leaf:
			if err := m.step(Command(ins)); err != nil {
				return err
			}
		case Loop:
			for *m.cell() != 0 {
				if err := m.exec(ins); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (m *Machine) step(c Command) error {
	switch c {
	case Right:
		m.cell()
		m.head++
	case Left:
		if m.head == 0 {
			return &RuntimeError{Kind: ErrBackwardBoundaryUnderflow, Command: c}
		}
		m.head--
	case Increment:
		*m.cell()++
	case Decrement:
		*m.cell()--
	case Output:
		m.output = append(m.output, *m.cell())
	case Input:
		if len(m.input) == 0 {
			return &RuntimeError{Kind: ErrInputExhausted, Command: c}
		}
		*m.cell() = m.input[0]
		m.input = m.input[1:]
	default:
		return &RuntimeError{Kind: ErrUndefinedCommand, Command: c}
	}
	return nil
}

// Run executes program on a fresh machine. No output is returned on error.
func Run(program Program, input []byte) ([]byte, error) {
	m := NewMachine(input)
	if err := m.Exec(program); err != nil {
		return nil, err
	}
	return m.Output(), nil
}
