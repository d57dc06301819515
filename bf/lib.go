package bf

// Evaluate builds and runs program against input. It returns either the
// complete output or an error, never both.
func Evaluate(program []byte, input []byte) ([]byte, error) {
	tree, err := Build(program)
	if err != nil {
		return nil, err
	}
	return Run(tree, input)
}
