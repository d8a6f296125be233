package ruleset

import _ "embed"

//go:embed example.yaml
var exampleDocument []byte

// Example returns a complete sample ruleset document operators can start from.
func Example() []byte {
	out := make([]byte, len(exampleDocument))
	copy(out, exampleDocument)
	return out
}
