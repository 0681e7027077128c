package storypack

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// schema constrains a story pack. Condition and effect bodies stay
// open structs; the expression layer owns their semantics and is
// fail-open by design.
const schema = `
#Node: {
	title!:   string
	content?: {...}
}

#Edge: {
	from!:      string
	to!:        string
	label!:     string
	condition?: {...}
	effect?: {
		set?:    {...}
		add?:    {[string]: number}
		toggle?: [...string]
		push?:   {...}
		remove?: [...string]
	}
	aliases?: [...string]
}

#Pack: {
	title?: string
	start?: string
	nodes!: {[string]: #Node}
	edges?: [...#Edge]
}
`

// CompileFile reads and compiles a CUE story pack from disk.
func CompileFile(path string) (*Pack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read story pack: %w", err)
	}
	return CompileString(string(data))
}

// CompileString compiles CUE source into a validated Pack. The source
// must define its pack under a top-level "story" field.
func CompileString(src string) (*Pack, error) {
	ctx := cuecontext.New()

	schemaVal := ctx.CompileString(schema)
	if err := schemaVal.Err(); err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	val := ctx.CompileString(src)
	if err := val.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	storyVal := val.LookupPath(cue.ParsePath("story"))
	if !storyVal.Exists() {
		return nil, fmt.Errorf("story pack: missing top-level \"story\" field")
	}

	unified := storyVal.Unify(schemaVal.LookupPath(cue.ParsePath("#Pack")))
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	var pack Pack
	if err := unified.Decode(&pack); err != nil {
		return nil, formatCUEError(err)
	}

	if errs := Validate(&pack); len(errs) > 0 {
		return nil, fmt.Errorf("story pack invalid: %w", errs[0])
	}
	return &pack, nil
}

// formatCUEError flattens CUE's error list into one readable error.
func formatCUEError(err error) error {
	list := cueerrors.Errors(err)
	if len(list) == 0 {
		return err
	}
	first := list[0]
	pos := first.Position()
	if pos.IsValid() {
		return fmt.Errorf("story pack: %s:%d: %s", pos.Filename(), pos.Line(), cueerrors.Details(first, nil))
	}
	return fmt.Errorf("story pack: %s", cueerrors.Details(first, nil))
}
