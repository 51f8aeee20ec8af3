package template

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// templateSchema is the wire shape of a template body.
const templateSchema = `
#Parameter: {
	Type: "String" | "Number" | "CommaDelimitedList" | =~"^(List<|AWS::)"
	Description?: string
	Default?: _
	AllowedValues?: [...]
	NoEcho?: bool
	...
}

#Resource: {
	Type: string & =~"^[A-Za-z0-9]+::[A-Za-z0-9]+::[A-Za-z0-9]+$|^Custom::"
	Properties?: {...}
	DependsOn?: string | [...string]
	...
}

#Output: {
	Value: _
	Description?: string
	...
}

#Template: {
	Parameters: [=~"^[A-Za-z0-9]+$"]: #Parameter
	Resources: [=~"^[A-Za-z0-9]+$"]: #Resource
	Outputs: [=~"^[A-Za-z0-9]+$"]: #Output
}
`

// Validator checks a composed template against the template schema.
type Validator struct {
	mu     sync.Mutex
	ctx    *cue.Context
	schema cue.Value
}

// NewValidator compiles the template schema.
func NewValidator() (*Validator, error) {
	ctx := cuecontext.New()
	root := ctx.CompileString(templateSchema)
	if err := root.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile template schema: %w", err)
	}
	def := root.LookupPath(cue.ParsePath("#Template"))
	if err := def.Err(); err != nil {
		return nil, fmt.Errorf("failed to load template schema: %w", err)
	}
	return &Validator{ctx: ctx, schema: def}, nil
}

// Validate reports every schema violation in t as one error.
func (v *Validator) Validate(t Template) error {
	body, err := t.Body()
	if err != nil {
		return err
	}

	// cue.Context is not safe for concurrent use.
	v.mu.Lock()
	defer v.mu.Unlock()

	data := v.ctx.CompileString(body)
	if err := data.Err(); err != nil {
		return fmt.Errorf("failed to load template body: %w", err)
	}
	unified := v.schema.Unify(data)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("template schema validation failed: %s", cueerrors.Details(err, nil))
	}
	return nil
}
