package config

import (
	_ "embed"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaSource string

// checkSchema unifies the raw decoded file with the embedded #Config
// definition and reports every structural violation.
func checkSchema(raw map[string]any) []Problem {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return []Problem{{Path: "schema", Message: err.Error()}}
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	data := ctx.Encode(raw)
	if err := data.Err(); err != nil {
		return cueProblems(err)
	}

	if err := def.Unify(data).Validate(cue.Concrete(true)); err != nil {
		return cueProblems(err)
	}
	return nil
}

func cueProblems(err error) []Problem {
	var out []Problem
	for _, e := range errors.Errors(err) {
		out = append(out, Problem{
			Path:    strings.Join(e.Path(), "."),
			Message: e.Error(),
		})
	}
	if len(out) == 0 {
		out = append(out, Problem{Message: err.Error()})
	}
	return out
}
