// Package store persists workflow definitions, step prompts and shared
// contexts as plain files under a project's .swiss directory.
//
// Layout:
//
//	.swiss/
//	  flows/<workflow>.yaml     workflow definitions
//	  prompts/<step>.md         step instructions
//	  contexts/<workflow>.md    shared workflow context
package store

import "errors"

// ErrAlreadyExists is returned when a rename target is already taken.
var ErrAlreadyExists = errors.New("already exists")

// Directory names under the .swiss root.
const (
	RootDir     = ".swiss"
	FlowsDir    = "flows"
	PromptsDir  = "prompts"
	ContextsDir = "contexts"
)

const (
	flowExt = ".yaml"
	textExt = ".md"
)

// Prompt is a named step instruction file.
type Prompt struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}
