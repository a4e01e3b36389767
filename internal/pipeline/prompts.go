package pipeline

import (
	"embed"
	"fmt"
)

//go:embed prompts/*.txt
var promptFS embed.FS

// prompt returns an embedded template. The set is fixed at build time, so a
// missing name is a programming error.
func prompt(name string) string {
	data, err := promptFS.ReadFile("prompts/" + name + ".txt")
	if err != nil {
		panic(fmt.Sprintf("pipeline: prompt %s: %v", name, err))
	}
	return string(data)
}
