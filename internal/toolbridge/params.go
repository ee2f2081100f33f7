package toolbridge

import "github.com/dynamous-community/YokeFlow/internal/taskstore"

// stringField and intField read a field a schema has already validated as
// present and correctly typed; a zero value here indicates a schema gap,
// not untrusted agent input.

func stringField(doc map[string]any, key string) string {
	s, _ := doc[key].(string)
	return s
}

func intField(doc map[string]any, key string) int {
	// encoding/json decodes JSON numbers into float64 for map[string]any.
	f, _ := doc[key].(float64)
	return int(f)
}

func boolField(doc map[string]any, key string) bool {
	v, _ := doc[key].(bool)
	return v
}

// taskSpecsField reads an array-of-objects field the schema has already
// validated as present with each element carrying a non-empty title.
func taskSpecsField(doc map[string]any, key string) []taskstore.NewTaskSpec {
	raw, _ := doc[key].([]any)
	out := make([]taskstore.NewTaskSpec, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, taskstore.NewTaskSpec{
			Title:       stringField(m, "title"),
			Description: stringField(m, "description"),
		})
	}
	return out
}
