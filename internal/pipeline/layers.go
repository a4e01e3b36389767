package pipeline

import (
	"context"

	"patternpress/internal/validation"
)

func layersStage() Stage {
	return &stage{
		name: StageLayers,
		kind: KindDerivation,
		run: func(ctx context.Context, rc *RunContext) (any, error) {
			k := rc.Kernel
			subs := map[string]string{
				"book_title":  k.Title(),
				"author":      orUnknown(k.Author(), "Unknown"),
				"kernel_json": prettyJSON(k.Doc),
			}
			obj, err := deriveObject(ctx, rc, StageLayers, prompt("layers"), subs)
			if err != nil {
				return nil, err
			}
			if _, ok := obj["metadata"]; !ok {
				obj["metadata"] = map[string]any{"title": k.Title(), "author": k.Author()}
			}
			return obj, nil
		},
		check: func(rc *RunContext, doc any) *validation.Report {
			return rc.Validator.Layers(doc)
		},
	}
}
