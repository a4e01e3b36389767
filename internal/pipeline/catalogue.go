package pipeline

import (
	"fmt"
	"slices"
)

// Stage names, which are also the checkpoint file names.
const (
	StageExtraction  = "stage1_extraction"
	StageThemes      = "stage2_themes"
	StageTheses      = "stage3_theses"
	StagePages       = "stage4_pages"
	StageTranslation = "stage5_translation"
	StageRender      = "stage6_render"

	StageAudience   = "stage2_audience"
	StageAngles     = "stage3_angles"
	StageDrafts     = "stage4_drafts"
	StageEvaluation = "stage5_evaluation"
	StageRefined    = "stage6_refined"

	StageLayers = "stage2_layers"
)

// Pipelines lists the pipeline names.
func Pipelines() []string {
	return []string{PipelineContent, PipelineMarketing, PipelineLayers}
}

// Stages returns the stage list of a pipeline.
func Stages(pipeline string) ([]Stage, error) {
	switch pipeline {
	case PipelineContent, "":
		return []Stage{extractionStage(), themesStage(), thesesStage(), pagesStage(), translationStage(), renderStage()}, nil
	case PipelineMarketing:
		return []Stage{extractionStage(), audienceStage(), anglesStage(), draftsStage(), evaluationStage(), refinedStage()}, nil
	case PipelineLayers:
		return []Stage{extractionStage(), layersStage()}, nil
	}
	return nil, fmt.Errorf("%w %q (want one of %v)", ErrUnknownPipeline, pipeline, Pipelines())
}

// StageNames returns the stage names of a pipeline in order.
func StageNames(pipeline string) ([]string, error) {
	stages, err := Stages(pipeline)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = s.Name()
	}
	return names, nil
}

// FindPipeline returns the pipeline a stage belongs to. stage1_extraction
// belongs to every pipeline and reports content.
func FindPipeline(stageName string) (string, error) {
	for _, p := range Pipelines() {
		names, _ := StageNames(p)
		if slices.Contains(names, stageName) {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w %q", ErrUnknownStage, stageName)
}

func stageIndex(stages []Stage, name string) (int, error) {
	for i, s := range stages {
		if s.Name() == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w %q", ErrUnknownStage, name)
}
