package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"patternpress/internal/pipeline"
	"patternpress/internal/publish"
	"patternpress/internal/render"
)

func (a *app) renderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "render <slug>",
		Short: "Render the HTML site of a run",
		Long: `Renders <dist_dir>/<slug>/ from stage5_translation, or from stage4_pages when
translation has not run, then checks every relative link.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slug := args[0]
			orch, closeFn, err := a.orchestrator(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer closeFn()

			manifest, err := pipeline.RenderSlug(orch.RunContextFor(slug, nil))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Rendered %d files to %s\n", len(manifest.Files), manifest.Root)

			broken, err := render.CheckLinks(filepath.Join(orch.DistDir(), slug))
			if err != nil {
				return err
			}
			for _, b := range broken {
				fmt.Fprintf(out, "warning: broken link %s\n", b)
			}
			return nil
		},
	}
}

func (a *app) publishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish <slug>",
		Short: "Upload a rendered site to S3-compatible storage",
		Long: `Uploads <dist_dir>/<slug>/ to publish.bucket under publish.prefix. Endpoint
and credentials come from the publish section or PRESS_S3_* variables.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.cfg.IsPublishConfigured() {
				return errors.New("publish is not configured (need publish.endpoint, bucket, access_key and secret_key)")
			}
			p, err := publish.NewFromConfig(a.cfg.Publish)
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd.Context())
			defer cancel()

			slug := args[0]
			res, err := p.Publish(ctx, slug, filepath.Join(a.cfg.Paths.DistDir, slug))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Published %d objects (%d bytes) to %s/%s\n",
				len(res.Objects), res.Bytes, res.Bucket, p.ObjectKey(slug, ""))
			return nil
		},
	}
}
