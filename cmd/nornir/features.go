package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rafaeljc/nornir/internal/features"
	"github.com/rafaeljc/nornir/internal/logger"
	"github.com/rafaeljc/nornir/internal/recipe"
	"github.com/rafaeljc/nornir/internal/syncer"
	"github.com/rafaeljc/nornir/internal/targeting"
)

func newFeaturesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "features",
		Short: "Inspect feature manifests",
	}
	cmd.AddCommand(newFeaturesCheckCmd())
	return cmd
}

// newFeaturesCheckCmd validates a manifest and, optionally, a recipe
// directory against it.
func newFeaturesCheckCmd() *cobra.Command {
	var (
		manifest   string
		recipesDir string
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a feature manifest and the recipes that use it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()

			registry := features.NewRegistry()
			if err := registry.LoadFile(manifest); err != nil {
				return err
			}
			fmt.Fprintf(out, "manifest ok: %d features\n", len(registry.IDs()))

			if recipesDir == "" {
				return nil
			}

			recipes, err := recipe.LoadDir(recipesDir)
			if err != nil {
				return err
			}

			checker := syncer.NewChecker(logger.NewNop(), registry)
			invalid := 0
			for _, r := range recipes {
				res := checker.Check(r, targeting.Context{})
				if res.Ok {
					fmt.Fprintf(out, "ok       %s\n", r.Slug)
					continue
				}

				invalid++
				detail := strings.Join(append(res.InvalidFeatureIDs, res.InvalidBranchSlugs...), ",")
				fmt.Fprintf(out, "invalid  %s reason=%s %s\n", r.Slug, res.Reason, detail)
			}

			if invalid > 0 {
				return fmt.Errorf("%d of %d recipes are invalid", invalid, len(recipes))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&manifest, "manifest", "features.yaml", "path to the feature manifest")
	cmd.Flags().StringVar(&recipesDir, "recipes", "", "optional directory of recipes to check against the manifest")

	return cmd
}
