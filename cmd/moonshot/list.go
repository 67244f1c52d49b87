package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aiverify-foundation/moonshot-sub003/internal/registry"
	"github.com/aiverify-foundation/moonshot-sub003/internal/storage"
)

// objectCategories maps list arguments onto object store categories.
var objectCategories = map[string]storage.Category{
	"endpoints":        storage.CategoryConnectorEndpoints,
	"recipes":          storage.CategoryRecipes,
	"cookbooks":        storage.CategoryCookbooks,
	"datasets":         storage.CategoryDatasets,
	"prompt-templates": storage.CategoryPromptTemplates,
	"runners":          storage.CategoryRunners,
	"results":          storage.CategoryResults,
	"bookmarks":        storage.CategoryBookmarks,
}

// moduleCategories maps list arguments onto registry categories.
var moduleCategories = map[string]registry.Category{
	"connectors":         registry.CategoryConnector,
	"metrics":            registry.CategoryMetric,
	"attack-modules":     registry.CategoryAttackModule,
	"context-strategies": registry.CategoryContextStrategy,
}

var listCmd = &cobra.Command{
	Use:   "list <kind>",
	Short: "List stored objects or discoverable modules",
	Long: `Lists the ids of one kind of object or module. Kinds: endpoints,
recipes, cookbooks, datasets, prompt-templates, runners, results,
bookmarks, connectors, metrics, attack-modules, context-strategies.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, reg, err := buildEnv()
		if err != nil {
			return err
		}

		kind := args[0]
		if category, ok := objectCategories[kind]; ok {
			ids, err := store.IterObjects(category)
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		}
		if category, ok := moduleCategories[kind]; ok {
			_, metas, err := reg.GetAvailable(category)
			if err != nil {
				return err
			}
			for _, meta := range metas {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", meta.ID, meta.Name)
			}
			return nil
		}
		return fmt.Errorf("unknown kind %q", kind)
	},
}

var showCmd = &cobra.Command{
	Use:   "show <kind> <id>",
	Short: "Print one stored object as JSON",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := buildEnv()
		if err != nil {
			return err
		}
		category, ok := objectCategories[args[0]]
		if !ok {
			return fmt.Errorf("unknown kind %q", args[0])
		}
		var obj any
		if err := store.Read(category, args[1], &obj); err != nil {
			return err
		}
		raw, err := json.MarshalIndent(obj, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(raw))
		return nil
	},
}
