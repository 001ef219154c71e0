package main

import (
	"context"
	"fmt"

	"github.com/basinlabs/warden/pkg/types"
	"github.com/spf13/cobra"
)

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Job template operations",
}

var templateCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a template from a task group spec file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		file, _ := cmd.Flags().GetString("file")
		description, _ := cmd.Flags().GetString("description")
		groups, constraints, err := readJobSpec(file)
		if err != nil {
			return err
		}
		tmpl, err := c.CreateTemplate(context.Background(), args[0], description, groups, constraints)
		if err != nil {
			return fmt.Errorf("create template: %w", err)
		}
		fmt.Printf("Template created: %s\n", tmpl.ID)
		return nil
	},
}

var templateGetCmd = &cobra.Command{
	Use:   "get TEMPLATE_ID",
	Short: "Show a template",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		tmpl, err := c.GetTemplate(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("get template: %w", err)
		}
		return printJSON(tmpl)
	},
}

var templateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List templates",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		tmpls, err := c.ListTemplates(context.Background())
		if err != nil {
			return fmt.Errorf("list templates: %w", err)
		}
		if len(tmpls) == 0 {
			fmt.Println("No templates found")
			return nil
		}
		fmt.Printf("%-36s %-20s %s\n", "ID", "NAME", "DESCRIPTION")
		for _, t := range tmpls {
			fmt.Printf("%-36s %-20s %s\n", t.ID, t.Name, t.Description)
		}
		return nil
	},
}

var templateUpdateCmd = &cobra.Command{
	Use:   "update TEMPLATE_ID",
	Short: "Replace a template's fields",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		name, _ := cmd.Flags().GetString("name")
		description, _ := cmd.Flags().GetString("description")
		file, _ := cmd.Flags().GetString("file")
		var groups []types.TaskGroup
		var constraints []types.Constraint
		if file != "" {
			var err error
			groups, constraints, err = readJobSpec(file)
			if err != nil {
				return err
			}
		}
		tmpl, err := c.UpdateTemplate(context.Background(), args[0], name, description, groups, constraints)
		if err != nil {
			return fmt.Errorf("update template: %w", err)
		}
		fmt.Printf("Template updated: %s\n", tmpl.ID)
		return nil
	},
}

var templateDeleteCmd = &cobra.Command{
	Use:   "delete TEMPLATE_ID",
	Short: "Delete a template",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		if err := c.DeleteTemplate(context.Background(), args[0]); err != nil {
			return fmt.Errorf("delete template: %w", err)
		}
		fmt.Println("Template deleted")
		return nil
	},
}

func init() {
	templateCmd.AddCommand(templateCreateCmd, templateGetCmd, templateListCmd, templateUpdateCmd, templateDeleteCmd)

	templateCreateCmd.Flags().String("file", "", "Path to a JSON file containing task groups (and optionally constraints)")
	templateCreateCmd.Flags().String("description", "", "Template description")
	templateUpdateCmd.Flags().String("file", "", "Path to a JSON file containing task groups (and optionally constraints)")
	templateUpdateCmd.Flags().String("name", "", "New template name")
	templateUpdateCmd.Flags().String("description", "", "New template description")
}
