package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/basinlabs/warden/pkg/client"
	"github.com/basinlabs/warden/pkg/types"
	"github.com/spf13/cobra"
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Job operations",
}

var jobSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a job from a task group spec file",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		file, _ := cmd.Flags().GetString("file")
		templateID, _ := cmd.Flags().GetString("template")

		var groups []types.TaskGroup
		var constraints []types.Constraint
		if file != "" {
			var err error
			groups, constraints, err = readJobSpec(file)
			if err != nil {
				return err
			}
		}

		jobID, evalID, err := c.SubmitJob(context.Background(), groups, constraints, templateID)
		if err != nil {
			return fmt.Errorf("submit job: %w", err)
		}
		fmt.Printf("Job submitted: %s (evaluation %s)\n", jobID, evalID)
		return nil
	},
}

var jobUpdateCmd = &cobra.Command{
	Use:   "update JOB_ID",
	Short: "Replace a job's spec",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		file, _ := cmd.Flags().GetString("file")
		groups, constraints, err := readJobSpec(file)
		if err != nil {
			return err
		}
		evalID, err := c.UpdateJob(context.Background(), args[0], groups, constraints)
		if err != nil {
			return fmt.Errorf("update job: %w", err)
		}
		fmt.Printf("Job updated: evaluation %s\n", evalID)
		return nil
	},
}

var jobStopCmd = &cobra.Command{
	Use:   "stop JOB_ID",
	Short: "Stop a job's allocations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		if err := c.StopJob(context.Background(), args[0]); err != nil {
			return fmt.Errorf("stop job: %w", err)
		}
		fmt.Println("Job stopped")
		return nil
	},
}

var jobDeleteCmd = &cobra.Command{
	Use:   "delete JOB_ID",
	Short: "Delete a job and its allocations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		if err := c.DeleteJob(context.Background(), args[0]); err != nil {
			return fmt.Errorf("delete job: %w", err)
		}
		fmt.Println("Job deleted")
		return nil
	},
}

var jobRestartCmd = &cobra.Command{
	Use:   "restart JOB_ID",
	Short: "Restart a dead job from its stored spec",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		evalID, err := c.RestartJob(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("restart job: %w", err)
		}
		fmt.Printf("Job restarted: evaluation %s\n", evalID)
		return nil
	},
}

var jobGetCmd = &cobra.Command{
	Use:   "get JOB_ID",
	Short: "Show a job and its allocations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		info, err := c.GetJob(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("get job: %w", err)
		}
		return printJSON(info)
	},
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		infos, err := c.ListJobs(context.Background())
		if err != nil {
			return fmt.Errorf("list jobs: %w", err)
		}
		if len(infos) == 0 {
			fmt.Println("No jobs found")
			return nil
		}
		fmt.Printf("%-36s %-10s %-20s %s\n", "ID", "STATUS", "TASK GROUPS", "ALLOCATIONS")
		for _, info := range infos {
			fmt.Printf("%-36s %-10s %-20d %d\n", info.Job.ID, info.Job.Status, len(info.Job.TaskGroups), len(info.AllocationInfos))
		}
		return nil
	},
}

func init() {
	jobCmd.AddCommand(jobSubmitCmd, jobUpdateCmd, jobStopCmd, jobDeleteCmd, jobRestartCmd, jobGetCmd, jobListCmd)

	jobSubmitCmd.Flags().String("file", "", "Path to a JSON file containing task groups (and optionally constraints)")
	jobSubmitCmd.Flags().String("template", "", "Template ID to seed the job from")
	jobUpdateCmd.Flags().String("file", "", "Path to a JSON file containing task groups (and optionally constraints)")
}

func newClient(cmd *cobra.Command) *client.Client {
	addr, _ := cmd.Root().PersistentFlags().GetString("addr")
	return client.New(addr)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type jobSpecFile struct {
	TaskGroups  []types.TaskGroup  `json:"task_groups"`
	Constraints []types.Constraint `json:"constraints,omitempty"`
}

func readJobSpec(path string) ([]types.TaskGroup, []types.Constraint, error) {
	if path == "" {
		return nil, nil, fmt.Errorf("--file is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read job spec: %w", err)
	}
	var spec jobSpecFile
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, nil, fmt.Errorf("parse job spec: %w", err)
	}
	return spec.TaskGroups, spec.Constraints, nil
}
