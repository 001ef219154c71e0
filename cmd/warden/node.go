package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Node operations",
}

var nodeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered nodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		nodes, err := c.ListNodes(context.Background())
		if err != nil {
			return fmt.Errorf("list nodes: %w", err)
		}
		if len(nodes) == 0 {
			fmt.Println("No nodes found")
			return nil
		}
		fmt.Printf("%-20s %-10s %-22s %-16s %s\n", "NODE ID", "HEALTHY", "RESOURCES (cpu/mem)", "ENDPOINT", "ALLOCATIONS")
		for _, n := range nodes {
			resources := fmt.Sprintf("%d/%d", n.Resources.CPU-n.Resources.CPUUsed, n.Resources.Memory-n.Resources.MemoryUsed)
			fmt.Printf("%-20s %-10t %-22s %-16s %d\n", n.ID, n.Healthy, resources, n.Endpoint, len(n.Allocations))
		}
		return nil
	},
}

func init() {
	nodeCmd.AddCommand(nodeListCmd)
}
