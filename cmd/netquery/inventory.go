package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Diegomcha/netquery/internal/inventory"
)

var inventoryFiles []string

func init() {
	inventoryCmd := &cobra.Command{
		Use:   "inventory",
		Short: "Inspect inventory files",
	}
	inventoryCmd.PersistentFlags().StringSliceVarP(&inventoryFiles, "inventory", "i", nil, "inventory file; repeatable")
	inventoryCmd.MarkPersistentFlagRequired("inventory")

	// groups command
	groupsCmd := &cobra.Command{
		Use:   "groups",
		Short: "List groups with their device count",
		Args:  cobra.NoArgs,
		RunE:  runInventoryGroups,
	}
	inventoryCmd.AddCommand(groupsCmd)

	// devices command
	devicesCmd := &cobra.Command{
		Use:   "devices GROUP",
		Short: "List the devices of a group",
		Args:  cobra.ExactArgs(1),
		RunE:  runInventoryDevices,
	}
	inventoryCmd.AddCommand(devicesCmd)

	rootCmd.AddCommand(inventoryCmd)
}

func runInventoryGroups(cmd *cobra.Command, args []string) error {
	inv, err := inventory.LoadFiles(inventoryFiles...)
	if err != nil {
		return err
	}

	sizes := inv.GroupSizes()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "GROUP\tDEVICES")
	for _, name := range inv.GroupNames() {
		fmt.Fprintf(w, "%s\t%d\n", name, sizes[name])
	}
	return w.Flush()
}

func runInventoryDevices(cmd *cobra.Command, args []string) error {
	inv, err := inventory.LoadFiles(inventoryFiles...)
	if err != nil {
		return err
	}

	devices, err := inv.Devices(args[0])
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FILE\tLABEL\tADDRESS\tHOSTNAME\tDEVICE TYPE")
	for _, d := range devices {
		deviceType := d.DeviceType
		if deviceType == "" {
			deviceType = cfg.Orchestrator.DefaultDeviceType
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", d.File, d.Label, d.Address, d.Hostname, deviceType)
	}
	return w.Flush()
}
