package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/eddielth/bambu-status/cloud"
)

// devicesCmd lists the account's printers, handy for finding the serial
var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List printers bound to the cloud account",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.RequireCloudAccount(); err != nil {
			return err
		}

		devices, err := cloud.NewClient(cfg.Cloud).Devices(cmd.Context())
		if err != nil {
			return err
		}
		if len(devices) == 0 {
			fmt.Println("No printers bound to this account.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SERIAL\tNAME\tMODEL\tONLINE\tSTATUS")
		for _, d := range devices {
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", d.DevID, d.Name, d.DevModelName, d.Online, d.PrintStatus)
		}
		return w.Flush()
	},
}
