package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	sbd "github.com/rachelsunqh/secure-block-device"
	"github.com/rachelsunqh/secure-block-device/internal/base"
)

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <path>",
		Short: "Print a device image's header fields without validating its Merkle root",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := base.OpenFileStore(args[0])
			if err != nil {
				return err
			}
			defer store.Close()

			info, err := sbd.InspectHeader(store)
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"field", "value"})
			table.Append([]string{"version", fmt.Sprintf("%d", info.Version)})
			table.Append([]string{"variant", info.Variant.String()})
			table.Append([]string{"entries_per_mngt", fmt.Sprintf("%d", info.EntriesPerMngt)})
			table.Append([]string{"mngt_high_water", fmt.Sprintf("%d", info.MngtHighWater)})
			table.Append([]string{"nonce", hex.EncodeToString(info.Nonce[:])})
			table.Render()
			return nil
		},
	}
	return cmd
}
