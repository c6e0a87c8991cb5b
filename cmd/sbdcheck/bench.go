package main

import (
	"fmt"
	"time"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	sbd "github.com/rachelsunqh/secure-block-device"
	"github.com/rachelsunqh/secure-block-device/internal/base"
)

func newBenchCmd() *cobra.Command {
	var n int
	var variant, keyHex string

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark write/sync latency against an in-memory device",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, key, err := parseVariantAndKey(variant, keyHex)
			if err != nil {
				return err
			}
			store := base.NewMemStore()
			var zero [base.RootSize]byte
			d, err := sbd.Open(store, sbd.Options{Variant: v, Key: key, CacheCapacity: 64}, zero)
			if err != nil {
				return err
			}
			defer d.Close()

			block := make([]byte, base.BlockSize)
			series := make([]float64, 0, n)
			for i := 0; i < n; i++ {
				block[0] = byte(i)
				start := time.Now()
				if err := d.WriteDataBlock(uint32(i), 0, base.BlockSize, block); err != nil {
					return err
				}
				series = append(series, float64(time.Since(start).Microseconds()))
			}
			if err := d.Sync(); err != nil {
				return err
			}

			fmt.Println(asciigraph.Plot(series, asciigraph.Height(10), asciigraph.Caption("write latency (us)")))

			stats := d.Stats()
			fmt.Printf("write p50=%dus p99=%dus max=%dus\n", stats.WriteP50, stats.WriteP99, stats.WriteMax)
			fmt.Printf("sync  p50=%dus p99=%dus max=%dus\n", stats.SyncP50, stats.SyncP99, stats.SyncMax)
			return nil
		},
	}
	cmd.Flags().IntVar(&n, "n", 256, "number of blocks to write")
	cmd.Flags().StringVar(&variant, "variant", "none", "crypto variant: none|siv|hmac")
	cmd.Flags().StringVar(&keyHex, "key-hex", "", "hex-encoded envelope key")
	return cmd
}
