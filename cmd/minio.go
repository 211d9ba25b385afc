package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"KeyShift/config"
	"KeyShift/storage"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	minioStats bool
	minioPurge bool
)

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "Inspect the MinIO track mirror",
	Long:  `List mirrored tracks, show bucket statistics, or purge every mirrored track.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		if cfg.MinioEndpoint == "" {
			return fmt.Errorf("MINIO_ENDPOINT is not set; the mirror is disabled")
		}
		fmt.Printf("MinIO: %s, bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		mirror, err := storage.NewMirror(ctx, minioOptions(cfg))
		if err != nil {
			return err
		}

		if minioPurge {
			n, err := mirror.Purge(ctx)
			fmt.Printf("Removed %d mirrored tracks.\n", n)
			return err
		}

		objects, stats, err := mirror.List(ctx)
		if err != nil {
			return err
		}

		if !minioStats {
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "OBJECT\tSIZE\tKEY\tMODIFIED")
			for _, o := range objects {
				key := o.TrackKey
				if key == "" {
					key = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", o.Key, humanize.Bytes(uint64(o.Size)), key, humanize.Time(o.LastModified))
			}
			tw.Flush()
		}

		fmt.Printf("\n%d objects, %s", stats.TotalObjects, humanize.Bytes(uint64(stats.TotalSize)))
		if !stats.LastModified.IsZero() {
			fmt.Printf(", last upload %s", humanize.Time(stats.LastModified))
		}
		fmt.Println()
		return nil
	},
}

func init() {
	minioCmd.Flags().BoolVarP(&minioStats, "stats", "s", false, "only print bucket statistics")
	minioCmd.Flags().BoolVar(&minioPurge, "purge", false, "delete every mirrored track")
	rootCmd.AddCommand(minioCmd)
}
