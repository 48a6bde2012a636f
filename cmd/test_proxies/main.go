package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Davis1233798/proxyfetch/internal/proxy"
)

var (
	limit  int
	sample int
	html   bool
)

var rootCmd = &cobra.Command{
	Use:   "test_proxies [proxy-file]",
	Short: "Load a proxy list and print a sample of it",
	Long: `test_proxies loads proxies the same way proxyfetch does, from a file
when one is given, from the hidemy.name table with --html and from the
public listings otherwise.`,
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		var src proxy.Source = proxy.NewAPISource(limit)
		if html {
			src = proxy.NewHTMLSource()
		}
		if len(args) == 1 {
			src = proxy.FileSource{Path: args[0]}
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		proxies, err := proxy.Collect(ctx, src)
		if err != nil {
			return err
		}
		fmt.Printf("Total proxies fetched: %d\n", len(proxies))

		// Print a few to verify format
		fmt.Println("Sample proxies:")
		for i := 0; i < sample && i < len(proxies); i++ {
			fmt.Println(proxies[i])
		}
		return nil
	},
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	rootCmd.Flags().IntVar(&limit, "limit", 10, "max proxies to take from the listings")
	rootCmd.Flags().IntVar(&sample, "sample", 5, "how many proxies to print")
	rootCmd.Flags().BoolVar(&html, "html", false, "scrape the hidemy.name table instead of the listings")
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
