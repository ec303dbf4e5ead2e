package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"urlscan/packages/feed"
)

type feedCommand struct {
	use    string
	short  string
	source feed.Source
}

var (
	feedOpenPhish = feedCommand{use: "open-phish-file", short: "Download the OpenPhish public feed", source: feed.OpenPhish}
	feedCERT      = feedCommand{use: "cert-file", short: "Download the CERT Polska domain list as http:// URLs", source: feed.CERT}
)

func newFeedCmd(fc feedCommand) *cobra.Command {
	var output, sourceURL string
	cmd := &cobra.Command{
		Use:   fc.use,
		Short: fc.short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			src := fc.source
			if sourceURL != "" {
				src.URL = sourceURL
			}
			if output == "" {
				output = src.DefaultFile
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "Getting urls sample from %s...\n", src.Name)
			urls, err := feed.NewFetcher(a.cfg.FetchTimeout*3, a.cfg.UserAgent, a.logger).Fetch(cmd.Context(), src)
			if err != nil {
				return err
			}
			if err := feed.WriteFile(output, urls); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d urls to %s\n", len(urls), output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", fmt.Sprintf("Output file (default %s)", fc.source.DefaultFile))
	cmd.Flags().StringVar(&sourceURL, "url", "", "Download from this URL instead of the public feed")
	return cmd
}
