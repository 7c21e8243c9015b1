package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// newCrawlCmd creates the 'crawl' subcommand. Its flags override the
// matching configuration keys.
func newCrawlCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one crawl in the configured mode",
		Long: `Runs a single crawl: keyword search, specific notes (detail) or creator
timelines. When server.enabled is set the operator API is served for the
duration of the crawl.`,
		Example: `  notecrawler crawl --mode search --keywords "coffee,latte art"
  notecrawler crawl --mode detail --ids 6422c2750000000027000d88
  notecrawler crawl --config crawl.yaml --mode creator --creators 5f58bd990000000001003753`,
		RunE: runCrawlCommand,
	}
	flags := cmd.Flags()
	flags.String("mode", "", "crawl mode: search, detail or creator")
	flags.String("keywords", "", "comma separated search keywords")
	flags.String("ids", "", "comma separated note IDs for detail mode")
	flags.String("creators", "", "comma separated creator IDs for creator mode")
	flags.Int("max-notes", 0, "notes to request per keyword")
	flags.Bool("comments", true, "crawl comments of every saved note")
	flags.String("sink", "", "result sink: none, memory, json, sqlite, postgres or gcs")
	bindFlags(v, flags, map[string]string{
		"crawler.mode":            "mode",
		"crawler.keywords":        "keywords",
		"crawler.specified_ids":   "ids",
		"crawler.creator_ids":     "creators",
		"crawler.max_notes":       "max-notes",
		"crawler.enable_comments": "comments",
		"sink.provider":           "sink",
	})
	return cmd
}

// bindFlags binds config keys to flags. Unset flags fall through to the
// environment, the config file and the defaults.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	stopServer := appInstance.ServeInBackground()
	defer stopServer(context.WithoutCancel(cmd.Context()))

	runID, err := appInstance.Crawl(cmd.Context())
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run crawler: %w", err)
	}
	zap.L().Info("crawl command finished", zap.String("run_id", runID.String()))
	return nil
}
