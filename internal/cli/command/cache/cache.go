package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/thomas-vilte/releasepipe/internal/cache"
	"github.com/thomas-vilte/releasepipe/internal/config"
	"github.com/thomas-vilte/releasepipe/internal/i18n"
	"github.com/thomas-vilte/releasepipe/internal/ui"
	"github.com/urfave/cli/v3"
)

// shortKey is how many key characters `cache show` prints.
const shortKey = 16

type CacheCommand struct{}

func NewCacheCommand() *CacheCommand {
	return &CacheCommand{}
}

func (c *CacheCommand) CreateCommand(t *i18n.Translations, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: t.GetMessage("cache.usage", 0, nil),
		Commands: []*cli.Command{
			{
				Name:  "show",
				Usage: t.GetMessage("cache.show_usage", 0, nil),
				Action: func(ctx context.Context, cmd *cli.Command) error {
					buildCache, err := openCache(cfg)
					if err != nil {
						return fmt.Errorf(t.GetMessage("cache.error_init", 0, nil)+": %w", err)
					}

					entries, err := buildCache.Entries()
					if err != nil {
						return err
					}

					w := cmd.Root().Writer
					if len(entries) == 0 {
						ui.PrintInfo(w, t.GetMessage("cache.empty", 0, nil))
						return nil
					}

					ui.PrintKeyValue(w, "dir", buildCache.Dir())
					var total int64
					for _, entry := range entries {
						total += entry.Size
						key := entry.Key
						if len(key) > shortKey {
							key = key[:shortKey]
						}
						_, _ = fmt.Fprintf(w, "   %s  %-5s %10s  %s\n",
							color.New(color.FgWhite, color.Bold).Sprint(key),
							entry.Compression,
							formatSize(entry.Size),
							ui.Dim.Sprint(time.Since(entry.ModTime).Round(time.Minute).String()+" ago"))
					}
					ui.PrintKeyValue(w, "total", formatSize(total))
					return nil
				},
			},
			{
				Name:  "clean",
				Usage: t.GetMessage("cache.clean_usage", 0, nil),
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "expired",
						Usage: t.GetMessage("cache.expired_flag", 0, nil),
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					buildCache, err := openCache(cfg)
					if err != nil {
						return fmt.Errorf(t.GetMessage("cache.error_init", 0, nil)+": %w", err)
					}

					w := cmd.Root().Writer
					if cmd.Bool("expired") {
						removed, err := buildCache.CleanExpired()
						if err != nil {
							return fmt.Errorf(t.GetMessage("cache.error_clean", 0, nil)+": %w", err)
						}
						ui.PrintSuccess(w, t.GetMessage("cache.pruned", 0, map[string]interface{}{"Count": removed}))
						return nil
					}

					if err := buildCache.Clean(); err != nil {
						return fmt.Errorf(t.GetMessage("cache.error_clean", 0, nil)+": %w", err)
					}
					ui.PrintSuccess(w, t.GetMessage("cache.cleaned", 0, nil))
					return nil
				},
			},
		},
	}
}

func openCache(cfg *config.Config) (*cache.Cache, error) {
	return cache.NewCache(cfg.CacheDir(),
		cache.WithProjectDir(cfg.ProjectDir),
		cache.WithCompression(cfg.Cache.Compression),
		cache.WithTTL(cfg.Cache.TTL.Duration),
	)
}

func formatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(size)/float64(div), "KMGTPE"[exp])
}
