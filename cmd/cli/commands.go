package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wadjakorntonsri/go-shortlink/pkg/adapters/scanner"
	"github.com/wadjakorntonsri/go-shortlink/pkg/core/domain"
	"github.com/wadjakorntonsri/go-shortlink/pkg/ports"
)

func (c *cli) exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Dump every shortlink as JSON to stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			links, err := c.repo.Dump(cmd.Context())
			if err != nil {
				return fmt.Errorf("export failed: %w", err)
			}

			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(links)
		},
	}
}

func (c *cli) importCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Insert shortlinks from an export file, skipping existing shortIDs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()

			var links []domain.ShortLink
			if err := json.NewDecoder(f).Decode(&links); err != nil {
				return fmt.Errorf("decode %s: %w", file, err)
			}

			imported, skipped := c.importLinks(cmd.Context(), links)
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d links, skipped %d\n", imported, skipped)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON file produced by export")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func (c *cli) importLinks(ctx context.Context, links []domain.ShortLink) (imported, skipped int) {
	for _, l := range links {
		l.ID = 0
		if l.Created.IsZero() {
			l.Created = time.Now().UTC()
		}
		// owners only carry over into a store that knows them
		if l.OwnerID != nil {
			if _, err := c.repo.GetUser(ctx, *l.OwnerID); err != nil {
				c.log.Warn("dropping unknown owner", zap.String("short_id", l.ShortID), zap.Int64("owner", *l.OwnerID))
				l.OwnerID = nil
			}
		}

		err := c.repo.Create(ctx, &l)
		switch {
		case errors.Is(err, domain.ErrConflict):
			c.log.Info("skipping existing shortID", zap.String("short_id", l.ShortID))
			skipped++
		case err != nil:
			c.log.Error("failed to import", zap.String("short_id", l.ShortID), zap.Error(err))
			skipped++
		default:
			imported++
		}
	}
	return imported, skipped
}

func (c *cli) unblockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unblock <shortID>",
		Short: "Clear the blocked flag set by a failed scan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			link, err := c.repo.GetByShortID(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("shortlink %q: %w", args[0], err)
			}
			if !link.IsBlocked {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is not blocked\n", link.ShortID)
				return nil
			}
			if err := c.repo.ClearBlocked(cmd.Context(), link.ID); err != nil {
				return err
			}
			if c.redirects != nil {
				c.redirects.Invalidate(cmd.Context(), link.ShortID)
			}
			c.log.Info("link unblocked", zap.String("short_id", link.ShortID), zap.Int64("link_id", link.ID))
			fmt.Fprintf(cmd.OutOrStdout(), "%s unblocked\n", link.ShortID)
			return nil
		},
	}
}

func (c *cli) scanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan <shortID>",
		Short: "Scan one link now and block it if the verdict fails",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts []scanner.Option
			if c.redirects != nil {
				opts = append(opts, scanner.WithRedirectCache(c.redirects))
			}
			s := scanner.New(c.cfg.Scan, c.repo, c.log, opts...)
			if !s.Enabled() {
				return scanner.ErrDisabled
			}

			link, err := c.repo.GetByShortID(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("shortlink %q: %w", args[0], err)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), c.cfg.Scan.Interval*time.Duration(c.cfg.Scan.MaxAttempts)+time.Minute)
			defer cancel()

			res, err := s.Run(ctx, ports.ScanJob{LinkID: link.ID, ShortID: link.ShortID, Destination: link.Destination})
			if err != nil {
				return fmt.Errorf("scan %s: %w", link.ShortID, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %q %s: %s (blocked: %t)\n",
				link.ShortID, link.DisplayName(), link.Destination, res.Verdict, res.Blocked)
			return nil
		},
	}
}
