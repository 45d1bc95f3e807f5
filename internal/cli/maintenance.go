package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cityfam/cityfam/internal/attendance"
	"github.com/cityfam/cityfam/internal/database"
	"github.com/cityfam/cityfam/internal/model"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			// Opening a store applies the schema.
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "%s schema is up to date\n", store.DatabaseType())
			return nil
		},
	}
}

func recountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recount",
		Short: "Repair attendee and member counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			events, err := attendance.NewService(store, log).RecountAttendees(ctx)
			if err != nil {
				return err
			}
			branches, err := store.RecountBranchMembers(ctx)
			if err != nil {
				return fmt.Errorf("recount members: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "repaired %d events, %d branches\n", events, branches)
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load branches and branch feeds from a YAML file",
		Long: `Load branches and branch feeds from a YAML file. Existing records are kept.

Example file:
  branches:
    - id: austin-tx
      city: Austin
      state: TX
  feeds:
    - branch: austin-tx
      url: https://example.com/news.rss`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()
			fixture, err := parseFixture(f)
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			res, err := applyFixture(ctx, store, fixture)
			if err != nil {
				return err
			}
			log.WithFields(logrus.Fields{"branches": res.Branches, "feeds": res.Feeds}).Info("seed applied")
			fmt.Fprintf(cmd.OutOrStdout(), "added %d branches, %d feeds\n", res.Branches, res.Feeds)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML fixture file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// fixture is the seed file layout.
type fixture struct {
	Branches []struct {
		ID    string `yaml:"id"`
		City  string `yaml:"city"`
		State string `yaml:"state"`
	} `yaml:"branches"`
	Feeds []struct {
		Branch string `yaml:"branch"`
		URL    string `yaml:"url"`
		Title  string `yaml:"title"`
	} `yaml:"feeds"`
}

func parseFixture(r io.Reader) (*fixture, error) {
	var fx fixture
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fx); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	for i, b := range fx.Branches {
		if b.ID == "" || b.City == "" || b.State == "" {
			return nil, fmt.Errorf("branch %d: id, city and state are required", i+1)
		}
	}
	for i, f := range fx.Feeds {
		if f.Branch == "" || f.URL == "" {
			return nil, fmt.Errorf("feed %d: branch and url are required", i+1)
		}
	}
	return &fx, nil
}

type seedResult struct {
	Branches int
	Feeds    int
}

// applyFixture inserts what is missing in one transaction.
func applyFixture(ctx context.Context, store database.Store, fx *fixture) (seedResult, error) {
	var res seedResult
	err := store.RunInTx(ctx, func(q database.Queries) error {
		for _, b := range fx.Branches {
			// Look first: a failed insert aborts a PostgreSQL transaction.
			_, err := q.GetBranch(ctx, b.ID)
			if err == nil {
				continue
			}
			if !errors.Is(err, database.ErrNotFound) {
				return fmt.Errorf("branch %s: %w", b.ID, err)
			}
			if err := q.CreateBranch(ctx, &model.Branch{ID: b.ID, City: b.City, State: b.State}); err != nil {
				return fmt.Errorf("branch %s: %w", b.ID, err)
			}
			res.Branches++
		}
		for _, f := range fx.Feeds {
			if _, err := q.GetBranch(ctx, f.Branch); err != nil {
				return fmt.Errorf("feed %s: branch %s: %w", f.URL, f.Branch, err)
			}
			_, created, err := q.GetOrCreateBranchFeed(ctx, f.Branch, f.Title, f.URL)
			if err != nil {
				return fmt.Errorf("feed %s: %w", f.URL, err)
			}
			if created {
				res.Feeds++
			}
		}
		return nil
	})
	return res, err
}
