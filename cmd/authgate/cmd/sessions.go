package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/terraconstructs/authgate/internal/db/bunx"
	"github.com/terraconstructs/authgate/internal/db/models"
	"github.com/terraconstructs/authgate/internal/repository"
	"github.com/terraconstructs/authgate/internal/services/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and purge sessions in the session database",
}

var sessionsListUser string

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List live sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer bunx.Close(db)

		repo := repository.NewBunSessionRepository(db)
		ctx := cmd.Context()

		var list []models.Session
		if sessionsListUser != "" {
			list, err = repo.ListByUsername(ctx, sessionsListUser)
		} else {
			list, err = repo.List(ctx)
		}
		if err != nil {
			return fmt.Errorf("failed to list sessions: %w", err)
		}

		if len(list) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No sessions")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tUSER\tAUTH TYPE\tLAST USED\tEXPIRES")
		for _, s := range list {
			user := s.Username
			if user == "" {
				user = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				s.ID, user, s.AuthType,
				s.LastUsedAt.Format(time.RFC3339), s.ExpiresAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var sessionsPurgeExpiredOnly bool

var sessionsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete sessions",
	Long:  `Deletes every session, or with --expired only those past their expiry.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer bunx.Close(db)

		repo := repository.NewBunSessionRepository(db)
		ctx := cmd.Context()

		var removed int
		if sessionsPurgeExpiredOnly {
			removed, err = session.NewManager(repo, session.Options{Logger: logger}).Sweep(ctx)
		} else {
			removed, err = repo.DeleteAll(ctx)
		}
		if err != nil {
			return fmt.Errorf("failed to purge sessions: %w", err)
		}

		logger.Info("purged sessions", zap.Int("removed", removed), zap.Bool("expired_only", sessionsPurgeExpiredOnly))
		return nil
	},
}

func init() {
	sessionsListCmd.Flags().StringVar(&sessionsListUser, "user", "", "Only list sessions of this user")
	sessionsPurgeCmd.Flags().BoolVar(&sessionsPurgeExpiredOnly, "expired", false, "Only delete expired sessions")

	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsPurgeCmd)
}
