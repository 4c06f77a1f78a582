package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/daneel/olivaw/internal/config"
	"github.com/daneel/olivaw/pkg/session"
)

var sessionCleanupTTL time.Duration

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage persisted conversation sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		keys, err := store.List()
		if err != nil {
			return err
		}
		for _, key := range keys {
			fmt.Println(key)
		}
		return nil
	},
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete [key]",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		return store.Delete(cmd.Context(), args[0])
	},
}

var sessionCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete sessions idle longer than the TTL",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		deleted, err := store.Cleanup(cmd.Context(), sessionCleanupTTL)
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d session(s)\n", len(deleted))
		return nil
	},
}

func init() {
	sessionCleanupCmd.Flags().DurationVar(&sessionCleanupTTL, "ttl", 30*24*time.Hour, "idle time before a session is deleted")
	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionDeleteCmd)
	sessionCmd.AddCommand(sessionCleanupCmd)
	rootCmd.AddCommand(sessionCmd)
}

func openStore() (*session.Store, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	return session.New(filepath.Join(cfg.DataDir, "sessions"))
}
