package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"resumerag/types"
)

// Services is what ragctl drives.
type Services interface {
	IndexFile(ctx context.Context, path string) (types.Document, error)
	Delete(ctx context.Context, filename string) (bool, error)
	List(ctx context.Context) ([]types.Document, error)
	Reconcile(ctx context.Context) ([]string, error)
	Answer(ctx context.Context, sessionID, question string) (types.Answer, error)
}

// Opener builds the services on first use and returns a close function.
type Opener func(ctx context.Context) (Services, func() error, error)

// NewRootCmd returns the ragctl command tree.
func NewRootCmd(open Opener) *cobra.Command {
	var svc Services
	var closeFn func() error

	rootCmd := &cobra.Command{
		Use:           "ragctl",
		Short:         "Manage and query the resume index",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			s, c, err := open(cmd.Context())
			if err != nil {
				return err
			}
			svc, closeFn = s, c
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if closeFn == nil {
				return nil
			}
			return closeFn()
		},
	}

	services := func() Services { return svc }
	rootCmd.AddCommand(
		newIndexCmd(services),
		newDeleteCmd(services),
		newDocsCmd(services),
		newAskCmd(services),
		newReconcileCmd(services),
	)
	return rootCmd
}

func newIndexCmd(services func() Services) *cobra.Command {
	return &cobra.Command{
		Use:   "index [file]...",
		Short: "Index resume files (.pdf, .txt, .md)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var failed []error
			for _, path := range args {
				doc, err := services().IndexFile(cmd.Context(), path)
				if err != nil {
					cmd.PrintErrf("✗ %s: %v\n", path, err)
					failed = append(failed, err)
					continue
				}
				cmd.Printf("✓ %s → %s (%d vectors)\n", doc.Filename, doc.Namespace, doc.VectorCount)
			}
			if len(failed) > 0 {
				return fmt.Errorf("%d of %d files failed: %w", len(failed), len(args), errors.Join(failed...))
			}
			return nil
		},
	}
}

func newDeleteCmd(services func() Services) *cobra.Command {
	return &cobra.Command{
		Use:   "delete [filename]",
		Short: "Remove a document from the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deleted, err := services().Delete(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to delete document: %w", err)
			}
			if !deleted {
				cmd.Printf("No document named %s\n", args[0])
				return nil
			}
			cmd.Printf("Deleted %s\n", args[0])
			return nil
		},
	}
}

func newDocsCmd(services func() Services) *cobra.Command {
	return &cobra.Command{
		Use:   "docs",
		Short: "List indexed documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			docs, err := services().List(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list documents: %w", err)
			}
			if len(docs) == 0 {
				cmd.Println("No documents indexed")
				return nil
			}
			for _, d := range docs {
				cmd.Printf("  %-30s %-14s %5d vectors  %s\n", d.Filename, d.Namespace, d.VectorCount, d.IndexedAt.Format("2006-01-02 15:04"))
			}
			cmd.Printf("\nTotal: %d documents\n", len(docs))
			return nil
		},
	}
}

func newAskCmd(services func() Services) *cobra.Command {
	var (
		sessionID  string
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question about the indexed resumes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionID == "" {
				sessionID = uuid.NewString()
			}
			ans, err := services().Answer(cmd.Context(), sessionID, strings.Join(args, " "))
			if err != nil {
				return err
			}
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(ans)
			}

			cmd.Println(ans.Answer)
			cmd.Println()
			cmd.Printf("classification: %s  confidence: %.2f\n", ans.Classification, ans.Confidence)
			for _, src := range ans.Metadata.Sources {
				cmd.Printf("  [%.3f] %s #%d %s\n", src.Score, src.Filename, src.Index, src.Section)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Session id for conversation history")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the answer as JSON")
	return cmd
}

func newReconcileCmd(services func() Services) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Drop catalog entries whose vectors are gone",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			removed, err := services().Reconcile(cmd.Context())
			if err != nil {
				return err
			}
			if len(removed) == 0 {
				cmd.Println("Catalog is consistent")
				return nil
			}
			for _, f := range removed {
				cmd.Printf("Removed stale entry %s\n", f)
			}
			return nil
		},
	}
}
