package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/b4its/next-kepin/internal/models"
	"github.com/b4its/next-kepin/internal/session"
)

// library is the user's uploads joined with their stored results.
type library struct {
	user    *models.User
	uploads []models.UploadRecord
	ctrl    *session.Controller
}

func (a *app) library(ctx context.Context, opts ...session.Option) (*library, error) {
	user, err := a.requireUser(ctx)
	if err != nil {
		return nil, err
	}
	uploads, err := a.client.Uploads(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	records, err := a.client.FinancialData(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("list financial data: %w", err)
	}
	ctrl := session.New(a.client, opts...)
	ctrl.Load(uploads, records)
	return &library{user: user, uploads: uploads, ctrl: ctrl}, nil
}

func (l *library) find(id string) (models.UploadRecord, bool) {
	for _, u := range l.uploads {
		if u.ID.String() == id {
			return u, true
		}
	}
	return models.UploadRecord{}, false
}

func uploadsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uploads",
		Short: "List uploaded documents and their analysis status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			lib, err := a.library(cmd.Context())
			if err != nil {
				return err
			}
			defer lib.ctrl.Close()

			if len(lib.uploads) == 0 {
				fmt.Println(InfoStyle.Render("No uploads yet. Use 'kepin upload <file>' to add one."))
				return nil
			}
			fmt.Println(renderUploads(lib.uploads, lib.ctrl))
			return nil
		},
	}
}

func uploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a PDF, image or Excel statement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			user, err := a.requireUser(cmd.Context())
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			resp, err := a.client.Upload(cmd.Context(), user.ID, filepath.Base(args[0]), f)
			if err != nil {
				return err
			}
			fmt.Println(SuccessStyle.Render(resp.Message+": "+resp.FileName) + " " + SubtleStyle.Render("id "+resp.ID))
			if !models.Analyzable(resp.FileType, resp.FileName) {
				fmt.Println(WarningStyle.Render("Spreadsheets are stored but cannot be analyzed."))
			}
			return nil
		},
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an upload and its analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			if _, err := a.requireUser(cmd.Context()); err != nil {
				return err
			}
			if err := a.client.DeleteUpload(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println(SuccessStyle.Render("Deleted " + args[0]))
			return nil
		},
	}
}

func showCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show the analysis result of an upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			lib, err := a.library(cmd.Context())
			if err != nil {
				return err
			}
			defer lib.ctrl.Close()

			u, ok := lib.find(args[0])
			if !ok {
				return fmt.Errorf("upload %s not found", args[0])
			}
			result, ok := lib.ctrl.Result(args[0])
			if !ok {
				fmt.Println(InfoStyle.Render(u.FileName + " has not been analyzed yet. Run 'kepin analyze " + args[0] + "'."))
				return nil
			}
			fmt.Println(SubtleStyle.Render(u.FileName))
			fmt.Print(renderResult(result, all))
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "show every breakdown row")
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show upload and analysis counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			user, err := a.requireUser(cmd.Context())
			if err != nil {
				return err
			}
			stats, err := a.client.Stats(cmd.Context(), user.ID)
			if err != nil {
				return err
			}
			fmt.Println(renderStats(stats))
			return nil
		},
	}
}
