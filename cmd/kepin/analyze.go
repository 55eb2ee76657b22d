package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/b4its/next-kepin/internal/models"
	"github.com/b4its/next-kepin/internal/session"
)

// maxParallelAnalyses matches the backend's default per-user burst.
const maxParallelAnalyses = 2

func analyzeCmd() *cobra.Command {
	var (
		modeName string
		all      bool
		showAll  bool
	)
	cmd := &cobra.Command{
		Use:   "analyze [id...]",
		Short: "Run a streamed analysis on uploads",
		Long: `Analyze one or more uploads with the fast, normal or deep mode. With --all
every analyzable upload without a result is analyzed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := models.ParseMode(modeName)
			if err != nil {
				return err
			}
			if len(args) == 0 && !all {
				return errors.New("name at least one upload id or pass --all")
			}
			a, err := newApp()
			if err != nil {
				return err
			}
			return runAnalyze(cmd.Context(), a, mode, args, all, showAll)
		},
	}
	cmd.Flags().StringVarP(&modeName, "mode", "m", string(models.ModeNormal), "analysis mode (fast, normal, deep)")
	cmd.Flags().BoolVar(&all, "all", false, "analyze every pending upload")
	cmd.Flags().BoolVar(&showAll, "show-all", false, "show every breakdown row of the results")
	return cmd
}

func runAnalyze(ctx context.Context, a *app, mode models.Mode, ids []string, all, showAll bool) error {
	bar := progressbar.NewOptions64(-1,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("[cyan]"+mode.Label()+"[reset]"),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionClearOnFinish(),
	)
	var out sync.Mutex
	notify := session.NotifierFunc(func(_ context.Context, n session.Notice) {
		out.Lock()
		defer out.Unlock()
		_ = bar.Clear()
		style := SuccessStyle
		if n.Level == session.LevelError {
			style = ErrorStyle
		}
		fmt.Fprintln(os.Stderr, style.Render(n.FileName+": "+n.Message))
	})

	lib, err := a.library(ctx,
		session.WithNotifier(notify),
		session.WithDeltaHook(func(_, delta string) { _ = bar.Add(len(delta)) }),
	)
	if err != nil {
		return err
	}
	defer lib.ctrl.Close()

	targets, err := selectTargets(lib, ids, all)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		fmt.Println(InfoStyle.Render("Nothing to analyze."))
		return nil
	}

	var (
		mu       sync.Mutex
		outcomes = make(map[string]session.Outcome, len(targets))
	)
	var g errgroup.Group
	g.SetLimit(maxParallelAnalyses)
	for _, u := range targets {
		g.Go(func() error {
			id := u.ID.String()
			if err := lib.ctrl.Start(ctx, session.Request{Upload: u, UserID: lib.user.ID, Mode: mode}); err != nil {
				mu.Lock()
				outcomes[id] = session.Outcome{UploadID: id, State: session.StateFailed, Err: err, Message: err.Error()}
				mu.Unlock()
				return nil
			}
			res, err := lib.ctrl.Wait(ctx, id)
			if err != nil {
				return err
			}
			mu.Lock()
			outcomes[id] = res
			mu.Unlock()
			return nil
		})
	}
	waitErr := g.Wait()
	_ = bar.Finish()
	if waitErr != nil {
		return waitErr
	}

	failed := 0
	for _, u := range targets {
		res := outcomes[u.ID.String()]
		if res.State != session.StateSucceeded {
			failed++
			if res.Err != nil && !isNotified(res) {
				fmt.Fprintln(os.Stderr, ErrorStyle.Render(u.FileName+": "+res.Message))
			}
			continue
		}
		fmt.Println(SubtleStyle.Render(u.FileName))
		fmt.Print(renderResult(res.Result, showAll))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d analyses failed", failed, len(targets))
	}
	return nil
}

// isNotified reports whether the controller already told the user about
// the outcome. Sessions that never started produce no notice.
func isNotified(o session.Outcome) bool {
	return o.Mode != ""
}

func selectTargets(lib *library, ids []string, all bool) ([]models.UploadRecord, error) {
	if all {
		var out []models.UploadRecord
		for _, u := range lib.uploads {
			if _, done := lib.ctrl.Result(u.ID.String()); !done && u.Analyzable() {
				out = append(out, u)
			}
		}
		return out, nil
	}

	out := make([]models.UploadRecord, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		u, ok := lib.find(id)
		if !ok {
			return nil, fmt.Errorf("upload %s not found", id)
		}
		out = append(out, u)
	}
	return out, nil
}
