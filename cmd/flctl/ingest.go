package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/your-org/facelinker/internal/app"
	"github.com/your-org/facelinker/internal/ingest"
)

var ingestParallelism int

var ingestCmd = &cobra.Command{
	Use:   "ingest <event-id> <dir>",
	Short: "Ingest every photo in a directory into an event",
	Long: `Runs each .png/.jpg/.jpeg file in <dir> through face detection and
identity resolution, exactly as an upload would. Other files are skipped.`,
	Args: cobra.ExactArgs(2),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().IntVar(&ingestParallelism, "parallelism", 0, "images processed concurrently (default ingest.parallelism)")
	rootCmd.AddCommand(ingestCmd)
}

// photoFiles returns the supported image files directly inside dir, sorted by name.
func photoFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, err := ingest.ValidateFilename(e.Name()); err != nil {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	return files, nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	eventID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid event id: %w", err)
	}
	dir := args[1]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if ingestParallelism <= 0 {
		ingestParallelism = cfg.Ingest.Parallelism
	}
	ctx := cmd.Context()

	files, err := photoFiles(dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Println("No photos to ingest.")
		return nil
	}

	svc, err := app.Build(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer svc.Close()

	ev, err := svc.Ledger.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}

	fmt.Printf("Ingesting %d photos into %q\n\n", len(files), ev.Title)

	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetDescription("Resolving faces"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("photos"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	var (
		mu                        sync.Mutex
		succeeded, faces, created int
		failedFaces, discarded    int
		failures                  []string
	)

	var g errgroup.Group
	g.SetLimit(ingestParallelism)
	for _, name := range files {
		g.Go(func() error {
			defer func() { _ = bar.Add(1) }()

			data, err := os.ReadFile(filepath.Join(dir, name))
			if err == nil {
				ext, _ := ingest.ValidateFilename(name)
				var report *ingest.Report
				report, err = svc.Pipeline.Ingest(ctx, ingest.Request{
					Event:   ev,
					ImageID: ingest.NewImageID(ext),
					Data:    data,
				})
				if report != nil {
					mu.Lock()
					faces += len(report.Resolutions)
					failedFaces += len(report.Failures)
					discarded += report.Discarded
					for _, r := range report.Resolutions {
						if r.Created {
							created++
						}
					}
					mu.Unlock()
				}
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, fmt.Sprintf("%s: %v", name, err))
				return nil
			}
			succeeded++
			return nil
		})
	}
	_ = g.Wait()
	_ = bar.Finish()

	fmt.Printf("\n\nPhotos ingested: %d/%d\n", succeeded, len(files))
	fmt.Printf("Faces resolved:  %d (%d new identities)\n", faces, created)
	if discarded > 0 {
		fmt.Printf("Low confidence:  %d\n", discarded)
	}
	if failedFaces > 0 {
		fmt.Printf("Failed faces:    %d\n", failedFaces)
	}
	if len(failures) > 0 {
		sort.Strings(failures)
		fmt.Println("\nFailed photos:")
		for _, f := range failures {
			fmt.Printf("  %s\n", f)
		}
		return fmt.Errorf("%d of %d photos failed", len(failures), len(files))
	}
	return nil
}
