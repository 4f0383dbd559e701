package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/use-agent/mediagrab/media"
	"github.com/use-agent/mediagrab/models"
	"github.com/use-agent/mediagrab/scraper"
)

var grabCmd = &cobra.Command{
	Use:   "grab URL",
	Short: "Discover the media on a page and download it",
	Long: `Discover the media on a page and download it.

Without --pick every discovered record is downloaded. Use --list to only
print what was found.`,
	Example: `  mediagrab grab https://example.com/gallery --class photo --dest ./gallery
  mediagrab grab example.com/album --static --list
  mediagrab grab example.com/album --pick 0,3-5`,
	Args: cobra.ExactArgs(1),
	RunE: runGrab,
}

func init() {
	grabCmd.Flags().String("class", "", "Keep elements whose class contains this")
	grabCmd.Flags().String("id", "", "Keep elements whose id contains this")
	grabCmd.Flags().String("src", "", "Keep elements whose source URL contains this")
	grabCmd.Flags().Int("scrolls", -1, "Maximum scroll steps (default from MEDIAGRAB_MAX_SCROLLS)")
	grabCmd.Flags().StringSlice("kinds", nil, "Media kinds to collect: image, video")
	grabCmd.Flags().StringP("dest", "d", "", "Destination directory (default from MEDIAGRAB_DOWNLOAD_DIR)")
	grabCmd.Flags().StringArrayP("header", "H", nil, `Extra request header for the page, e.g. "Referer: https://example.com/"`)
	grabCmd.Flags().Bool("static", false, "Fetch the HTML without a browser")
	grabCmd.Flags().IntP("workers", "w", 0, "Concurrent downloads (default from MEDIAGRAB_DOWNLOAD_WORKERS)")
	grabCmd.Flags().String("pick", "", "Indices to download, e.g. 0,2,5-7")
	grabCmd.Flags().BoolP("list", "l", false, "List discovered media and exit")
	grabCmd.Flags().BoolP("quiet", "q", false, "No progress bar")
	rootCmd.AddCommand(grabCmd)
}

func runGrab(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	// Logs go to stderr so stdout stays readable.
	initLogger(cfg.Log, os.Stderr)

	flags := cmd.Flags()
	static, _ := flags.GetBool("static")
	listOnly, _ := flags.GetBool("list")
	quiet, _ := flags.GetBool("quiet")
	pick, _ := flags.GetString("pick")
	if w, _ := flags.GetInt("workers"); w > 0 {
		cfg.Download.Workers = w
	}
	dest, _ := flags.GetString("dest")
	if dest == "" {
		dest = cfg.Download.DefaultDir
	}
	scrolls, _ := flags.GetInt("scrolls")
	if scrolls < 0 {
		scrolls = cfg.Scraper.MaxScrolls
	}
	kindNames, _ := flags.GetStringSlice("kinds")
	kinds, err := parseKinds(kindNames)
	if err != nil {
		return err
	}
	headerLines, _ := flags.GetStringArray("header")
	headers, err := parseHeaders(headerLines)
	if err != nil {
		return err
	}
	var filter models.FilterSpec
	filter.ClassContains, _ = flags.GetString("class")
	filter.IDContains, _ = flags.GetString("id")
	filter.SrcContains, _ = flags.GetString("src")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := newServices(cfg, !static)
	if err != nil {
		return fmt.Errorf("initialise scraper: %w", err)
	}
	defer svc.Close()

	// ── 1. Discover ─────────────────────────────────────────────────
	mode := models.ModeBrowser
	if static {
		mode = models.ModeStatic
	}
	page, release, err := svc.pages.Open(ctx, mode, scraper.PageOptions{Headers: headers})
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	status := cmd.ErrOrStderr()
	start := time.Now()
	sess, err := svc.engine.FetchMedia(ctx, page, media.FetchRequest{
		URL:        args[0],
		Owner:      "cli",
		Filter:     filter.Trimmed(),
		MaxScrolls: scrolls,
		Kinds:      kinds,
		StatusFunc: func(line string) {
			if !quiet {
				fmt.Fprintln(status, line)
			}
		},
	})
	release()
	if err != nil {
		return err
	}

	records := sess.Records()
	fmt.Fprintf(out, "Found %d media in %s\n", len(records), time.Since(start).Round(time.Millisecond))
	if len(records) == 0 {
		return nil
	}
	printRecords(out, records)
	if listOnly {
		return nil
	}

	// ── 2. Select ───────────────────────────────────────────────────
	batch, err := pickBatch(sess, pick, dest)
	if err != nil {
		return err
	}
	if len(batch.Records) == 0 {
		return nil
	}

	// ── 3. Download ─────────────────────────────────────────────────
	var bar *progressbar.ProgressBar
	if !quiet {
		bar = newProgressBar(status)
	}
	var summary *models.Summary
	for ev := range media.StartDownload(ctx, svc.downloads, batch) {
		switch ev.Type {
		case media.EventProgress:
			if bar != nil {
				trackProgress(bar, ev.Progress)
			}
		case media.EventOutcome:
			if bar != nil {
				bar.Reset()
			}
			fmt.Fprintln(status, outcomeLine(ev.Outcome))
		case media.EventDone:
			if ev.Err != nil {
				err = ev.Err
			}
			summary = ev.Summary
		}
	}
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return err
	}

	var total int64
	for _, o := range summary.Outcomes {
		total += o.Bytes
	}
	fmt.Fprintf(out, "Downloaded %d, skipped %d, failed %d (%s) into %s\n",
		summary.Downloaded, summary.Skipped, summary.Failed, humanize.Bytes(uint64(total)), summary.DestDir)
	if summary.Failed > 0 {
		return fmt.Errorf("%d downloads failed", summary.Failed)
	}
	return ctx.Err()
}

func newProgressBar(w io.Writer) *progressbar.ProgressBar {
	return progressbar.NewOptions64(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

// trackProgress points the bar at the file p belongs to.
func trackProgress(bar *progressbar.ProgressBar, p *models.FileProgress) {
	total := p.Total
	if total <= 0 {
		total = -1
	}
	if bar.GetMax64() != total {
		bar.ChangeMax64(total)
	}
	bar.Describe(p.Label)
	bar.Set64(p.Current)
}

func outcomeLine(o *models.DownloadOutcome) string {
	switch o.Status {
	case models.StatusDownloaded:
		return fmt.Sprintf("  ok    %s (%s)", o.Path, humanize.Bytes(uint64(o.Bytes)))
	case models.StatusSkipped:
		return fmt.Sprintf("  skip  %s (%s)", o.URL, o.Reason)
	default:
		return fmt.Sprintf("  fail  %s: %s", o.URL, o.Error)
	}
}

func printRecords(w io.Writer, records []models.MediaRecord) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tKIND\tSIZE\tURL")
	for i, r := range records {
		size := "?"
		if r.SizeBytes != nil {
			size = humanize.Bytes(uint64(*r.SizeBytes))
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i, r.Kind, size, r.URL)
	}
	tw.Flush()
}

// pickBatch marks the records named by pick (all when empty) as selected
// and builds a batch that downloads them in the order given.
func pickBatch(sess *media.Session, pick, dest string) (media.Batch, error) {
	if pick == "" {
		sess.SelectAll(true)
		return sess.Pick(nil, nil, dest)
	}
	indices, err := parsePick(pick, sess.Len())
	if err != nil {
		return media.Batch{}, err
	}
	for _, i := range indices {
		sess.SetSelected(i, true)
	}
	return sess.Pick(indices, nil, dest)
}

// parsePick parses "0,2,5-7" into indices below n, keeping order and
// dropping repeats.
func parsePick(s string, n int) ([]int, error) {
	var out []int
	seen := make(map[int]bool)
	add := func(i int) error {
		if i < 0 || i >= n {
			return fmt.Errorf("index %d out of range [0,%d)", i, n)
		}
		if !seen[i] {
			seen[i] = true
			out = append(out, i)
		}
		return nil
	}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		a, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, fmt.Errorf("bad index %q", part)
		}
		b := a
		if isRange {
			if b, err = strconv.Atoi(strings.TrimSpace(hi)); err != nil || b < a {
				return nil, fmt.Errorf("bad range %q", part)
			}
		}
		for i := a; i <= b; i++ {
			if err := add(i); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// parseHeaders turns "Name: value" lines into a header map.
func parseHeaders(lines []string) (map[string]string, error) {
	if len(lines) == 0 {
		return nil, nil
	}
	headers := make(map[string]string, len(lines))
	for _, line := range lines {
		name, value, ok := strings.Cut(line, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("bad header %q, want \"Name: value\"", line)
		}
		headers[name] = strings.TrimSpace(value)
	}
	return headers, nil
}

func parseKinds(names []string) ([]models.MediaKind, error) {
	var kinds []models.MediaKind
	for _, name := range names {
		switch k := models.MediaKind(strings.ToLower(strings.TrimSpace(name))); k {
		case models.KindImage, models.KindVideo:
			kinds = append(kinds, k)
		default:
			return nil, fmt.Errorf("unknown media kind %q", name)
		}
	}
	if len(kinds) == 0 {
		kinds = []models.MediaKind{models.KindImage, models.KindVideo}
	}
	return kinds, nil
}
