package report

import (
	"encoding/csv"
	"fmt"
	"strconv"

	"github.com/banshee-data/tankwatch/internal/decision"
	"github.com/banshee-data/tankwatch/internal/fsutil"
)

var (
	imageHeader = []string{"run_id", "fish_id", "confidence", "length_px", "length_cm"}
	videoHeader = []string{"run_id", "frame", "fish_id", "length_px", "length_cm"}
)

// WriteCSV writes one row per record. The columns depend on the run mode.
func WriteCSV(fs fsutil.FileSystem, path string, records []decision.Record, mode decision.Mode) (err error) {
	f, err := fs.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()

	w := csv.NewWriter(f)
	header := imageHeader
	if mode == decision.ModeVideo {
		header = videoHeader
	}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, r := range records {
		var row []string
		if mode == decision.ModeVideo {
			row = []string{r.RunID, u(r.Frame), u(r.FishID), f2(r.LengthPx), f2(r.LengthCm)}
		} else {
			row = []string{r.RunID, u(r.FishID), strconv.FormatFloat(r.Confidence, 'f', 4, 64), f2(r.LengthPx), f2(r.LengthCm)}
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func u(v uint64) string    { return strconv.FormatUint(v, 10) }
func f2(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }
