// Command extract-frames saves every Nth frame of a video as a JPEG, for
// building calibration and training sets.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/banshee-data/tankwatch/internal/frames"
	"github.com/banshee-data/tankwatch/internal/vision"
)

var (
	videoPath = flag.String("video", "", "Input video file")
	outDir    = flag.String("out", "frames", "Output directory")
	every     = flag.Int("every", 10, "Save one frame out of every N")
)

// frameName is "<video base name>_frame_<n>.jpg", n counting saved frames.
func frameName(video string, n int) string {
	base := strings.TrimSuffix(filepath.Base(video), filepath.Ext(video))
	return fmt.Sprintf("%s_frame_%d.jpg", base, n)
}

// extract reads src to the end and writes frames 0, every, 2*every... to
// outDir. It returns the number of frames saved.
func extract(src frames.Source, w frames.ImageWriter, video, outDir string, every int) (int, error) {
	if every < 1 {
		return 0, fmt.Errorf("-every must be at least 1, got %d", every)
	}
	saved := 0
	for index := 0; ; index++ {
		f, err := src.Read()
		if errors.Is(err, io.EOF) {
			return saved, nil
		}
		if err != nil {
			return saved, err
		}
		if index%every == 0 {
			err = w.WriteImage(filepath.Join(outDir, frameName(video, saved)), f)
			if err == nil {
				saved++
			}
		}
		f.Close()
		if err != nil {
			return saved, err
		}
	}
}

func main() {
	flag.Parse()
	if *videoPath == "" {
		log.Fatal("-video is required")
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatal(err)
	}

	src, err := vision.OpenVideo(*videoPath)
	if err != nil {
		log.Fatalf("failed to open %s: %v", *videoPath, err)
	}
	defer src.Close()

	n, err := extract(src, vision.ImageIO{}, *videoPath, *outDir, *every)
	if err != nil {
		log.Fatalf("extract failed after %d frames: %v", n, err)
	}
	fmt.Printf("%d frames saved from %s\n", n, filepath.Base(*videoPath))
}
