// Command calibrate derives the pixels-per-centimetre factor from reference
// photos of fish of a known length.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/tankwatch/internal/config"
	"github.com/banshee-data/tankwatch/internal/detect"
	"github.com/banshee-data/tankwatch/internal/measure"
	"github.com/banshee-data/tankwatch/internal/vision"
)

const (
	defaultRealLengthCm = 8.0
	defaultMinConf      = 0.70
)

var (
	dir        = flag.String("dir", "calibration_images", "Directory of reference images")
	realCm     = flag.Float64("real-cm", defaultRealLengthCm, "Real length of the reference fish in cm")
	minConf    = flag.Float64("min-conf", defaultMinConf, "Minimum detector confidence for a fish to count")
	configPath = flag.String("config", "", "Config file for model settings; with -write the result is stored here")
	write      = flag.Bool("write", false, "Write px_per_cm into the config file")
)

var errNoSamples = errors.New("no fish passed the confidence threshold")

// imageFiles lists the .jpg, .jpeg and .png files in dir, sorted by name.
func imageFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// sampleLengths returns the head to tail length of every detection at or
// above minConf.
func sampleLengths(dets []measure.Detection, minConf float64) []float64 {
	var out []float64
	for _, d := range dets {
		if d.Confidence < minConf {
			continue
		}
		out = append(out, d.LengthPx())
	}
	return out
}

// pxPerCm is mean(lengthsPx) / realCm.
func pxPerCm(lengthsPx []float64, realCm float64) (float64, error) {
	if realCm <= 0 {
		return 0, fmt.Errorf("real length must be positive, got %f", realCm)
	}
	if len(lengthsPx) == 0 {
		return 0, errNoSamples
	}
	return stat.Mean(lengthsPx, nil) / realCm, nil
}

func main() {
	flag.Parse()

	cfg := config.Empty()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadOrEmpty(*configPath); err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	files, err := imageFiles(*dir)
	if err != nil {
		log.Fatalf("failed to list %s: %v", *dir, err)
	}
	if len(files) == 0 {
		log.Fatalf("no images found in %s", *dir)
	}

	if err := detect.InitRuntime(cfg.GetOnnxLibrary()); err != nil {
		log.Fatal(err)
	}
	defer detect.DestroyRuntime()
	detector, err := detect.NewONNXDetector(detect.ONNXConfig{
		ModelPath:     cfg.GetModelPath(),
		InputDim:      cfg.GetModelInputSize(),
		ConfThreshold: *minConf,
	})
	if err != nil {
		log.Fatalf("failed to load model: %v", err)
	}
	defer detector.Close()

	ctx := context.Background()
	var lengths []float64
	for _, path := range files {
		f, err := vision.ReadImage(path)
		if err != nil {
			log.Printf("skip %s: %v", path, err)
			continue
		}
		dets, err := detector.Detect(ctx, f)
		f.Close()
		if err != nil {
			log.Printf("skip %s: %v", path, err)
			continue
		}
		got := sampleLengths(dets, *minConf)
		for i, l := range got {
			fmt.Printf("%s fish %d: %.2f px\n", filepath.Base(path), i+1, l)
		}
		lengths = append(lengths, got...)
	}

	factor, err := pxPerCm(lengths, *realCm)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("samples: %d\nmean length: %.2f px\npx_per_cm: %.4f\n", len(lengths), factor*(*realCm), factor)

	if *write {
		if *configPath == "" {
			log.Fatal("-write needs -config")
		}
		cfg.PxPerCm = config.Float64(factor)
		if err := cfg.Save(*configPath); err != nil {
			log.Fatalf("failed to save config: %v", err)
		}
		fmt.Printf("wrote px_per_cm to %s\n", *configPath)
	}
}
