// Command saliency runs the diagnosis pipeline on one image file, and writes the overlay PNG.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/VedantVichare/AI-XRAY-DIAGNOSIS/pkg/diagnosis"
	"github.com/VedantVichare/AI-XRAY-DIAGNOSIS/pkg/onnx"
	"github.com/VedantVichare/AI-XRAY-DIAGNOSIS/pkg/saliency"
	"github.com/VedantVichare/AI-XRAY-DIAGNOSIS/server"
	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"
	"github.com/disintegration/imaging"
)

func main() {
	parser := argparse.NewParser("saliency", "Classify chest X-ray images and write saliency overlays")
	configFile := parser.String("c", "config", &argparse.Options{Help: "JSON configuration file (the same one used by xrayd)", Default: ""})
	outDir := parser.String("o", "out", &argparse.Options{Help: "Output directory. Default is alongside the input image", Default: ""})
	heatmap := parser.Flag("", "heatmap", &argparse.Options{Help: "Also write the colorized map on its own, without the X-ray underneath", Default: false})
	onnxLib := parser.String("", "onnxlib", &argparse.Options{Help: "Path to the onnxruntime shared library", Default: ""})
	image := parser.String("i", "image", &argparse.Options{Required: true, Help: "X-ray image file (png, jpeg or gif)"})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	check(err)
	defer logger.Close()

	cfg, err := server.LoadConfig(*configFile)
	check(err)
	if *onnxLib != "" {
		cfg.OnnxLibrary = *onnxLib
	}
	cmap, err := saliency.ParseColormap(cfg.Saliency.Colors, cfg.Saliency.Bins)
	check(err)

	check(onnx.Initialize(logger, cfg.OnnxLibrary))
	defer onnx.Shutdown()
	classifier, err := onnx.LoadClassifier(cfg.Classifier.Model, cfg.Classifier.Config)
	check(err)
	defer classifier.Close()
	policy, err := onnx.LoadPolicy(cfg.Policy.Model, cfg.Policy.Config)
	check(err)
	defer policy.Close()

	analyzer := diagnosis.NewAnalyzer(logger, classifier, policy)
	analyzer.Triage = cfg.Triage
	analyzer.Colormap = cmap
	analyzer.Alpha = cfg.Saliency.Alpha

	input := *image
	img, err := imaging.Open(input, imaging.AutoOrientation(true))
	check(err)
	res, err := analyzer.Analyze(img)
	check(err)

	dir := filepath.Dir(input)
	if *outDir != "" {
		dir = *outDir
		check(os.MkdirAll(dir, 0755))
	}
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	overlayFile := filepath.Join(dir, base+"_saliency.png")
	check(imaging.Save(res.Overlay, overlayFile))
	if *heatmap {
		heat := saliency.Colorize(res.Map, res.Map.Width, res.Map.Height, cmap)
		check(imaging.Save(heat, filepath.Join(dir, base+"_heatmap.png")))
	}

	d := res.Decision
	fmt.Printf("%v: %v (pneumonia %v%%, normal %v%%, confidence %.2f, %v)\n", input, d.Label, d.PneumoniaString(), d.NormalString(), d.Confidence, d.ModelUsed)
	if res.Map.Degenerate {
		fmt.Printf("Warning: saliency map is degenerate\n")
	}
	fmt.Printf("Wrote %v\n", overlayFile)
}

func check(err error) {
	if err != nil {
		panic(err)
	}
}
