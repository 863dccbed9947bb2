package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"robodash-go/internal/bridge"
	"robodash-go/internal/capture"
	"robodash-go/internal/imaging"
)

type options struct {
	pngDir string
	pixels int
	dump   bool
	limit  int
	log    *zap.Logger
}

func (o options) logger() *zap.Logger {
	if o.log == nil {
		return zap.NewNop()
	}
	return o.log
}

type counts struct {
	decoded, failed, skipped int
}

func main() {
	path := pflag.StringP("path", "p", "", "Capture file, captured message (JSON or CBOR) or a directory of them")
	var opts options
	pflag.StringVar(&opts.pngDir, "png", "", "Write each decoded image as PNG into this directory")
	pflag.IntVar(&opts.pixels, "pixels", 4, "Number of leading pixels to print")
	pflag.BoolVar(&opts.dump, "dump", false, "Print every frame as JSON")
	pflag.IntVar(&opts.limit, "limit", 0, "Stop after this many frames per file (0 for all)")
	pflag.Parse()

	log, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	opts.log = log

	if *path == "" {
		log.Fatal("missing --path")
	}

	files, err := listFiles(*path)
	if err != nil {
		log.Fatal("list files", zap.String("path", *path), zap.Error(err))
	}
	if opts.pngDir != "" {
		if err := os.MkdirAll(opts.pngDir, 0o755); err != nil {
			log.Fatal("create png dir", zap.String("dir", opts.pngDir), zap.Error(err))
		}
	}

	var total counts
	for _, file := range files {
		if err := processFile(file, opts, &total); err != nil {
			log.Warn("process file", zap.String("file", file), zap.Error(err))
		}
	}

	fmt.Printf("summary: decoded=%d failed=%d skipped=%d\n", total.decoded, total.failed, total.skipped)
}

func processFile(file string, opts options, total *counts) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	r, err := capture.NewReader(f)
	if errors.Is(err, capture.ErrBadMagic) {
		data, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		processFrame(stem(file), time.Time{}, data, opts, total)
		return nil
	}
	if err != nil {
		return err
	}

	for i := 0; opts.limit <= 0 || i < opts.limit; i++ {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		processFrame(fmt.Sprintf("%s_%06d", stem(file), i), rec.Time, rec.Payload, opts, total)
	}
	return nil
}

func processFrame(name string, ts time.Time, data []byte, opts options, total *counts) {
	frame, err := bridge.DecodeFrame(data)
	if err != nil {
		total.failed++
		fmt.Printf("%s: undecodable frame: %v\n", name, err)
		return
	}
	if !ts.IsZero() {
		fmt.Printf("%s: %s op=%v size=%d\n", name, ts.Format(time.RFC3339Nano), frame["op"], len(data))
	}
	if opts.dump {
		pretty, err := json.MarshalIndent(printable(frame), "", "  ")
		if err == nil {
			fmt.Println(string(pretty))
		}
	}

	// a full publish op or just its msg
	var msg any = frame
	if op, ok := frame["op"]; ok {
		if op != "publish" {
			total.skipped++
			return
		}
		msg = frame["msg"]
		fmt.Printf("%s: topic %v\n", name, frame["topic"])
	}
	m, ok := msg.(map[string]any)
	if !ok || m["encoding"] == nil {
		total.skipped++
		return
	}

	raster, err := decodeImage(m, opts.pixels)
	if err != nil {
		total.failed++
		fmt.Printf("  %s error: %v\n", imaging.Kind(err), err)
		return
	}
	total.decoded++
	if opts.pngDir != "" {
		out := filepath.Join(opts.pngDir, name+".png")
		if err := writePNG(out, raster); err != nil {
			opts.logger().Warn("write png", zap.String("file", out), zap.Error(err))
		}
	}
}

func decodeImage(msg map[string]any, pixels int) (*imaging.Raster, error) {
	img, err := bridge.ParseImage(msg)
	if err != nil {
		return nil, err
	}
	fmt.Printf("  %dx%d %s step=%d data=%T\n", img.Width, img.Height, img.Encoding, img.Step, img.Data)

	src, err := imaging.Normalize(img.Data)
	if err != nil {
		return nil, err
	}
	raster, err := imaging.Decode(src, img.Width, img.Height, img.Encoding)
	if err != nil {
		return nil, err
	}
	if raster.Mismatch != nil {
		fmt.Printf("  warning: %v\n", raster.Mismatch)
	}
	n := min(pixels, raster.Width*raster.Height)
	for i := 0; i < n; i++ {
		p := raster.Pix[i*4 : i*4+4]
		fmt.Printf("  pixel %d: rgba(%d, %d, %d, %d)\n", i, p[0], p[1], p[2], p[3])
	}
	return raster, nil
}

// printable makes a decoded frame JSON friendly. Byte payloads are
// summarized instead of printed.
func printable(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = printable(e)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = printable(e)
		}
		return out
	case []any:
		if len(t) > 16 {
			return fmt.Sprintf("<array of %d>", len(t))
		}
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = printable(e)
		}
		return out
	case []byte:
		return fmt.Sprintf("<%d bytes>", len(t))
	case string:
		if len(t) > 64 {
			return fmt.Sprintf("<string of %d>", len(t))
		}
		return t
	case cbor.Tag:
		return map[string]any{"tag": t.Number, "content": printable(t.Content)}
	default:
		return v
	}
}

func writePNG(path string, r *imaging.Raster) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, r.Image()); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func stem(file string) string {
	base := filepath.Base(file)
	return base[:len(base)-len(filepath.Ext(base))]
}

func listFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		files = append(files, filepath.Join(path, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}
