package cli

import (
	"fmt"
	"image"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/aybabtme/uniplot/histogram"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
	goutils "go.viam.com/utils"

	"github.com/simbotics/simsense/capture"
	"github.com/simbotics/simsense/msgs"
	"github.com/simbotics/simsense/simage"
	"github.com/simbotics/simsense/utils"
)

// prettyDepthScaleM matches the depth unit the realsense plugin quantizes
// with, so colorized exports line up with published L16 frames.
const prettyDepthScaleM = 0.001

type captureSummary struct {
	path   string
	topic  string
	msg    string
	frames int
	size   int64
	first  msgs.Time
	last   msgs.Time
}

func summarizeCaptureFile(path string) (captureSummary, error) {
	f, err := capture.OpenCaptureFile(path)
	if err != nil {
		return captureSummary{}, err
	}
	defer goutils.UncheckedErrorFunc(f.Close)

	md := f.ReadMetadata()
	sum := captureSummary{
		path:  path,
		topic: md.Topic,
		msg:   md.MessageType,
		size:  f.Size(),
	}
	for {
		frame, err := f.ReadNext()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return sum, errors.Wrapf(err, "failed to read frame %d of %s", sum.frames, path)
		}
		if sum.frames == 0 {
			sum.first = frame.Time
		}
		sum.last = frame.Time
		sum.frames++
	}
	return sum, nil
}

// CapturesListAction walks a directory and prints a table of the capture
// files underneath it, plus per-topic totals.
func CapturesListAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("must provide exactly one directory")
	}
	dir := c.Args().First()

	var sums []captureSummary
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || (!capture.IsCaptureFile(path) && filepath.Ext(path) != capture.InProgressFileExt) {
			return nil
		}
		sum, err := summarizeCaptureFile(path)
		if err != nil {
			return err
		}
		sums = append(sums, sum)
		return nil
	})
	if err != nil {
		return err
	}
	if len(sums) == 0 {
		fmt.Fprintf(c.App.Writer, "no capture files under %s\n", dir)
		return nil
	}

	t := table.NewWriter()
	t.AppendHeader(table.Row{"File", "Topic", "Frames", "Bytes", "Sim Time Span"})
	for _, sum := range sums {
		rel, err := filepath.Rel(dir, sum.path)
		if err != nil {
			rel = sum.path
		}
		span := ""
		if sum.frames > 0 {
			span = fmt.Sprintf("%s .. %s", sum.first, sum.last)
		}
		t.AppendRow(table.Row{rel, sum.topic, sum.frames, sum.size, span})
	}
	fmt.Fprintln(c.App.Writer, t.Render())

	byTopic := lo.GroupBy(sums, func(sum captureSummary) string { return sum.topic })
	topics := lo.Keys(byTopic)
	sort.Strings(topics)
	tt := table.NewWriter()
	tt.AppendHeader(table.Row{"Topic", "Files", "Frames", "Bytes"})
	for _, topic := range topics {
		group := byTopic[topic]
		tt.AppendRow(table.Row{
			topic,
			len(group),
			lo.SumBy(group, func(sum captureSummary) int { return sum.frames }),
			lo.SumBy(group, func(sum captureSummary) int64 { return sum.size }),
		})
	}
	fmt.Fprintln(c.App.Writer, tt.Render())
	return nil
}

func mimeTypeForFormat(format string) (string, string, error) {
	switch format {
	case "png":
		return utils.MimeTypePNG, ".png", nil
	case "jpeg", "jpg":
		return utils.MimeTypeJPEG, ".jpg", nil
	case "qoi":
		return utils.MimeTypeQOI, ".qoi", nil
	case "ppm":
		return utils.MimeTypePPM, ".ppm", nil
	default:
		return "", "", errors.Errorf("unknown image format %q", format)
	}
}

// frameImage converts a captured frame for export. Pretty colorizes the two
// depth formats; everything else takes the plain conversion.
func frameImage(stamped msgs.ImageStamped, pretty bool) (image.Image, error) {
	if pretty {
		switch stamped.Image.PixelFormat {
		case msgs.L16:
			img, err := simage.ImageFromStamped(stamped)
			if err != nil {
				return nil, err
			}
			if dm, ok := img.(*simage.DepthMap); ok {
				return dm.ToPrettyPicture(0, 0), nil
			}
			return img, nil
		case msgs.RFloat32:
			floats, err := simage.FloatsFromBytes(stamped.Image.Data)
			if err != nil {
				return nil, err
			}
			dm, err := simage.DepthMapFromFloats(floats,
				int(stamped.Image.Width), int(stamped.Image.Height),
				prettyDepthScaleM, 0, math.Inf(1))
			if err != nil {
				return nil, err
			}
			return dm.ToPrettyPicture(0, 0), nil
		case msgs.UnknownPixelFormat, msgs.L8, msgs.RGB24:
		}
	}
	return simage.ImageFromStamped(stamped)
}

// CapturesExportAction decodes every frame of one capture file into image
// files named by frame index and sim time.
func CapturesExportAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("must provide exactly one capture file")
	}
	mimeType, ext, err := mimeTypeForFormat(c.String(capturesFlagFormat))
	if err != nil {
		return err
	}
	dest := c.Path(capturesFlagDestination)
	if err := os.MkdirAll(dest, 0o750); err != nil {
		return err
	}

	f, err := capture.OpenCaptureFile(c.Args().First())
	if err != nil {
		return err
	}
	defer goutils.UncheckedErrorFunc(f.Close)

	pretty := c.Bool(capturesFlagPretty)
	written := 0
	for idx := 0; ; idx++ {
		frame, err := f.ReadNext()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return errors.Wrapf(err, "failed to read frame %d", idx)
		}
		img, err := frameImage(frame, pretty)
		if err != nil {
			return errors.Wrapf(err, "failed to decode frame %d", idx)
		}
		encoded, err := simage.EncodeImage(c.Context, img, mimeType)
		if err != nil {
			return errors.Wrapf(err, "failed to encode frame %d", idx)
		}
		name := capture.FilePathWithReplacedReservedChars(fmt.Sprintf("%06d_%s%s", idx, frame.Time, ext))
		if err := os.WriteFile(filepath.Join(dest, name), encoded, 0o640); err != nil {
			return err
		}
		written++
	}
	fmt.Fprintf(c.App.Writer, "wrote %d frame(s) from %s to %s\n", written, f.ReadMetadata().Topic, dest)
	return nil
}

// depthSamples pulls depth readings out of a capture's frames: L16 frames
// yield depth units (zero holes skipped), raw float frames yield meters.
func depthSamples(frames []msgs.ImageStamped) (values []float64, unit string, err error) {
	for _, frame := range frames {
		switch frame.Image.PixelFormat {
		case msgs.L16:
			dm, err := simage.DepthMapFromBytes(frame.Image.Data, int(frame.Image.Width), int(frame.Image.Height))
			if err != nil {
				return nil, "", err
			}
			unit = "depth units"
			for y := 0; y < dm.Height(); y++ {
				for x := 0; x < dm.Width(); x++ {
					if d := dm.GetDepth(x, y); d != 0 {
						values = append(values, float64(d))
					}
				}
			}
		case msgs.RFloat32:
			floats, err := simage.FloatsFromBytes(frame.Image.Data)
			if err != nil {
				return nil, "", err
			}
			unit = "meters"
			for _, f := range floats {
				values = append(values, float64(f))
			}
		case msgs.UnknownPixelFormat, msgs.L8, msgs.RGB24:
		}
	}
	return values, unit, nil
}

// CapturesStatsAction prints depth statistics and a terminal histogram for
// the depth frames of one capture file.
func CapturesStatsAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("must provide exactly one capture file")
	}
	md, frames, err := capture.ReadAllFromPath(c.Args().First())
	if err != nil {
		return err
	}
	values, unit, err := depthSamples(frames)
	if err != nil {
		return err
	}
	if len(values) == 0 {
		return errors.Errorf("capture of %s holds no depth readings", md.Topic)
	}

	min, err := stats.Min(values)
	if err != nil {
		return err
	}
	max, err := stats.Max(values)
	if err != nil {
		return err
	}
	mean, err := stats.Mean(values)
	if err != nil {
		return err
	}
	median, err := stats.Median(values)
	if err != nil {
		return err
	}
	p95, err := stats.Percentile(values, 95)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "topic %s: %d frame(s), %d depth reading(s) in %s\n",
		md.Topic, len(frames), len(values), unit)
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Min", "Max", "Mean", "Median", "P95"})
	t.AppendRow(table.Row{
		fmt.Sprintf("%.3f", min),
		fmt.Sprintf("%.3f", max),
		fmt.Sprintf("%.3f", mean),
		fmt.Sprintf("%.3f", median),
		fmt.Sprintf("%.3f", p95),
	})
	fmt.Fprintln(c.App.Writer, t.Render())

	hist := histogram.Hist(10, values)
	return histogram.Fprint(c.App.Writer, hist, histogram.Linear(40))
}
