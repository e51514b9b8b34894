/*Package bsdf writes sweep results as Zemax tabular BSDF files and the
companion relative error report.

The tabular file holds a header naming each of the four angle axes, followed
by one DataBegin/DataEnd block per color channel.  Inside a block the data
for each (sample rotation, angle of incidence) pair is a TIS line and a table
with one row per scatter azimuth and one column per scatter radial angle.
*/
package bsdf

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/optlab/bsdfbench/sweep"
)

// Extension is the file extension of tabular BSDF files
const Extension = ".bsdf"

// TimeFormat is the layout of the generation time comment
const TimeFormat = "01/02/2006 03:04:05 PM"

// Header is the metadata at the top of a BSDF file
type Header struct {
	Symmetry        string    `koanf:"symmetry" yaml:"symmetry"`
	SpectralContent string    `koanf:"spectralContent" yaml:"spectralContent"`
	ScatterType     string    `koanf:"-" yaml:"-"`
	Generated       time.Time `koanf:"-" yaml:"-"`

	// Comment is written as extra comment lines, one per line of text
	Comment string `koanf:"comment" yaml:"comment"`
}

// DefaultHeader returns the header used for a measurement type
func DefaultHeader(m sweep.MeasurementType) Header {
	return Header{
		Symmetry:        "Asymmetrical4D",
		SpectralContent: "XYZ",
		ScatterType:     ScatterTypeFor(m),
	}
}

// ScatterTypeFor returns the ScatterType keyword for a measurement type.
// Sweeps covering both hemispheres are labeled BRDF.
func ScatterTypeFor(m sweep.MeasurementType) string {
	if m == sweep.BTDF {
		return "BTDF"
	}
	return "BRDF"
}

func joinAngles(angles []float64) string {
	s := make([]string, len(angles))
	for i, a := range angles {
		s[i] = strconv.FormatFloat(a, 'f', -1, 64)
	}
	return strings.Join(s, "\t")
}

// Write emits the tabular BSDF for the grid.  Cells missing from means are
// written as zero so a partial sweep still yields a valid file.
func Write(w io.Writer, h Header, g sweep.Grid, means map[sweep.Key]sweep.RGB) error {
	bw := bufio.NewWriter(w)
	gen := h.Generated
	if gen.IsZero() {
		gen = time.Now()
	}
	fmt.Fprintln(bw, "# Data generated by bsdfbench")
	fmt.Fprintf(bw, "# %s\n", gen.Format(TimeFormat))
	if h.Comment != "" {
		for _, line := range strings.Split(strings.TrimRight(h.Comment, "\n"), "\n") {
			fmt.Fprintf(bw, "# %s\n", line)
		}
	}
	fmt.Fprintln(bw, "Source  Measured")
	fmt.Fprintf(bw, "Symmetry  %s\n", h.Symmetry)
	fmt.Fprintf(bw, "SpectralContent  %s\n", h.SpectralContent)
	fmt.Fprintf(bw, "ScatterType  %s\n", h.ScatterType)

	axes := []struct {
		name   string
		angles []float64
	}{
		{"SampleRotation", g.LightRadial},
		{"AngleOfIncidence", g.LightAzimuthal},
		{"ScatterAzimuth", g.DetectorAzimuthal},
		{"ScatterRadial", g.DetectorRadial},
	}
	for _, ax := range axes {
		fmt.Fprintf(bw, "%s %d\n", ax.name, len(ax.angles))
		fmt.Fprintln(bw, joinAngles(ax.angles))
	}
	fmt.Fprintln(bw)

	channels := []struct {
		label string
		pick  func(sweep.RGB) float64
	}{
		{"R", func(c sweep.RGB) float64 { return c.R }},
		{"G", func(c sweep.RGB) float64 { return c.G }},
		{"B", func(c sweep.RGB) float64 { return c.B }},
	}
	row := make([]string, len(g.DetectorRadial))
	for _, ch := range channels {
		fmt.Fprintln(bw, ch.label)
		fmt.Fprintln(bw, "DataBegin")
		for _, rot := range g.LightRadial {
			for _, inc := range g.LightAzimuthal {
				var tis float64
				for _, az := range g.DetectorAzimuthal {
					for _, rad := range g.DetectorRadial {
						tis += ch.pick(means[sweep.NewKey(rot, inc, az, rad)])
					}
				}
				fmt.Fprintf(bw, "TIS %f\n", tis)
				for _, az := range g.DetectorAzimuthal {
					for i, rad := range g.DetectorRadial {
						row[i] = fmt.Sprintf("%.3E", ch.pick(means[sweep.NewKey(rot, inc, az, rad)]))
					}
					fmt.Fprintln(bw, strings.Join(row, "\t"))
				}
			}
		}
		fmt.Fprintln(bw, "DataEnd")
		fmt.Fprintln(bw)
	}
	return bw.Flush()
}

// withExtension replaces any extension of fn with ext
func withExtension(fn, ext string) string {
	if e := filepath.Ext(fn); e != ext {
		fn = strings.TrimSuffix(fn, e) + ext
	}
	return fn
}

// WriteFile writes the tabular BSDF to fn, creating parent directories and
// forcing the .bsdf extension.  The path written is returned.
func WriteFile(fn string, h Header, g sweep.Grid, means map[sweep.Key]sweep.RGB) (string, error) {
	fn = withExtension(fn, Extension)
	if err := os.MkdirAll(filepath.Dir(fn), 0755); err != nil {
		return "", err
	}
	f, err := os.Create(fn)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := Write(f, h, g, means); err != nil {
		return "", err
	}
	return fn, f.Close()
}

var errorColumns = []string{"light_az", "light_rad", "det_az", "det_rad", "r_err", "g_err", "b_err"}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// WriteErrors emits the relative error report: one row per key of order and
// a trailing row of per-channel means
func WriteErrors(w io.Writer, order []sweep.Key, errs map[sweep.Key]sweep.RGB) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(errorColumns); err != nil {
		return err
	}
	var sum sweep.RGB
	for _, k := range order {
		e := errs[k]
		sum.R += e.R
		sum.G += e.G
		sum.B += e.B
		rec := []string{
			ftoa(k.LightAzimuthal), ftoa(k.LightRadial), ftoa(k.DetectorAzimuthal), ftoa(k.DetectorRadial),
			ftoa(e.R), ftoa(e.G), ftoa(e.B),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	var mean sweep.RGB
	if n := float64(len(order)); n > 0 {
		mean = sweep.RGB{R: sum.R / n, G: sum.G / n, B: sum.B / n}
	}
	if err := cw.Write([]string{}); err != nil {
		return err
	}
	if err := cw.Write([]string{"Mean", "", "", "", ftoa(mean.R), ftoa(mean.G), ftoa(mean.B)}); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

// WriteErrorsFile writes the relative error report to fn, creating parent
// directories
func WriteErrorsFile(fn string, order []sweep.Key, errs map[sweep.Key]sweep.RGB) error {
	if err := os.MkdirAll(filepath.Dir(fn), 0755); err != nil {
		return err
	}
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := WriteErrors(f, order, errs); err != nil {
		return err
	}
	return f.Close()
}

// Export writes both the tabular BSDF and the error report for a set of
// results.  The files share the base name stem inside dir.
func Export(dir, stem string, h Header, g sweep.Grid, res sweep.Results) (bsdfPath, csvPath string, err error) {
	bsdfPath, err = WriteFile(filepath.Join(dir, stem+Extension), h, g, res.Means)
	if err != nil {
		return "", "", fmt.Errorf("writing BSDF: %w", err)
	}
	csvPath = filepath.Join(dir, stem+"_relative_errors.csv")
	if err = WriteErrorsFile(csvPath, res.Order, res.Errors); err != nil {
		return "", "", fmt.Errorf("writing relative errors: %w", err)
	}
	return bsdfPath, csvPath, nil
}
