package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/optlab/bsdfbench/bsdf"
	"github.com/optlab/bsdfbench/camera"
	"github.com/optlab/bsdfbench/dark"
	"github.com/optlab/bsdfbench/diag"
	"github.com/optlab/bsdfbench/server/middleware/locker"
	"github.com/optlab/bsdfbench/store"
	"github.com/optlab/bsdfbench/sweep"
	"github.com/optlab/bsdfbench/telemetry"
)

// observers assembles the journal and telemetry observers the config asks for.
// The returned func releases them.
func observers(c Config) (*store.Journal, []sweep.Observer, func()) {
	var (
		obs     []sweep.Observer
		closers []func()
		j       *store.Journal
	)
	if c.Journal != "" {
		if err := os.MkdirAll(filepath.Dir(c.Journal), 0755); err != nil {
			log.Fatal(err)
		}
		var err error
		j, err = store.Open(c.Journal)
		if err != nil {
			log.Fatalf("opening journal: %v", err)
		}
		obs = append(obs, j)
		closers = append(closers, func() { j.Close() })
	}
	if c.Telemetry.Enabled {
		client, err := telemetry.Connect(c.Telemetry.MQTT)
		if err != nil {
			// telemetry is a convenience, the measurement goes on without it
			log.Printf("telemetry disabled: %v", err)
		} else {
			obs = append(obs, telemetry.NewObserver(client, c.Telemetry.MQTT))
			closers = append(closers, func() { client.Disconnect(250) })
		}
	}
	return j, obs, func() {
		for _, f := range closers {
			f()
		}
	}
}

func mustBuild(c Config) *Bench {
	b, err := c.Build()
	if err != nil {
		log.Fatal(err)
	}
	if err = b.Camera.Initialize(); err != nil {
		log.Fatalf("initializing camera: %v", err)
	}
	return b
}

// captureDark measures the dark level and archives the averaged frame
func captureDark(ctx context.Context, c Config, b *Bench) float64 {
	v, avg, err := dark.Capture(ctx, b.Camera, c.Sweep.DarkFrames)
	if err != nil {
		log.Fatalf("capturing dark frame: %v", err)
	}
	if b.Recorder != nil && b.Recorder.Enabled {
		fn, err := b.Recorder.Archive(avg.Raw(), nil)
		if err != nil {
			log.Printf("archiving dark frame: %v", err)
		} else {
			log.Printf("dark frame archived to %s", fn)
		}
	}
	b.Dark.Set(v)
	return v
}

// interruptible returns a context for a sweep driven by runner.  The first
// ^C stops the runner after the current position, a second one cancels the
// context and abandons it.
func interruptible(runner *sweep.Runner) (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go watchInterrupts(ctx, sig, runner.Stop, cancel)
	return ctx, func() {
		signal.Stop(sig)
		cancel()
	}
}

func watchInterrupts(ctx context.Context, sig <-chan os.Signal, stop, cancel func()) {
	select {
	case <-sig:
		log.Println("interrupt received, stopping after the current position; ^C again to abort")
		stop()
	case <-ctx.Done():
		return
	}
	select {
	case <-sig:
		log.Println("second interrupt received, aborting")
		cancel()
	case <-ctx.Done():
	}
}

func run(c Config) {
	b := mustBuild(c)
	defer b.Camera.Finalize()
	_, obs, closeObs := observers(c)
	defer closeObs()

	prog, err := newProgress()
	if err != nil {
		log.Fatal(err)
	}
	runner := sweep.NewRunner(append(obs, prog)...)
	ctx, done := interruptible(runner)
	defer done()

	if !b.Dark.IsSet() {
		log.Printf("dark level captured: %.2f", captureDark(ctx, c, b))
	}

	sum, err := runner.Run(ctx, b.Context(c))
	if err != nil && sum.State != sweep.Failed {
		log.Fatal(err)
	}
	if err != nil {
		log.Printf("sweep failed: %v", err)
	}
	res := runner.Results()
	if res.Len() == 0 {
		log.Println("nothing recorded, no files written")
		return
	}
	hdr := c.header(b.Type)
	hdr.Generated = time.Now()
	bp, cp, err := bsdf.Export(c.Output, sum.ID, hdr, b.Grid, res)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("wrote %s and %s", bp, cp)
}

func serve(c Config) {
	b := mustBuild(c)
	defer b.Camera.Finalize()
	j, obs, closeObs := observers(c)
	defer closeObs()

	lock := locker.New()
	runner := sweep.NewRunner(append(obs, lock)...)
	mux := BuildMux(c, b, runner, lock, j)
	log.Println("now listening for requests at ", c.Addr)
	log.Fatal(http.ListenAndServe(c.Addr, mux))
}

func darkframe(c Config) {
	b := mustBuild(c)
	defer b.Camera.Finalize()
	v := captureDark(context.Background(), c, b)
	fmt.Printf("dark level %.3f counts over %d frames\n", v, c.Sweep.DarkFrames)
}

func inspect(c Config, fn string) {
	m, err := c.mosaic()
	if err != nil {
		log.Fatal(err)
	}
	raw, err := camera.ReadRaw10(fn, c.Camera.Width, c.Camera.Height)
	if err != nil {
		log.Fatal(err)
	}
	rep, err := diag.Inspect(raw, m, c.ROIDiameter, c.Noise, 0)
	if err != nil {
		log.Fatal(err)
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "size\t%dx%d\n", rep.Width, rep.Height)
	fmt.Fprintf(tw, "mean\t%.3f\n", rep.Mean)
	fmt.Fprintf(tw, "centroid\t(%.1f, %.1f)\n", rep.CentroidY, rep.CentroidX)
	for i, name := range []string{"R", "G", "B"} {
		if rep.ROIErr[i] != nil {
			fmt.Fprintf(tw, "%s\t%v\n", name, rep.ROIErr[i])
			continue
		}
		fmt.Fprintf(tw, "%s\tmean %.3f\trel err %.3e\tn %d\n", name, rep.ROI[i].Mean, rep.ROI[i].RelErr, rep.ROI[i].N)
	}
	fmt.Fprintf(tw, "noise\tvariance %.2f\tentropy %.3f\tstatic %v\n", rep.Noise.Variance, rep.Noise.Entropy, rep.Noise.Static)
	tw.Flush()

	stem := strings.TrimSuffix(fn, filepath.Ext(fn))
	title := filepath.Base(stem)
	if err = diag.PlotHistograms(rep.Planes, 64, title, stem+"_hist.png"); err != nil {
		log.Fatal(err)
	}
	if err = diag.PlotProfile(rep.Profile, title, stem+"_profile.png"); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("plots written to %s_hist.png and %s_profile.png\n", stem, stem)
}

func openJournal(c Config) *store.Journal {
	if c.Journal == "" {
		log.Fatal("no journal configured")
	}
	j, err := store.Open(c.Journal)
	if err != nil {
		log.Fatal(err)
	}
	return j
}

func runs(c Config) {
	j := openJournal(c)
	defer j.Close()
	rs, err := j.Runs()
	if err != nil {
		log.Fatal(err)
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "id\ttype\tstarted\tstate\trecorded\tskipped")
	for _, r := range rs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\n", r.ID, r.Type, r.Started.Format(time.RFC3339), r.State, r.Recorded, r.Skipped)
	}
	tw.Flush()
}

func export(c Config, id string) {
	j := openJournal(c)
	defer j.Close()
	r, err := j.GetRun(id)
	if err != nil {
		log.Fatalf("run %s: %v", id, err)
	}
	res, err := j.Load(id)
	if err != nil {
		log.Fatal(err)
	}
	hdr := c.header(r.Type)
	hdr.Generated = r.Started
	bp, cp, err := bsdf.Export(c.Output, r.ID, hdr, r.Grid, res)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("wrote %s and %s\n", bp, cp)
}

func steps(c Config) {
	typ, err := sweep.ParseMeasurementType(c.Sweep.Type)
	if err != nil {
		log.Fatal(err)
	}
	s := c.Sweep.Steps
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "%s\tstep\tangles\n", typ)
	total := 1
	for _, ax := range []struct {
		name string
		step float64
	}{
		{"light radial", s.LightRadial},
		{"light azimuthal", s.LightAzimuthal},
		{"detector azimuthal", s.DetectorAzimuthal},
		{"detector radial", s.DetectorRadial},
	} {
		n := sweep.StepCount(typ, ax.step)
		total *= n
		fmt.Fprintf(tw, "%s\t%g\t%d\n", ax.name, ax.step, n)
	}
	fmt.Fprintf(tw, "positions\t\t%d\n", total)
	tw.Flush()
	fmt.Printf("step options: %v\n", sweep.StepOptions)
}
