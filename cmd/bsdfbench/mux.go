package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"github.com/optlab/bsdfbench/generichttp"
	"github.com/optlab/bsdfbench/generichttp/camera"
	"github.com/optlab/bsdfbench/generichttp/motion"
	httpsweep "github.com/optlab/bsdfbench/generichttp/sweep"
	"github.com/optlab/bsdfbench/server/middleware/locker"
	"github.com/optlab/bsdfbench/store"
	"github.com/optlab/bsdfbench/sweep"
)

// node is one subtree of the server
type node struct {
	stem       string
	httper     generichttp.HTTPer
	middleware []func(http.Handler) http.Handler
}

// BuildMux assembles the camera, stage, sweep, and journal interfaces under
// one router.  The camera and stage are locked while the runner owns them.
// The router serves a special route, /endpoints, which returns every route
// as JSON.
func BuildMux(c Config, b *Bench, runner *sweep.Runner, lock *locker.Locker, j *store.Journal) chi.Router {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	supergraph := map[string][]string{}

	cam := camera.NewHTTPCamera(b.Camera, b.Recorder, b.Accumulator.Exposure, b.Accumulator.Noise, b.Accumulator.ROI.Diameter)
	locker.Inject(cam, lock)

	stage := motion.NewHTTPStage(b.Stage)
	lim, _ := c.limits()
	limiter := motion.LimitMiddleware{Limits: lim}
	limiter.Inject(stage)
	locker.Inject(stage, lock)

	tmpl := *b.Context(c)
	sw := httpsweep.NewHTTPSweep(runner, tmpl, c.header(b.Type), c.Output, c.Sweep.DarkFrames)

	nodes := []node{
		{stem: "camera", httper: cam, middleware: []func(http.Handler) http.Handler{lock.Check}},
		{stem: "stage", httper: stage, middleware: []func(http.Handler) http.Handler{limiter.Check, lock.Check}},
		{stem: "sweep", httper: sw},
	}
	if j != nil {
		nodes = append(nodes, node{stem: "journal", httper: store.NewHTTPJournal(j)})
	}
	for _, n := range nodes {
		// prepare the URL, "camera" => "/camera"
		hndlS := generichttp.SubMuxSanitize(n.stem)

		// add the endpoints to the graph
		supergraph[hndlS] = n.httper.RT().Endpoints()

		// bind to the mux
		r := chi.NewRouter()
		r.Use(n.middleware...)
		n.httper.RT().Bind(r)
		root.Mount(hndlS, r)
	}
	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(supergraph)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return root
}
