package motion_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"
	"github.com/google/go-cmp/cmp"

	"github.com/optlab/bsdfbench/generichttp"
	httpmotion "github.com/optlab/bsdfbench/generichttp/motion"
	"github.com/optlab/bsdfbench/motion"
)

func newServer() (*motion.Mock, http.Handler) {
	m := motion.NewMock()
	h := httpmotion.NewHTTPStage(m)
	lim := httpmotion.LimitMiddleware{Limits: motion.Limits{motion.DetectorRadial: {Min: 0, Max: 180}}}
	lim.Inject(h)
	r := chi.NewRouter()
	r.Use(lim.Check)
	h.RT().Bind(r)
	return m, r
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, path, strings.NewReader(body)))
	return w
}

func TestMoveOffsetReset(t *testing.T) {
	m, h := newServer()
	w := do(h, http.MethodPost, "/axis/det_az/pos", `{"f64": 42.5}`)
	if w.Code != http.StatusOK {
		t.Fatalf("move returned %d: %s", w.Code, w.Body.String())
	}
	var ack generichttp.StrT
	if err := json.NewDecoder(w.Body).Decode(&ack); err != nil {
		t.Fatal(err)
	}
	if ack.Str != "OK DET_AZ:42.5" {
		t.Errorf("unexpected ack %q", ack.Str)
	}
	if code := do(h, http.MethodPost, "/axis/DET_AZ/offset", "").Code; code != http.StatusOK {
		t.Errorf("offset returned %d", code)
	}
	if code := do(h, http.MethodPost, "/reset", "").Code; code != http.StatusOK {
		t.Errorf("reset returned %d", code)
	}
	want := []string{"DET_AZ:42.5", "DET_AZ:OFFSET", "RESET"}
	if diff := cmp.Diff(want, m.Commands()); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
}

func TestUnknownAxisIsBadRequest(t *testing.T) {
	_, h := newServer()
	if code := do(h, http.MethodPost, "/axis/z/pos", `{"f64": 1}`).Code; code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestLimitsRefuseMove(t *testing.T) {
	m, h := newServer()
	if code := do(h, http.MethodPost, "/axis/DET_RAD/pos", `{"f64": 200}`).Code; code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
	if len(m.Commands()) != 0 {
		t.Errorf("refused move reached the stage: %v", m.Commands())
	}
	if code := do(h, http.MethodPost, "/axis/DET_RAD/pos", `{"f64": 90}`).Code; code != http.StatusOK {
		t.Errorf("expected 200, got %d", code)
	}

	w := do(h, http.MethodGet, "/axis/DET_RAD/limits", "")
	var rng motion.Range
	if err := json.NewDecoder(w.Body).Decode(&rng); err != nil {
		t.Fatal(err)
	}
	if rng.Max != 180 {
		t.Errorf("expected max 180, got %v", rng.Max)
	}
}
