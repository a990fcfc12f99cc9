package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"tomgalvin.uk/phogobanner/internal/bitmap"
	"tomgalvin.uk/phogobanner/internal/config"
	"tomgalvin.uk/phogobanner/internal/density"
	"tomgalvin.uk/phogobanner/internal/fonts"
	"tomgalvin.uk/phogobanner/internal/measure"
	"tomgalvin.uk/phogobanner/internal/printer"
	"tomgalvin.uk/phogobanner/internal/render"
	"tomgalvin.uk/phogobanner/internal/store"
)

// fakeTransport connects when a result is sent and records prints
type fakeTransport struct {
	connect chan error

	mu      sync.Mutex
	printed []*bitmap.PackedBitmap
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	select {
	case err := <-f.connect:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeTransport) Disconnect() error { return nil }

func (f *fakeTransport) Print(ctx context.Context, b *bitmap.PackedBitmap, _ density.LaserIntensity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.printed = append(f.printed, b)
	return nil
}

type fixture struct {
	server    *Server
	http      *httptest.Server
	transport *fakeTransport
	machine   *printer.Machine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Debounce = 20 * time.Millisecond
	logger := slog.Default()

	repo, err := store.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	transport := &fakeTransport{connect: make(chan error, 1)}
	machine := printer.NewMachine(transport, printer.Options{Timeout: time.Second})
	pipeline := render.NewPipeline(
		measure.NewMeasurer(fonts.NewSet(cfg.FontSize, logger), logger),
		render.Options{HeadAxisPx: cfg.HeadAxisPx, MinFeedPx: cfg.MinFeedPx, MaxFeedPx: cfg.MaxFeedPx},
		logger,
	)

	s := NewServer(logger, machine, repo, pipeline, cfg)
	ts := httptest.NewServer(s)
	t.Cleanup(func() {
		ts.Close()
		s.Close()
		repo.Close()
	})
	return &fixture{server: s, http: ts, transport: transport, machine: machine}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var r *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	} else {
		r = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.http.URL+path, r)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func decode[T any](t *testing.T, res *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(res.Body).Decode(&v); err != nil {
		t.Fatalf("Couldn't decode response: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, res *http.Response, want int) {
	t.Helper()
	if res.StatusCode != want {
		t.Fatalf("expected status %d, got %d", want, res.StatusCode)
	}
}

func TestPreviewShortLandscapeIsCompact(t *testing.T) {
	f := newFixture(t)
	res := f.do(t, http.MethodPost, "/api/preview", JobJson{Markup: "Short", Orientation: "landscape"})
	expectStatus(t, res, http.StatusOK)

	if got := res.Header.Get("X-Canvas-Width"); got != "384" {
		t.Errorf("expected width header 384, got %q", got)
	}
	img, err := png.Decode(res.Body)
	if err != nil {
		t.Fatalf("Couldn't decode PNG: %v", err)
	}
	b := img.Bounds()
	if b.Dx() != 384 {
		t.Errorf("expected a 384 px wide image, got %d", b.Dx())
	}
	if b.Dy() >= 200 || b.Dy() <= 0 {
		t.Errorf("expected a compact height, got %d", b.Dy())
	}
	if got := res.Header.Get("X-Canvas-Height"); got != strconv.Itoa(b.Dy()) {
		t.Errorf("height header %q doesn't match the image height %d", got, b.Dy())
	}
}

func TestPreviewRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	tooDense := 101
	tests := []struct {
		name string
		body JobJson
	}{
		{"orientation", JobJson{Markup: "x", Orientation: "sideways"}},
		{"density", JobJson{Markup: "x", Density: &tooDense}},
		{"markup", JobJson{Markup: "<b>x</i>"}},
		{"align", JobJson{Markup: "x", Align: "justified"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectStatus(t, f.do(t, http.MethodPost, "/api/preview", tt.body), http.StatusBadRequest)
		})
	}
}

func TestPreviewTruncation(t *testing.T) {
	f := newFixture(t)
	res := f.do(t, http.MethodPost, "/api/preview", JobJson{
		Markup:      strings.Repeat("very long banner ", 600),
		Orientation: "landscape",
	})
	expectStatus(t, res, http.StatusOK)
	if res.Header.Get("X-Banner-Truncated") != "true" {
		t.Error("expected the truncation header")
	}
	if got := res.Header.Get("X-Canvas-Height"); got != "8192" {
		t.Errorf("expected height clamped to 8192, got %q", got)
	}
}

func waitForBitmap(t *testing.T, f *fixture, id string) *http.Response {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		res := f.do(t, http.MethodGet, "/api/jobs/"+id+"/bitmap", nil)
		if res.StatusCode == http.StatusOK && res.Header.Get("X-Banner-Pending") == "" {
			return res
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job never settled")
	return nil
}

func TestJobDebouncesEdits(t *testing.T) {
	f := newFixture(t)
	expectStatus(t, f.do(t, http.MethodGet, "/api/jobs/a/bitmap", nil), http.StatusNotFound)

	for _, text := range []string{"S", "Sh", "Short"} {
		expectStatus(t, f.do(t, http.MethodPut, "/api/jobs/a", JobJson{Markup: text, Orientation: "landscape"}), http.StatusAccepted)
	}

	res := waitForBitmap(t, f, "a")
	preview := f.do(t, http.MethodPost, "/api/preview", JobJson{Markup: "Short", Orientation: "landscape"})
	if res.Header.Get("X-Canvas-Height") != preview.Header.Get("X-Canvas-Height") {
		t.Errorf("committed bitmap should be the final edit: %s vs %s",
			res.Header.Get("X-Canvas-Height"), preview.Header.Get("X-Canvas-Height"))
	}

	expectStatus(t, f.do(t, http.MethodDelete, "/api/jobs/a", nil), http.StatusNoContent)
	expectStatus(t, f.do(t, http.MethodGet, "/api/jobs/a/bitmap", nil), http.StatusNotFound)
}

func TestJobBitmapWhileJobIsClosed(t *testing.T) {
	f := newFixture(t)
	expectStatus(t, f.do(t, http.MethodPut, "/api/jobs/a", JobJson{Markup: "Hi", Orientation: "landscape"}), http.StatusAccepted)
	waitForBitmap(t, f, "a")

	serve := func(method, path string, body string) int {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		rec := httptest.NewRecorder()
		f.server.ServeHTTP(rec, req)
		return rec.Code
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for range 200 {
			switch code := serve(http.MethodGet, "/api/jobs/a/bitmap", ""); code {
			case http.StatusOK, http.StatusNotFound:
			default:
				t.Errorf("unexpected status %d fetching the bitmap", code)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for range 50 {
			serve(http.MethodDelete, "/api/jobs/a", "")
			serve(http.MethodPut, "/api/jobs/a", `{"markup":"Hi","orientation":"landscape"}`)
		}
	}()
	wg.Wait()
}

func TestPrinterLifecycle(t *testing.T) {
	f := newFixture(t)

	st := decode[StatusJson](t, f.do(t, http.MethodGet, "/api/printer/status", nil))
	if st.State != printer.Idle {
		t.Fatalf("expected Idle, got %v", st.State)
	}

	res := f.do(t, http.MethodPost, "/api/printer/connect", nil)
	expectStatus(t, res, http.StatusAccepted)
	body := decode[map[string]any](t, res)
	if body["state"] != "Connecting" {
		t.Errorf("expected connect to report Connecting, got %v", body["state"])
	}

	res = f.do(t, http.MethodPost, "/api/printer/connect", nil)
	expectStatus(t, res, http.StatusConflict)
	if e := decode[ErrorJson](t, res); e.State != "Connecting" {
		t.Errorf("expected the conflict to carry the state, got %+v", e)
	}

	f.transport.connect <- nil
	deadline := time.Now().Add(time.Second)
	for f.machine.State() != printer.Connected {
		if time.Now().After(deadline) {
			t.Fatal("printer never connected")
		}
		time.Sleep(5 * time.Millisecond)
	}

	expectStatus(t, f.do(t, http.MethodPost, "/api/printer/reset", nil), http.StatusConflict)
	expectStatus(t, f.do(t, http.MethodPost, "/api/printer/disconnect", nil), http.StatusOK)
	if s := f.machine.State(); s != printer.Idle {
		t.Errorf("expected Idle after disconnect, got %v", s)
	}
}

func TestPrintJobRequiresConnection(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPut, "/api/jobs/p", JobJson{Markup: "Short"})
	waitForBitmap(t, f, "p")

	expectStatus(t, f.do(t, http.MethodPost, "/api/jobs/p/print", nil), http.StatusConflict)

	f.transport.connect <- nil
	f.machine.Connect(context.Background())
	deadline := time.Now().Add(time.Second)
	for f.machine.State() != printer.Connected {
		if time.Now().After(deadline) {
			t.Fatal("printer never connected")
		}
		time.Sleep(5 * time.Millisecond)
	}

	expectStatus(t, f.do(t, http.MethodPost, "/api/jobs/p/print", nil), http.StatusNoContent)
	f.transport.mu.Lock()
	defer f.transport.mu.Unlock()
	if len(f.transport.printed) != 1 || f.transport.printed[0].Width() != 384 {
		t.Errorf("expected one 384 px banner printed, got %d", len(f.transport.printed))
	}
}

func TestBannerCrud(t *testing.T) {
	f := newFixture(t)
	level := 70

	res := f.do(t, http.MethodPost, "/api/banners", BannerJson{
		Name:    "Sale",
		JobJson: JobJson{Markup: "<p><b>Sale</b> today</p>", Orientation: "landscape", Density: &level},
	})
	expectStatus(t, res, http.StatusCreated)
	created := decode[BannerJson](t, res)
	if created.Uuid == nil {
		t.Fatal("expected a UUID")
	}
	path := "/api/banners/" + created.Uuid.String()

	got := decode[BannerJson](t, f.do(t, http.MethodGet, path, nil))
	if got.Name != "Sale" || got.Orientation != "landscape" || *got.Density != 70 {
		t.Errorf("unexpected banner %+v", got)
	}

	list := decode[[]BannerJson](t, f.do(t, http.MethodGet, "/api/banners", nil))
	if len(list) != 1 {
		t.Errorf("expected one banner, got %d", len(list))
	}

	bm := f.do(t, http.MethodGet, path+"/bitmap", nil)
	expectStatus(t, bm, http.StatusOK)
	if bm.Header.Get("X-Canvas-Width") != "384" {
		t.Errorf("expected a 384 px wide bitmap")
	}

	expectStatus(t, f.do(t, http.MethodPut, path, BannerJson{Name: "Sale!", JobJson: JobJson{Markup: "Sale"}}), http.StatusOK)
	got = decode[BannerJson](t, f.do(t, http.MethodGet, path, nil))
	if got.Name != "Sale!" || got.Orientation != "portrait" {
		t.Errorf("update not applied: %+v", got)
	}

	expectStatus(t, f.do(t, http.MethodPost, path+"/print", nil), http.StatusConflict)

	expectStatus(t, f.do(t, http.MethodDelete, path, nil), http.StatusNoContent)
	expectStatus(t, f.do(t, http.MethodGet, path, nil), http.StatusNotFound)
	expectStatus(t, f.do(t, http.MethodDelete, path, nil), http.StatusNotFound)
	expectStatus(t, f.do(t, http.MethodGet, "/api/banners/not-a-uuid", nil), http.StatusBadRequest)
}
