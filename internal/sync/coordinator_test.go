package sync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	stdsync "sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/invtrack/invtrackgo/internal/database"
	"github.com/invtrack/invtrackgo/internal/handlers"
	"github.com/invtrack/invtrackgo/internal/models"
	"github.com/invtrack/invtrackgo/internal/store"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	g, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "server.db")), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open server database: %v", err)
	}
	if err := g.AutoMigrate(&models.Asset{}, &models.Category{}, &models.AuditSession{}); err != nil {
		t.Fatalf("migrate server schema: %v", err)
	}
	srv := httptest.NewServer(handlers.NewRouter(database.NewWithGorm(g)).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func newDeviceStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "device.db"))
	if err != nil {
		t.Fatalf("open device store: %v", err)
	}
	s.StartupGrace = 0
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate device store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustSync(t *testing.T, c *Coordinator) *Result {
	t.Helper()
	result, err := c.SyncAll(context.Background())
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if !result.Success {
		t.Fatalf("sync reported errors: %v", result.Errors)
	}
	return result
}

func TestSyncRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	deviceA := newDeviceStore(t)
	asset := &store.Asset{Code: "IT-0001", Name: "Laptop", Building: "HQ", Level: "2"}
	if err := deviceA.CreateAsset(ctx, asset); err != nil {
		t.Fatalf("create asset: %v", err)
	}
	audit := &store.AuditSession{Area: "Dev Office", Date: "2026-08-30", ScannedCodes: []string{"IT-0001"}}
	if err := deviceA.CreateAudit(ctx, audit); err != nil {
		t.Fatalf("create audit: %v", err)
	}
	category := &store.Category{Name: "IT Equipment"}
	if err := deviceA.CreateCategory(ctx, category); err != nil {
		t.Fatalf("create category: %v", err)
	}

	coordA := New(deviceA, srv.URL)
	result := mustSync(t, coordA)
	if result.Uploaded["assets"] != 1 || result.Uploaded["audits"] != 1 || result.Uploaded["categories"] != 1 {
		t.Errorf("unexpected upload counts: %v", result.Uploaded)
	}

	// A fresh device pulls everything on its first round.
	deviceB := newDeviceStore(t)
	coordB := New(deviceB, srv.URL)
	result = mustSync(t, coordB)
	if result.Downloaded["assets"] != 1 {
		t.Errorf("unexpected download counts: %v", result.Downloaded)
	}

	got, err := deviceB.GetAssetBySyncID(ctx, asset.SyncID)
	if err != nil {
		t.Fatalf("asset did not arrive on device B: %v", err)
	}
	if got.Name != "Laptop" || got.Building != "HQ" {
		t.Errorf("asset arrived mangled: %+v", got)
	}
	if got.UpdatedAt != asset.UpdatedAt {
		t.Errorf("timestamp changed in transit: sent %s, got %s", asset.UpdatedAt, got.UpdatedAt)
	}

	gotAudit, err := deviceB.GetAuditBySyncID(ctx, audit.SyncID)
	if err != nil {
		t.Fatalf("audit did not arrive on device B: %v", err)
	}
	if len(gotAudit.ScannedCodes) != 1 || gotAudit.ScannedCodes[0] != "IT-0001" {
		t.Errorf("audit codes arrived mangled: %v", gotAudit.ScannedCodes)
	}

	// A second round with no changes moves nothing.
	result = mustSync(t, coordB)
	if result.Uploaded["assets"] != 0 || result.Downloaded["assets"] != 0 {
		t.Errorf("idle round moved data: up %v down %v", result.Uploaded, result.Downloaded)
	}
}

func TestSyncTombstonePropagation(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	deviceA := newDeviceStore(t)
	asset := &store.Asset{Code: "IT-0001", Name: "Laptop"}
	if err := deviceA.CreateAsset(ctx, asset); err != nil {
		t.Fatalf("create asset: %v", err)
	}
	coordA := New(deviceA, srv.URL)
	mustSync(t, coordA)

	deviceB := newDeviceStore(t)
	coordB := New(deviceB, srv.URL)
	mustSync(t, coordB)

	if _, err := deviceB.GetAssetBySyncID(ctx, asset.SyncID); err != nil {
		t.Fatalf("asset did not arrive on device B: %v", err)
	}

	// Device A deletes; the tombstone travels through the server to B.
	time.Sleep(5 * time.Millisecond)
	if err := deviceA.DeleteAsset(ctx, asset.SyncID); err != nil {
		t.Fatalf("delete asset: %v", err)
	}
	mustSync(t, coordA)
	mustSync(t, coordB)

	got, err := deviceB.GetAssetBySyncID(ctx, asset.SyncID)
	if err != nil {
		t.Fatalf("tombstone lookup: %v", err)
	}
	if !got.Deleted {
		t.Error("deletion did not propagate to device B")
	}
	live, err := deviceB.ListAssets(ctx)
	if err != nil {
		t.Fatalf("list assets: %v", err)
	}
	if len(live) != 0 {
		t.Errorf("deleted asset still listed on device B: %v", live)
	}
}

func TestSyncNewerLocalEditSurvivesDownload(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	deviceA := newDeviceStore(t)
	asset := &store.Asset{Code: "IT-0001", Name: "Laptop"}
	if err := deviceA.CreateAsset(ctx, asset); err != nil {
		t.Fatalf("create asset: %v", err)
	}
	coordA := New(deviceA, srv.URL)
	mustSync(t, coordA)

	deviceB := newDeviceStore(t)
	coordB := New(deviceB, srv.URL)
	mustSync(t, coordB)

	// B edits its copy after the download.
	time.Sleep(5 * time.Millisecond)
	got, err := deviceB.GetAssetBySyncID(ctx, asset.SyncID)
	if err != nil {
		t.Fatalf("lookup on B: %v", err)
	}
	got.Name = "Laptop (relabeled)"
	if err := deviceB.UpdateAsset(ctx, got); err != nil {
		t.Fatalf("update on B: %v", err)
	}

	// The next round uploads the edit; the download of the same row must
	// not clobber it.
	mustSync(t, coordB)
	after, err := deviceB.GetAssetBySyncID(ctx, asset.SyncID)
	if err != nil {
		t.Fatalf("lookup on B: %v", err)
	}
	if after.Name != "Laptop (relabeled)" {
		t.Errorf("local edit lost: %q", after.Name)
	}

	// Device A picks the edit up.
	mustSync(t, coordA)
	onA, err := deviceA.GetAssetBySyncID(ctx, asset.SyncID)
	if err != nil {
		t.Fatalf("lookup on A: %v", err)
	}
	if onA.Name != "Laptop (relabeled)" {
		t.Errorf("edit did not reach device A: %q", onA.Name)
	}
}

func TestSyncUnreachableServer(t *testing.T) {
	deviceA := newDeviceStore(t)
	ctx := context.Background()

	if err := deviceA.CreateAsset(ctx, &store.Asset{Code: "IT-0001", Name: "Laptop"}); err != nil {
		t.Fatalf("create asset: %v", err)
	}

	c := New(deviceA, "http://127.0.0.1:1")
	c.SetProbeTimeout(200 * time.Millisecond)

	result, err := c.SyncAll(ctx)
	if !errors.Is(err, ErrServerUnreachable) {
		t.Fatalf("expected unreachable error, got %v", err)
	}
	if result.Success {
		t.Error("result must not report success")
	}

	// No phase ran, so no watermark moved.
	wm, err := deviceA.Watermark(ctx, "assets", store.DirectionUpload)
	if err != nil {
		t.Fatalf("read watermark: %v", err)
	}
	if wm != "" {
		t.Errorf("watermark advanced despite failed probe: %q", wm)
	}
}

func TestSyncFailedUploadKeepsWatermark(t *testing.T) {
	// Health passes, every data endpoint fails.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/health" {
			fmt.Fprint(w, `{"status":"ok"}`)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"success":false,"error":"boom"}`)
	}))
	defer srv.Close()

	deviceA := newDeviceStore(t)
	ctx := context.Background()
	if err := deviceA.CreateAsset(ctx, &store.Asset{Code: "IT-0001", Name: "Laptop"}); err != nil {
		t.Fatalf("create asset: %v", err)
	}

	c := New(deviceA, srv.URL)
	result, err := c.SyncAll(ctx)
	if err != nil {
		t.Fatalf("sync round itself should not error: %v", err)
	}
	if result.Success {
		t.Error("result must not report success")
	}

	// The failed batch must be re-sent next round.
	wm, err := deviceA.Watermark(ctx, "assets", store.DirectionUpload)
	if err != nil {
		t.Fatalf("read watermark: %v", err)
	}
	if wm != "" {
		t.Errorf("upload watermark advanced after server rejection: %q", wm)
	}
	changed, err := deviceA.AssetsChangedSince(ctx, wm)
	if err != nil {
		t.Fatalf("changed since: %v", err)
	}
	if len(changed) != 1 {
		t.Errorf("expected the row to stay pending, got %d", len(changed))
	}
}

func TestUploadRecordsServerCounts(t *testing.T) {
	// The server's timestamp gate can skip every row in a batch; the
	// summary must then report what was applied, not what was sent.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/health":
			fmt.Fprint(w, `{"status":"ok"}`)
		case r.Method == http.MethodPost:
			fmt.Fprint(w, `{"success":true,"results":{"inserted":0,"updated":0}}`)
		default:
			fmt.Fprint(w, `{"success":true,"data":[]}`)
		}
	}))
	defer srv.Close()

	deviceA := newDeviceStore(t)
	ctx := context.Background()
	if err := deviceA.CreateAsset(ctx, &store.Asset{Code: "IT-0001", Name: "Laptop"}); err != nil {
		t.Fatalf("create asset: %v", err)
	}

	c := New(deviceA, srv.URL)
	result := mustSync(t, c)
	if result.Uploaded["assets"] != 0 {
		t.Errorf("expected 0 applied rows, got %d", result.Uploaded["assets"])
	}
}

func TestPushErrorReportsStatus(t *testing.T) {
	// A proxy in front of the server may answer with an HTML error page;
	// the coordinator must surface the status, not a JSON decode error.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/health" {
			fmt.Fprint(w, `{"status":"ok"}`)
			return
		}
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, `<html><body>Bad Gateway</body></html>`)
	}))
	defer srv.Close()

	deviceA := newDeviceStore(t)
	ctx := context.Background()
	if err := deviceA.CreateAsset(ctx, &store.Asset{Code: "IT-0001", Name: "Laptop"}); err != nil {
		t.Fatalf("create asset: %v", err)
	}

	c := New(deviceA, srv.URL)
	result, err := c.Upload(ctx)
	if err != nil {
		t.Fatalf("upload round itself should not error: %v", err)
	}
	if result.Success {
		t.Error("result must not report success")
	}
	if len(result.Errors) == 0 {
		t.Fatal("expected an upload error")
	}
	if !strings.Contains(result.Errors[0], "status 502") {
		t.Errorf("error must carry the HTTP status, got %q", result.Errors[0])
	}
	if strings.Contains(result.Errors[0], "invalid character") {
		t.Errorf("decode noise leaked into the error: %q", result.Errors[0])
	}
}

func TestRequestsCarryInstanceID(t *testing.T) {
	var mu stdsync.Mutex
	seen := map[string]bool{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen[r.Header.Get("X-Instance-ID")] = true
		mu.Unlock()
		switch {
		case r.URL.Path == "/api/health":
			fmt.Fprint(w, `{"status":"ok"}`)
		case r.Method == http.MethodPost:
			fmt.Fprint(w, `{"success":true,"results":{"inserted":1,"updated":0}}`)
		default:
			fmt.Fprint(w, `{"success":true,"data":[]}`)
		}
	}))
	defer srv.Close()

	deviceA := newDeviceStore(t)
	ctx := context.Background()
	if err := deviceA.CreateAsset(ctx, &store.Asset{Code: "IT-0001", Name: "Laptop"}); err != nil {
		t.Fatalf("create asset: %v", err)
	}

	c := New(deviceA, srv.URL)
	c.SetInstanceID("handheld-07")
	mustSync(t, c)

	// Probe, pushes and pulls alike identify the device.
	mu.Lock()
	defer mu.Unlock()
	if !seen["handheld-07"] || len(seen) != 1 {
		t.Errorf("every request must carry the device identity, saw %v", seen)
	}
}

func TestUploadOnly(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	deviceA := newDeviceStore(t)
	if err := deviceA.CreateAsset(ctx, &store.Asset{Code: "IT-0001", Name: "Laptop"}); err != nil {
		t.Fatalf("create asset: %v", err)
	}

	c := New(deviceA, srv.URL)
	result, err := c.Upload(ctx)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !result.Success || result.Uploaded["assets"] != 1 {
		t.Errorf("unexpected result: %+v", result)
	}
	if len(result.Downloaded) != 0 {
		t.Errorf("upload-only run pulled data: %v", result.Downloaded)
	}

	// Only the upload cursor moved.
	wm, err := deviceA.Watermark(ctx, "assets", store.DirectionDownload)
	if err != nil {
		t.Fatalf("read watermark: %v", err)
	}
	if wm != "" {
		t.Errorf("download watermark advanced during upload-only run: %q", wm)
	}
}

func TestSyncSingleFlight(t *testing.T) {
	srv := newTestServer(t)
	deviceA := newDeviceStore(t)

	c := New(deviceA, srv.URL)
	if err := c.acquire(); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if _, err := c.SyncAll(context.Background()); !errors.Is(err, ErrSyncInProgress) {
		t.Fatalf("expected ErrSyncInProgress, got %v", err)
	}

	c.release()
	mustSync(t, c)
}
