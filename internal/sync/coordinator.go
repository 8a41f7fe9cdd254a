package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	stdsync "sync"
	"time"

	"github.com/invtrack/invtrackgo/internal/store"
)

// Coordinator drives upload-then-download synchronization between the
// device store and the merge endpoint. Only one run may be active at a
// time per device.
type Coordinator struct {
	store        *store.Store
	baseURL      string
	client       *http.Client
	probeTimeout time.Duration
	instanceID   string

	mu      stdsync.Mutex
	syncing bool
}

// New creates a coordinator talking to the server at baseURL.
func New(s *store.Store, baseURL string) *Coordinator {
	return &Coordinator{
		store:        s,
		baseURL:      baseURL,
		client:       &http.Client{Timeout: 60 * time.Second},
		probeTimeout: 5 * time.Second,
	}
}

// SetProbeTimeout overrides the health probe timeout.
func (c *Coordinator) SetProbeTimeout(d time.Duration) {
	c.probeTimeout = d
}

// SetInstanceID sets the device identity sent with every request so the
// server can tell which device a batch came from.
func (c *Coordinator) SetInstanceID(id string) {
	c.instanceID = id
}

func (c *Coordinator) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.instanceID != "" {
		req.Header.Set("X-Instance-ID", c.instanceID)
	}
	return req, nil
}

// Ping probes the server health endpoint. A failed probe means no sync
// phase should run at all.
func (c *Coordinator) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, "/api/health", nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServerUnreachable, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServerUnreachable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health returned %d", ErrServerUnreachable, resp.StatusCode)
	}
	return nil
}

// SyncAll runs a full round: health probe, then upload and download for
// each entity in the fixed order. Per-entity failures are collected in
// the result; the round keeps going so one bad entity does not starve
// the rest.
func (c *Coordinator) SyncAll(ctx context.Context) (*Result, error) {
	return c.run(ctx, true, true)
}

// Upload pushes local changes for every entity without pulling.
func (c *Coordinator) Upload(ctx context.Context) (*Result, error) {
	return c.run(ctx, true, false)
}

// Download pulls server changes for every entity without pushing.
func (c *Coordinator) Download(ctx context.Context) (*Result, error) {
	return c.run(ctx, false, true)
}

func (c *Coordinator) run(ctx context.Context, doUpload, doDownload bool) (*Result, error) {
	if err := c.acquire(); err != nil {
		return nil, err
	}
	defer c.release()

	result := newResult()
	defer func() { result.Duration = time.Since(result.StartedAt) }()

	if err := c.Ping(ctx); err != nil {
		result.fail(err)
		return result, err
	}

	for _, entity := range entityOrder {
		if doUpload {
			if n, err := c.upload(ctx, entity); err != nil {
				log.Printf("⚠️ Upload %s failed: %v", entity, err)
				result.fail(fmt.Errorf("upload %s: %w", entity, err))
			} else {
				result.Uploaded[entity] = n
			}
		}

		if doDownload {
			if n, err := c.download(ctx, entity); err != nil {
				log.Printf("⚠️ Download %s failed: %v", entity, err)
				result.fail(fmt.Errorf("download %s: %w", entity, err))
			} else {
				result.Downloaded[entity] = n
			}
		}
	}

	if result.Success {
		log.Printf("✅ Sync complete: uploaded %v, downloaded %v in %s",
			result.Uploaded, result.Downloaded, time.Since(result.StartedAt).Round(time.Millisecond))
	}
	return result, nil
}

func (c *Coordinator) acquire() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.syncing {
		return ErrSyncInProgress
	}
	c.syncing = true
	return nil
}

func (c *Coordinator) release() {
	c.mu.Lock()
	c.syncing = false
	c.mu.Unlock()
}

// upload pushes rows changed since the entity's upload watermark. The
// watermark is captured before the query and only advanced after the
// server accepts the batch, so a failure re-sends the same rows later.
func (c *Coordinator) upload(ctx context.Context, entity string) (int, error) {
	phaseStart := c.store.Now()
	watermark, err := c.store.Watermark(ctx, entity, store.DirectionUpload)
	if err != nil {
		return 0, err
	}

	var payload interface{}
	var count int
	switch entity {
	case "assets":
		rows, err := c.store.AssetsChangedSince(ctx, watermark)
		if err != nil {
			return 0, err
		}
		count = len(rows)
		payload = map[string]interface{}{"assets": rows}
	case "audits":
		rows, err := c.store.AuditsChangedSince(ctx, watermark)
		if err != nil {
			return 0, err
		}
		count = len(rows)
		payload = map[string]interface{}{"audits": rows}
	case "categories":
		rows, err := c.store.CategoriesChangedSince(ctx, watermark)
		if err != nil {
			return 0, err
		}
		count = len(rows)
		payload = map[string]interface{}{"categories": rows}
	default:
		return 0, fmt.Errorf("unknown entity %q", entity)
	}

	// Report what the server actually applied, not what we sent: the
	// timestamp gate may skip stale rows.
	applied := 0
	if count > 0 {
		res, err := c.postJSON(ctx, "/api/"+entity+"/sync", payload)
		if err != nil {
			return 0, err
		}
		applied = res.Inserted + res.Updated
	}

	if err := c.store.SetWatermark(ctx, entity, store.DirectionUpload, phaseStart); err != nil {
		return 0, err
	}
	return applied, nil
}

// download pulls rows the server changed since the entity's download
// watermark and merges them locally. The watermark is the phase start,
// not the newest row seen, so rows committed on the server during the
// pull are re-fetched next round instead of being lost.
func (c *Coordinator) download(ctx context.Context, entity string) (int, error) {
	phaseStart := c.store.Now()
	watermark, err := c.store.Watermark(ctx, entity, store.DirectionDownload)
	if err != nil {
		return 0, err
	}

	path := "/api/" + entity
	if watermark != "" {
		path += "?since=" + url.QueryEscape(watermark)
	}

	var count int
	switch entity {
	case "assets":
		var envelope struct {
			Success bool           `json:"success"`
			Error   string         `json:"error"`
			Data    []*store.Asset `json:"data"`
		}
		if err := c.getJSON(ctx, path, &envelope); err != nil {
			return 0, err
		}
		if !envelope.Success {
			return 0, fmt.Errorf("server error: %s", envelope.Error)
		}
		for _, a := range envelope.Data {
			if err := c.store.ApplyRemoteAsset(ctx, a); err != nil {
				return 0, err
			}
		}
		count = len(envelope.Data)
	case "audits":
		var envelope struct {
			Success bool                  `json:"success"`
			Error   string                `json:"error"`
			Data    []*store.AuditSession `json:"data"`
		}
		if err := c.getJSON(ctx, path, &envelope); err != nil {
			return 0, err
		}
		if !envelope.Success {
			return 0, fmt.Errorf("server error: %s", envelope.Error)
		}
		for _, a := range envelope.Data {
			if err := c.store.ApplyRemoteAudit(ctx, a); err != nil {
				return 0, err
			}
		}
		count = len(envelope.Data)
	case "categories":
		var envelope struct {
			Success bool              `json:"success"`
			Error   string            `json:"error"`
			Data    []*store.Category `json:"data"`
		}
		if err := c.getJSON(ctx, path, &envelope); err != nil {
			return 0, err
		}
		if !envelope.Success {
			return 0, fmt.Errorf("server error: %s", envelope.Error)
		}
		for _, cat := range envelope.Data {
			if err := c.store.ApplyRemoteCategory(ctx, cat); err != nil {
				return 0, err
			}
		}
		count = len(envelope.Data)
	default:
		return 0, fmt.Errorf("unknown entity %q", entity)
	}

	if err := c.store.SetWatermark(ctx, entity, store.DirectionDownload, phaseStart); err != nil {
		return 0, err
	}
	return count, nil
}

func (c *Coordinator) postJSON(ctx context.Context, path string, payload interface{}) (mergeResults, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return mergeResults{}, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return mergeResults{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return mergeResults{}, err
	}
	defer resp.Body.Close()

	// On a non-200 the body may be an error page rather than JSON, so the
	// status has to win over any decode failure.
	if resp.StatusCode != http.StatusOK {
		var pr pushResponse
		if err := json.NewDecoder(resp.Body).Decode(&pr); err == nil && pr.Error != "" {
			return mergeResults{}, fmt.Errorf("push rejected: %s", pr.Error)
		}
		return mergeResults{}, fmt.Errorf("push rejected with status %d", resp.StatusCode)
	}

	var pr pushResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return mergeResults{}, fmt.Errorf("decode push response: %w", err)
	}
	if !pr.Success {
		if pr.Error != "" {
			return mergeResults{}, fmt.Errorf("push rejected: %s", pr.Error)
		}
		return mergeResults{}, fmt.Errorf("push rejected")
	}
	return pr.Results, nil
}

func (c *Coordinator) getJSON(ctx context.Context, path string, dst interface{}) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pull failed with status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}
