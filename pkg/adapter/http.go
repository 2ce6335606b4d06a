package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	retryablehttp "github.com/hashicorp/go-retryablehttp"
)

// HTTPConfig configures a generic HTTP generation backend.
type HTTPConfig struct {
	// BaseURL is the backend root, e.g. https://api.example.com/v1.
	BaseURL string
	// APIKey is sent as a bearer token when non-empty.
	APIKey string
	// Version is the algorithm version recorded in the SSOT.
	Version string
	// PollInterval is the delay between job status polls. Zero means 5s.
	PollInterval time.Duration
}

// HTTP drives a remote generation backend over a conventional REST surface:
// upload images to create a job, poll the job until it settles, download
// the resulting asset. Transport-level retries are delegated to
// go-retryablehttp; the orchestration-level retry policy stays in the
// worker, driven by the transient/permanent taxonomy.
type HTTP struct {
	cfg    HTTPConfig
	client *retryablehttp.Client
}

// NewHTTP creates an HTTP backend adapter.
func NewHTTP(cfg HTTPConfig) *HTTP {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.Logger = nil
	return &HTTP{cfg: cfg, client: client}
}

type httpJob struct {
	ID           string   `json:"id"`
	Status       string   `json:"status"`
	AssetURL     string   `json:"asset_url"`
	PreviewURLs  []string `json:"preview_urls"`
	Version      string   `json:"version"`
	UnitPriceUSD *float64 `json:"unit_price_usd"`
	Currency     string   `json:"currency"`
	Error        string   `json:"error"`
}

// Execute uploads the request images, polls until the backend settles the
// job, and downloads the generated asset into the job output directory.
func (h *HTTP) Execute(ctx context.Context, req *Request) (*Result, error) {
	job, err := h.createJob(ctx, req)
	if err != nil {
		return nil, err
	}

	interval := h.cfg.PollInterval
	if interval == 0 {
		interval = 5 * time.Second
	}

	for {
		switch job.Status {
		case "succeeded":
			return h.download(ctx, req, job)
		case "failed":
			return nil, Permanentf("backend reported failure for job %s: %s", req.JobID, job.Error)
		}

		select {
		case <-ctx.Done():
			return nil, Transientf("cancelled while polling job %s: %v", req.JobID, ctx.Err())
		case <-time.After(interval):
		}

		job, err = h.pollJob(ctx, job.ID)
		if err != nil {
			return nil, err
		}
	}
}

func (h *HTTP) createJob(ctx context.Context, req *Request) (*httpJob, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for i, img := range req.UsedImages {
		part, err := mw.CreateFormFile(fmt.Sprintf("image_%d", i+1), filepath.Base(img))
		if err != nil {
			return nil, Permanentf("failed to build upload: %v", err)
		}
		f, err := os.Open(img)
		if err != nil {
			return nil, Permanentf("failed to open image %s: %v", img, err)
		}
		_, err = io.Copy(part, f)
		f.Close()
		if err != nil {
			return nil, Permanentf("failed to read image %s: %v", img, err)
		}
	}
	_ = mw.WriteField("product_id", req.ProductID)
	_ = mw.WriteField("variant", req.Variant)
	_ = mw.WriteField("algo", req.Algo)
	for k, v := range req.Extras {
		_ = mw.WriteField(k, v)
	}
	if err := mw.Close(); err != nil {
		return nil, Permanentf("failed to finalize upload: %v", err)
	}

	hreq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, h.cfg.BaseURL+"/jobs", body.Bytes())
	if err != nil {
		return nil, Permanentf("failed to build request: %v", err)
	}
	hreq.Header.Set("Content-Type", mw.FormDataContentType())
	h.auth(hreq)

	var job httpJob
	if err := h.do(hreq, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (h *HTTP) pollJob(ctx context.Context, id string) (*httpJob, error) {
	hreq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, h.cfg.BaseURL+"/jobs/"+id, nil)
	if err != nil {
		return nil, Permanentf("failed to build poll request: %v", err)
	}
	h.auth(hreq)

	var job httpJob
	if err := h.do(hreq, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (h *HTTP) download(ctx context.Context, req *Request, job *httpJob) (*Result, error) {
	if err := os.MkdirAll(req.OutDir, 0o755); err != nil {
		return nil, Permanentf("failed to create output directory: %v", err)
	}
	if err := h.fetch(ctx, job.AssetURL, filepath.Join(req.OutDir, "generated.glb")); err != nil {
		return nil, err
	}
	var previews []string
	for i, url := range job.PreviewURLs {
		name := fmt.Sprintf("preview_%d.png", i+1)
		if err := h.fetch(ctx, url, filepath.Join(req.OutDir, name)); err != nil {
			return nil, err
		}
		previews = append(previews, name)
	}

	version := job.Version
	if version == "" {
		version = h.cfg.Version
	}
	return &Result{
		ObjectPath:   "generated.glb",
		Previews:     previews,
		AlgoVersion:  version,
		UnitPriceUSD: job.UnitPriceUSD,
		Currency:     job.Currency,
	}, nil
}

func (h *HTTP) fetch(ctx context.Context, url, dest string) error {
	hreq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Permanentf("failed to build download request: %v", err)
	}
	h.auth(hreq)

	resp, err := h.client.Do(hreq)
	if err != nil {
		return Transientf("download failed: %v", err)
	}
	defer resp.Body.Close()
	if err := classifyStatus(resp.StatusCode); err != nil {
		return err
	}

	f, err := os.Create(dest)
	if err != nil {
		return Permanentf("failed to create %s: %v", dest, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return Transientf("download interrupted: %v", err)
	}
	return nil
}

func (h *HTTP) do(hreq *retryablehttp.Request, out any) error {
	resp, err := h.client.Do(hreq)
	if err != nil {
		return Transientf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if err := classifyStatus(resp.StatusCode); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return Transientf("failed to decode response: %v", err)
	}
	return nil
}

func (h *HTTP) auth(hreq *retryablehttp.Request) {
	if h.cfg.APIKey != "" {
		hreq.Header.Set("Authorization", "Bearer "+h.cfg.APIKey)
	}
}

// classifyStatus maps HTTP status codes onto the adapter error taxonomy:
// 429 and 5xx are transient, other non-2xx are permanent.
func classifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests || code >= 500:
		return Transientf("backend returned %d", code)
	default:
		return Permanentf("backend returned %d", code)
	}
}
