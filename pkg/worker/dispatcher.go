package worker

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
	"strings"
)

// Dispatcher is the control plane's assignment-queue surface, called by the
// Worker Runtime (spec.md §4.7 steps 1 and 8). ProgressURL names the
// watchdog channel endpoint for a claimed run (spec.md §4.8); it needs no
// round trip since the URL is derived from the same base the worker was
// already configured with.
type Dispatcher interface {
	FetchAssignment(ctx context.Context, workerName string) (*Assignment, error)
	UploadResult(ctx context.Context, runID string, result *Result, outputDir string) error
	ProgressURL(runID, queueID string) string
}

// ErrRunForgotten is returned by UploadResult when the dispatcher responds
// 404: the run has been forgotten server-side and the worker must exit
// non-zero per spec.md §4.7 step 8.
var ErrRunForgotten = fmt.Errorf("dispatcher no longer knows this run id")

// HTTPDispatcher is the plain net/http implementation of Dispatcher: one
// small request builder per call, in the style of the moby-moby client
// package rather than a generated SDK, since the dispatcher's two-endpoint
// surface doesn't warrant one.
type HTTPDispatcher struct {
	BaseURL    string
	Credential string // "name:password", sent as HTTP Basic auth
	HTTP       *http.Client
}

func NewHTTPDispatcher(baseURL, credential string) *HTTPDispatcher {
	return &HTTPDispatcher{BaseURL: baseURL, Credential: credential, HTTP: &http.Client{}}
}

func (d *HTTPDispatcher) client() *http.Client {
	if d.HTTP != nil {
		return d.HTTP
	}
	return http.DefaultClient
}

func (d *HTTPDispatcher) setAuth(req *http.Request) {
	if d.Credential == "" {
		return
	}
	for i := 0; i < len(d.Credential); i++ {
		if d.Credential[i] == ':' {
			req.SetBasicAuth(d.Credential[:i], d.Credential[i+1:])
			return
		}
	}
}

// FetchAssignment POSTs to active-runs/ to claim the next queued run.
func (d *HTTPDispatcher) FetchAssignment(ctx context.Context, workerName string) (*Assignment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.BaseURL+"/active-runs/", bytes.NewReader([]byte(`{"worker":"`+workerName+`"}`)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	d.setAuth(req)

	resp, err := d.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching assignment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("fetching assignment: dispatcher returned %d: %s", resp.StatusCode, body)
	}

	var assignment Assignment
	if err := json.NewDecoder(resp.Body).Decode(&assignment); err != nil {
		return nil, fmt.Errorf("decoding assignment: %w", err)
	}
	return &assignment, nil
}

// UploadResult POSTs a multipart body to active-runs/{id}/finish: one
// result.json part with the metadata, and one file part per file in
// outputDir (spec.md §4.7 step 8).
func (d *HTTPDispatcher) UploadResult(ctx context.Context, runID string, result *Result, outputDir string) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}
	part, err := mw.CreateFormField("result.json")
	if err != nil {
		return err
	}
	if _, err := part.Write(resultJSON); err != nil {
		return err
	}

	if outputDir != "" {
		entries, err := os.ReadDir(outputDir)
		if err != nil {
			return fmt.Errorf("reading output directory: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if err := attachFile(mw, filepath.Join(outputDir, entry.Name()), entry.Name()); err != nil {
				return fmt.Errorf("attaching %s: %w", entry.Name(), err)
			}
		}
	}
	if err := mw.Close(); err != nil {
		return err
	}

	url := fmt.Sprintf("%s/active-runs/%s/finish", d.BaseURL, runID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	d.setAuth(req)

	resp, err := d.client().Do(req)
	if err != nil {
		return fmt.Errorf("uploading result: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrRunForgotten
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("uploading result: dispatcher returned %d: %s", resp.StatusCode, respBody)
	}
	return nil
}

// ProgressURL builds the ws(s):// endpoint for a run's progress channel
// (spec.md §4.8: `ws/active-runs/{id}/progress?queue_id=…`), by swapping the
// dispatcher base URL's scheme the way a browser upgrading http to ws would.
func (d *HTTPDispatcher) ProgressURL(runID, queueID string) string {
	base := d.BaseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return fmt.Sprintf("%s/ws/active-runs/%s/progress?queue_id=%s", base, runID, queueID)
}

func attachFile(mw *multipart.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	part, err := mw.CreateFormFile(name, name)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}
