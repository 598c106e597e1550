package workers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/easel/internal/common"
	"github.com/ternarybob/easel/internal/interfaces"
	"github.com/ternarybob/easel/internal/models"
)

// Client is the per-node persistent handle. HTTP calls share one underlying
// client; per-operation deadlines come from the Timeouts bundle combined
// with the caller's context.
type Client struct {
	nodeID   string
	baseURL  string
	wsURL    string
	clientID string
	http     *http.Client
	timeouts Timeouts
	logger   arbor.ILogger

	listener *listener
}

// NewClient creates a worker client for one node.
func NewClient(node *models.Node, timeouts Timeouts, logger arbor.ILogger) *Client {
	clientID := common.NewClientID()
	return &Client{
		nodeID:   node.ID,
		baseURL:  node.BaseURL(),
		wsURL:    node.WSURL(clientID),
		clientID: clientID,
		// No global timeout on the shared client; each call carries its own
		// context deadline.
		http:     &http.Client{},
		timeouts: timeouts,
		logger:   logger,
	}
}

// NodeID returns the node this client talks to.
func (c *Client) NodeID() string {
	return c.nodeID
}

type submitRequest struct {
	Prompt   models.WorkflowGraph `json:"prompt"`
	ClientID string               `json:"client_id"`
}

type submitResponse struct {
	JobID       string `json:"job_id"`
	QueueNumber int    `json:"queue_number"`
}

// Submit posts a job graph and returns the worker-side job id.
func (c *Client) Submit(ctx context.Context, graph models.WorkflowGraph) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Submit)
	defer cancel()

	body, err := json.Marshal(submitRequest{Prompt: graph, ClientID: c.clientID})
	if err != nil {
		return "", models.WrapError(models.ErrTransport, "failed to encode job graph", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt", bytes.NewReader(body))
	if err != nil {
		return "", models.WrapError(models.ErrTransport, "failed to build submit request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", models.WrapError(models.ErrTransport, "submit failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", models.Errorf(models.ErrRejectedByWorker, "worker %s rejected job graph: %s", c.nodeID, string(msg))
	}
	if resp.StatusCode != http.StatusOK {
		return "", models.Errorf(models.ErrTransport, "worker %s returned status %d on submit", c.nodeID, resp.StatusCode)
	}

	var sr submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", models.WrapError(models.ErrTransport, "failed to decode submit response", err)
	}
	if sr.JobID == "" {
		return "", models.Errorf(models.ErrTransport, "worker %s returned empty job id", c.nodeID)
	}

	c.logger.Debug().Str("node", c.nodeID).Str("worker_job_id", sr.JobID).Int("queue_number", sr.QueueNumber).Msg("Job submitted")
	return sr.JobID, nil
}

type historyProgress struct {
	Current int `json:"current"`
	Max     int `json:"max"`
}

type historyOutput struct {
	Filename string `json:"filename"`
}

type historyResponse struct {
	Status   string           `json:"status"`
	Progress *historyProgress `json:"progress,omitempty"`
	Outputs  []historyOutput  `json:"outputs,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// PollUntilComplete polls the history endpoint until the worker reports a
// terminal status or the job deadline elapses. Transient transport errors on
// individual polls are tolerated; the loop keeps going until the deadline.
func (c *Client) PollUntilComplete(ctx context.Context, workerJobID string) (*interfaces.JobOutputs, error) {
	deadline := time.NewTimer(c.timeouts.Job)
	defer deadline.Stop()
	ticker := time.NewTicker(c.timeouts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, models.Errorf(models.ErrCancelled, "job %s cancelled", workerJobID)
		case <-deadline.C:
			return nil, models.Errorf(models.ErrTimeout, "job %s did not complete within %s", workerJobID, c.timeouts.Job)
		case <-ticker.C:
			hist, err := c.pollHistory(ctx, workerJobID)
			if err != nil {
				c.logger.Debug().Err(err).Str("worker_job_id", workerJobID).Msg("History poll failed; will retry")
				continue
			}
			switch hist.Status {
			case "complete":
				outputs := &interfaces.JobOutputs{}
				for _, o := range hist.Outputs {
					outputs.Filenames = append(outputs.Filenames, o.Filename)
				}
				return outputs, nil
			case "failed":
				return nil, models.Errorf(models.ErrRejectedByWorker, "worker reported failure: %s", hist.Error)
			}
		}
	}
}

func (c *Client) pollHistory(ctx context.Context, workerJobID string) (*historyResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.PollTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/history/"+url.PathEscape(workerJobID), nil)
	if err != nil {
		return nil, models.WrapError(models.ErrTransport, "failed to build history request", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, models.WrapError(models.ErrTransport, "history poll failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// Worker has not recorded the job yet; treat as still running.
		return &historyResponse{Status: "running"}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, models.Errorf(models.ErrTransport, "history poll returned status %d", resp.StatusCode)
	}

	var hist historyResponse
	if err := json.NewDecoder(resp.Body).Decode(&hist); err != nil {
		return nil, models.WrapError(models.ErrTransport, "failed to decode history response", err)
	}
	return &hist, nil
}

// FetchArtifact retrieves raw artifact bytes by filename.
func (c *Client) FetchArtifact(ctx context.Context, filename string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Artifact)
	defer cancel()

	u := fmt.Sprintf("%s/view?filename=%s&type=output", c.baseURL, url.QueryEscape(filename))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, models.WrapError(models.ErrTransport, "failed to build artifact request", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, models.WrapError(models.ErrTransport, "artifact fetch failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, models.Errorf(models.ErrNotFound, "artifact not found: %s", filename)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, models.Errorf(models.ErrTransport, "artifact fetch returned status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

type assetResponse struct {
	Checkpoints []string `json:"checkpoints"`
	Adapters    []string `json:"adapters"`
	Upscalers   []string `json:"upscalers"`
	VAEs        []string `json:"vaes"`
}

// ListAssets queries the worker for available models and adapters.
func (c *Client) ListAssets(ctx context.Context) (*interfaces.AssetEnumeration, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Submit)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/object_info", nil)
	if err != nil {
		return nil, models.WrapError(models.ErrTransport, "failed to build asset request", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, models.WrapError(models.ErrTransport, "asset enumeration failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, models.Errorf(models.ErrTransport, "asset enumeration returned status %d", resp.StatusCode)
	}

	var ar assetResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return nil, models.WrapError(models.ErrTransport, "failed to decode asset response", err)
	}

	return &interfaces.AssetEnumeration{
		Checkpoints: ar.Checkpoints,
		Adapters:    ar.Adapters,
		Upscalers:   ar.Upscalers,
		VAEs:        ar.VAEs,
	}, nil
}

// Probe performs one cheap status check against the system stats endpoint
// and returns the round-trip time in milliseconds.
func (c *Client) Probe(ctx context.Context) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Probe)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/system_stats", nil)
	if err != nil {
		return 0, models.WrapError(models.ErrTransport, "failed to build probe request", err)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, models.WrapError(models.ErrTransport, "probe failed", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return 0, models.Errorf(models.ErrTransport, "probe returned status %d", resp.StatusCode)
	}

	return float64(time.Since(start).Microseconds()) / 1000.0, nil
}

// Start opens the long-lived event subscription. Reconnection is internal;
// higher layers only see decoded events on the sink.
func (c *Client) Start(sink func(interfaces.WorkerEvent)) {
	if c.listener != nil {
		return
	}
	c.listener = newListener(c.nodeID, c.wsURL, c.timeouts, sink, c.logger)
	c.listener.start()
}

// Close stops the event listener.
func (c *Client) Close() error {
	if c.listener != nil {
		c.listener.stop()
		c.listener = nil
	}
	return nil
}
