package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"

	"github.com/richinsley/comfytrace/graphapi"
)

/*
Routes read by this client:

@routes.get("/system_stats")
@routes.get("/object_info")
@routes.get("/history")
@routes.get("/history/{prompt_id}")
*/

// StatusError is returned when the server answers with a non-200 status
type StatusError struct {
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d: %s", e.Path, e.Status, e.Body)
}

// getJSON performs a GET on path and decodes the JSON response into dst
func (c *ComfyClient) getJSON(ctx context.Context, path string, dst interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpclient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Path: path, Status: resp.StatusCode, Body: string(body)}
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *ComfyClient) GetSystemStats(ctx context.Context) (*SystemStats, error) {
	retv := &SystemStats{}
	if err := c.getJSON(ctx, "/system_stats", retv); err != nil {
		return nil, err
	}
	return retv, nil
}

// GetObjectInfos retrieves the definitions of every node type the server has loaded
func (c *ComfyClient) GetObjectInfos(ctx context.Context) (ObjectInfos, error) {
	retv := make(ObjectInfos)
	if err := c.getJSON(ctx, "/object_info", &retv); err != nil {
		return nil, err
	}
	for name, info := range retv {
		if info != nil && info.Name == "" {
			info.Name = name
		}
	}
	slog.Debug("fetched object info", "server", c.serverBaseAddress, "types", len(retv))
	return retv, nil
}

// historyEntry is the server's layout of one history item. The prompt is stored
// as an array:
//
//	[0] number     int
//	[1] prompt id  string
//	[2] prompt     map of node id to PromptNode
//	[3] extra data {"extra_pnginfo": {"workflow": {...}}}
//	[4] outputs    node ids that produce outputs
type historyEntry struct {
	Prompt []json.RawMessage `json:"prompt"`
}

type historyExtraData struct {
	ExtraPngInfo struct {
		Workflow json.RawMessage `json:"workflow"`
	} `json:"extra_pnginfo"`
}

// GetHistory retrieves the prompt history ordered by queue index
func (c *ComfyClient) GetHistory(ctx context.Context) ([]*HistoryItem, error) {
	return c.history(ctx, "/history")
}

// GetHistoryItem retrieves a single history item, nil when the server does not know the id
func (c *ComfyClient) GetHistoryItem(ctx context.Context, promptID string) (*HistoryItem, error) {
	items, err := c.history(ctx, "/history/"+promptID)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if item.PromptID == promptID {
			return item, nil
		}
	}
	return nil, nil
}

func (c *ComfyClient) history(ctx context.Context, path string) ([]*HistoryItem, error) {
	entries := make(map[string]historyEntry)
	if err := c.getJSON(ctx, path, &entries); err != nil {
		return nil, err
	}

	retv := make([]*HistoryItem, 0, len(entries))
	for id, entry := range entries {
		item, err := decodeHistoryEntry(id, entry)
		if err != nil {
			slog.Warn("skipping unreadable history item", "prompt_id", id, "error", err)
			continue
		}
		retv = append(retv, item)
	}

	// ComfyUI does not recalculate the indices of history items, so they may not
	// be ordered 0..n
	sort.Slice(retv, func(i, j int) bool {
		if retv[i].Index != retv[j].Index {
			return retv[i].Index < retv[j].Index
		}
		return retv[i].PromptID < retv[j].PromptID
	})
	return retv, nil
}

func decodeHistoryEntry(id string, entry historyEntry) (*HistoryItem, error) {
	if len(entry.Prompt) < 3 {
		return nil, fmt.Errorf("prompt array has %d elements", len(entry.Prompt))
	}
	item := &HistoryItem{PromptID: id}
	if err := json.Unmarshal(entry.Prompt[0], &item.Index); err != nil {
		return nil, fmt.Errorf("index: %w", err)
	}
	record, err := graphapi.ParseExecutionRecord(entry.Prompt[2])
	if err != nil {
		return nil, fmt.Errorf("prompt: %w", err)
	}
	item.Record = record

	if len(entry.Prompt) > 3 {
		var extra historyExtraData
		if err := json.Unmarshal(entry.Prompt[3], &extra); err == nil && len(extra.ExtraPngInfo.Workflow) != 0 && string(extra.ExtraPngInfo.Workflow) != "null" {
			item.Workflow = extra.ExtraPngInfo.Workflow
		}
	}
	return item, nil
}
