package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/richinsley/comfytrace/graphapi"
	"github.com/richinsley/comfytrace/nodeset"
	"github.com/richinsley/comfytrace/pngmeta"
)

// ComfyClient reads node definitions and prompt history from a running ComfyUI server
type ComfyClient struct {
	serverBaseAddress string
	protocol          string
	httpclient        *http.Client

	mu          sync.Mutex
	nodeobjects ObjectInfos
	initialized bool
}

// NewComfyClientWithTimeout creates a new client whose requests give up after timeout
func NewComfyClientWithTimeout(server_address string, server_port int, timeout time.Duration) *ComfyClient {
	retv := NewComfyClient(server_address, server_port)
	retv.httpclient = &http.Client{Timeout: timeout}
	return retv
}

// NewComfyClient creates a new client for the server at server_address:server_port
func NewComfyClient(server_address string, server_port int) *ComfyClient {
	return &ComfyClient{
		serverBaseAddress: server_address + ":" + strconv.Itoa(server_port),
		protocol:          "http",
		httpclient:        &http.Client{},
	}
}

// SetProtocol switches between "http" and "https"
func (c *ComfyClient) SetProtocol(protocol string) {
	c.protocol = protocol
}

// IsInitialized returns true once the node definitions have been fetched
func (c *ComfyClient) IsInitialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

// Init retrieves the collection of node objects. It is safe to call again to refresh them.
func (c *ComfyClient) Init(ctx context.Context) error {
	object_infos, err := c.GetObjectInfos(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodeobjects = object_infos
	c.initialized = true
	return nil
}

// CheckConnection initialises the client if that has not happened yet
func (c *ComfyClient) CheckConnection(ctx context.Context) error {
	if !c.IsInitialized() {
		return c.Init(ctx)
	}
	return nil
}

// set the underlying http client
func (c *ComfyClient) SetHttpClient(client *http.Client) {
	c.httpclient = client
}

func (c *ComfyClient) objects(ctx context.Context) (ObjectInfos, error) {
	if err := c.CheckConnection(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nodeobjects, nil
}

// InstalledCustomTypeNames returns the node types the server loaded from
// custom_nodes, with the repository each came from
func (c *ComfyClient) InstalledCustomTypeNames(ctx context.Context) (nodeset.Set, error) {
	objs, err := c.objects(ctx)
	if err != nil {
		return nil, err
	}
	_, custom := objs.Split()
	return custom, nil
}

// BuiltinTypeNames returns the core node types the server knows
func (c *ComfyClient) BuiltinTypeNames(ctx context.Context) (nodeset.Set, error) {
	objs, err := c.objects(ctx)
	if err != nil {
		return nil, err
	}
	builtin, _ := objs.Split()
	return builtin, nil
}

// NewGraphFromPNGReader extracts the workflow from PNG data and builds its graph.
// The returned names are node types in the graph the server does not provide.
func (c *ComfyClient) NewGraphFromPNGReader(ctx context.Context, r io.Reader) (*graphapi.Graph, []string, error) {
	meta, err := pngmeta.Extract(r)
	if err != nil {
		return nil, nil, err
	}
	doc := meta.Workflow
	if !meta.HasWorkflow() {
		doc = meta.Prompt
	}
	graph, err := graphapi.Build(doc)
	if err != nil {
		return nil, nil, err
	}

	objs, err := c.objects(ctx)
	if err != nil {
		return graph, nil, err
	}
	return graph, objs.Missing(graph), nil
}

// NewGraphFromPNGFile extracts the workflow from a PNG file and builds its graph
func (c *ComfyClient) NewGraphFromPNGFile(ctx context.Context, path string) (*graphapi.Graph, []string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()
	return c.NewGraphFromPNGReader(ctx, file)
}

func (c *ComfyClient) url(path string) string {
	return fmt.Sprintf("%s://%s%s", c.protocol, c.serverBaseAddress, path)
}
