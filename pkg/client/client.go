// Package client is a typed HTTP client for the flashkv binding. Failed calls
// return errors that wrap the same status sentinels the engine uses, so
// errors.Is and status.CodeOf work across the wire.
package client

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/dd0wney/cluso-flashkv/pkg/api"
	"github.com/dd0wney/cluso-flashkv/pkg/recordlog"
	"github.com/dd0wney/cluso-flashkv/pkg/status"
)

const (
	partitionsEndpoint = "/v1/partitions"
	partitionEndpoint  = partitionsEndpoint + "/{partition}"
	namespaceEndpoint  = partitionEndpoint + "/namespaces/{namespace}"
	keyEndpoint        = namespaceEndpoint + "/keys/{key}"
)

// DefaultTimeout bounds every request.
const DefaultTimeout = 30 * time.Second

// Client talks to one flashkv server.
type Client struct {
	client  *resty.Client
	baseURL string
}

// New creates a client for the server at baseURL (e.g. "http://localhost:8080").
func New(baseURL string) *Client {
	return &Client{
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(DefaultTimeout).
			SetHeader("Accept", "application/json"),
		baseURL: baseURL,
	}
}

// NewWithHTTPClient wraps an existing http.Client, e.g. an httptest server's.
func NewWithHTTPClient(baseURL string, hc *http.Client) *Client {
	return &Client{
		client: resty.NewWithClient(hc).
			SetBaseURL(baseURL).
			SetHeader("Accept", "application/json"),
		baseURL: baseURL,
	}
}

// WithToken sends token as a bearer credential on every request.
func (c *Client) WithToken(token string) *Client {
	if token != "" {
		c.client.SetAuthToken(token)
	}
	return c
}

// WithTLSConfig sets the TLS configuration used for https:// servers, e.g.
// a pool that trusts a self-signed server certificate.
func (c *Client) WithTLSConfig(cfg *tls.Config) *Client {
	if cfg != nil {
		c.client.SetTLSClientConfig(cfg)
	}
	return c
}

func (c *Client) request(ctx context.Context) *resty.Request {
	return c.client.R().SetContext(ctx)
}

// call describes the operation for error reporting.
type call struct {
	op, partition, namespace, key string
}

// check turns a transport failure or an error response into a status error.
func (k call) check(resp *resty.Response, err error) error {
	b := status.NewError(k.op)
	if k.partition != "" {
		b.Partition(k.partition)
	}
	if k.key != "" {
		b.Blob(k.namespace, k.key)
	} else if k.namespace != "" {
		b.Namespace(k.namespace)
	}

	if err != nil {
		return b.Cause(status.IOError(k.op, err)).Err()
	}
	if !resp.IsError() {
		return nil
	}

	code := codeOf(resp)
	var body api.ErrorResponse
	if json.Unmarshal(resp.Body(), &body) == nil && body.Error != "" {
		b.Context("remote: %s", body.Error)
	} else {
		b.Context("HTTP %d", resp.StatusCode())
	}
	return b.Cause(code.Err()).Err()
}

// codeOf reads the status header, falling back to the JSON body.
func codeOf(resp *resty.Response) status.Code {
	if raw := resp.Header().Get(status.Header); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			return status.Code(n)
		}
	}
	var body api.ErrorResponse
	if json.Unmarshal(resp.Body(), &body) == nil && body.Code != 0 {
		return status.Code(body.Code)
	}
	return status.Unknown
}

// Partitions lists the partition table.
func (c *Client) Partitions(ctx context.Context) (api.PartitionList, error) {
	var list api.PartitionList
	resp, err := c.request(ctx).SetResult(&list).Get(partitionsEndpoint)
	return list, call{op: "list"}.check(resp, err)
}

// Info reports occupancy of a mounted partition.
func (c *Client) Info(ctx context.Context, part string) (recordlog.Info, error) {
	var info recordlog.Info
	resp, err := c.request(ctx).
		SetPathParam("partition", part).
		SetResult(&info).
		Get(partitionEndpoint)
	return info, call{op: "info", partition: part}.check(resp, err)
}

// InitPartition mounts a partition and returns its occupancy.
func (c *Client) InitPartition(ctx context.Context, part string) (recordlog.Info, error) {
	var info recordlog.Info
	resp, err := c.request(ctx).
		SetPathParam("partition", part).
		SetResult(&info).
		Post(partitionEndpoint + "/init")
	return info, call{op: "init", partition: part}.check(resp, err)
}

// ErasePartition erases every unit of a partition.
func (c *Client) ErasePartition(ctx context.Context, part string) error {
	resp, err := c.request(ctx).
		SetPathParam("partition", part).
		Post(partitionEndpoint + "/erase")
	return call{op: "erase", partition: part}.check(resp, err)
}

// Compact reclaims dead space and returns the resulting occupancy.
func (c *Client) Compact(ctx context.Context, part string) (recordlog.Info, error) {
	var info recordlog.Info
	resp, err := c.request(ctx).
		SetPathParam("partition", part).
		SetResult(&info).
		Post(partitionEndpoint + "/compact")
	return info, call{op: "compact", partition: part}.check(resp, err)
}

// Namespaces lists the namespaces of a partition.
func (c *Client) Namespaces(ctx context.Context, part string) ([]string, error) {
	var list api.NamespaceList
	resp, err := c.request(ctx).
		SetPathParam("partition", part).
		SetResult(&list).
		Get(partitionEndpoint + "/namespaces")
	return list.Namespaces, call{op: "namespaces", partition: part}.check(resp, err)
}

// Keys lists the keys of one namespace.
func (c *Client) Keys(ctx context.Context, part, ns string) ([]string, error) {
	var list api.KeyList
	resp, err := c.request(ctx).
		SetPathParams(map[string]string{"partition": part, "namespace": ns}).
		SetResult(&list).
		Get(namespaceEndpoint)
	return list.Keys, call{op: "keys", partition: part, namespace: ns}.check(resp, err)
}

// EraseNamespace deletes every key of ns and returns how many were removed.
func (c *Client) EraseNamespace(ctx context.Context, part, ns string) (int, error) {
	var out api.EraseNamespaceResponse
	resp, err := c.request(ctx).
		SetPathParams(map[string]string{"partition": part, "namespace": ns}).
		SetResult(&out).
		Delete(namespaceEndpoint)
	return out.Deleted, call{op: "erase_namespace", partition: part, namespace: ns}.check(resp, err)
}

func blobParams(part, ns, key string) map[string]string {
	return map[string]string{"partition": part, "namespace": ns, "key": key}
}

// KeyExists reports whether a key is present and its value length.
func (c *Client) KeyExists(ctx context.Context, part, ns, key string) (int, bool, error) {
	resp, err := c.request(ctx).SetPathParams(blobParams(part, ns, key)).Head(keyEndpoint)
	k := call{op: "exists", partition: part, namespace: ns, key: key}
	if err == nil && codeOf(resp) == status.KeyNotFound {
		return 0, false, nil
	}
	if err := k.check(resp, err); err != nil {
		return 0, false, err
	}
	size, convErr := strconv.Atoi(resp.Header().Get(api.SizeHeader))
	if convErr != nil {
		return 0, false, status.NewError("exists").Partition(part).Blob(ns, key).
			Context("bad %s header", api.SizeHeader).Cause(status.ErrCorrupt).Err()
	}
	return size, true, nil
}

// WriteBlob stores data under (ns, key).
func (c *Client) WriteBlob(ctx context.Context, part, ns, key string, data []byte) error {
	resp, err := c.request(ctx).
		SetPathParams(blobParams(part, ns, key)).
		SetHeader("Content-Type", "application/octet-stream").
		SetBody(data).
		Put(keyEndpoint)
	return call{op: "write", partition: part, namespace: ns, key: key}.check(resp, err)
}

// ReadBlob reads (ns, key), which must be exactly size bytes long.
func (c *Client) ReadBlob(ctx context.Context, part, ns, key string, size int) ([]byte, error) {
	resp, err := c.request(ctx).
		SetPathParams(blobParams(part, ns, key)).
		SetQueryParam("size", strconv.Itoa(size)).
		Get(keyEndpoint)
	if err := (call{op: "read", partition: part, namespace: ns, key: key}).check(resp, err); err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

// Get reads (ns, key) whatever its length.
func (c *Client) Get(ctx context.Context, part, ns, key string) ([]byte, error) {
	resp, err := c.request(ctx).SetPathParams(blobParams(part, ns, key)).Get(keyEndpoint)
	if err := (call{op: "get", partition: part, namespace: ns, key: key}).check(resp, err); err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

// DeleteKey removes (ns, key).
func (c *Client) DeleteKey(ctx context.Context, part, ns, key string) error {
	resp, err := c.request(ctx).SetPathParams(blobParams(part, ns, key)).Delete(keyEndpoint)
	return call{op: "delete", partition: part, namespace: ns, key: key}.check(resp, err)
}

// String identifies the server the client talks to.
func (c *Client) String() string {
	return fmt.Sprintf("flashkv client for %s", c.baseURL)
}
