package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
)

// Bulk operations.
const (
	OpIndex  = "index"
	OpDelete = "delete"
)

// Action is one line pair of a bulk request.
type Action struct {
	Op    string
	Index string
	ID    string
	Doc   any // ignored for OpDelete
}

// BulkItem is the per-action outcome of a bulk request.
type BulkItem struct {
	Op          string
	Index       string
	ID          string
	Status      int
	ErrorType   string
	ErrorReason string
}

// Failed reports whether the item was rejected. A delete of a missing
// document is not a failure.
func (i BulkItem) Failed() bool {
	if i.Op == OpDelete && i.Status == 404 {
		return false
	}
	return i.Status >= 300 || i.ErrorType != ""
}

// BulkResult holds the outcome of a bulk request in action order.
type BulkResult struct {
	Items []BulkItem
}

// Failures returns the rejected items.
func (r BulkResult) Failures() []BulkItem {
	var out []BulkItem
	for _, it := range r.Items {
		if it.Failed() {
			out = append(out, it)
		}
	}
	return out
}

// Count returns how many items of op succeeded.
func (r BulkResult) Count(op string) int {
	n := 0
	for _, it := range r.Items {
		if it.Op == op && !it.Failed() {
			n++
		}
	}
	return n
}

// Indexer sends bulk requests.
type Indexer struct {
	client  *opensearch.Client
	refresh string
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithRefresh sets the bulk refresh policy ("true", "false" or "wait_for").
func WithRefresh(policy string) IndexerOption {
	return func(i *Indexer) {
		i.refresh = policy
	}
}

// NewIndexer wraps client for bulk requests.
func NewIndexer(client *opensearch.Client, opts ...IndexerOption) *Indexer {
	i := &Indexer{client: client}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Bulk sends actions in one request. An empty slice is a no-op.
func (i *Indexer) Bulk(ctx context.Context, actions []Action) (BulkResult, error) {
	if len(actions) == 0 {
		return BulkResult{}, nil
	}
	body, err := EncodeBulk(actions)
	if err != nil {
		return BulkResult{}, err
	}

	opts := []func(*opensearchapi.BulkRequest){i.client.Bulk.WithContext(ctx)}
	if i.refresh != "" {
		opts = append(opts, i.client.Bulk.WithRefresh(i.refresh))
	}
	res, err := i.client.Bulk(bytes.NewReader(body), opts...)
	if err != nil {
		return BulkResult{}, errors.Join(ErrBulkFailed, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return BulkResult{}, errors.Join(ErrBulkFailed, fmt.Errorf("%s: %s", res.Status(), raw))
	}
	return DecodeBulkResponse(res.Body)
}

// EncodeBulk renders actions as an NDJSON bulk body.
func EncodeBulk(actions []Action) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, a := range actions {
		if a.Index == "" || a.ID == "" {
			return nil, fmt.Errorf("%w: index and id are required", ErrInvalidAction)
		}
		meta := map[string]map[string]string{a.Op: {"_index": a.Index, "_id": a.ID}}
		switch a.Op {
		case OpIndex:
			if err := enc.Encode(meta); err != nil {
				return nil, err
			}
			if err := enc.Encode(a.Doc); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrInvalidAction, err)
			}
		case OpDelete:
			if err := enc.Encode(meta); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: op %q", ErrInvalidAction, a.Op)
		}
	}
	return buf.Bytes(), nil
}

type bulkResponse struct {
	Items []map[string]struct {
		Index  string `json:"_index"`
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// DecodeBulkResponse parses a bulk response body.
func DecodeBulkResponse(r io.Reader) (BulkResult, error) {
	var resp bulkResponse
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		return BulkResult{}, errors.Join(ErrBulkFailed, err)
	}
	result := BulkResult{Items: make([]BulkItem, 0, len(resp.Items))}
	for _, entry := range resp.Items {
		for op, it := range entry {
			item := BulkItem{Op: op, Index: it.Index, ID: it.ID, Status: it.Status}
			if it.Error != nil {
				item.ErrorType = it.Error.Type
				item.ErrorReason = it.Error.Reason
			}
			result.Items = append(result.Items, item)
		}
	}
	return result, nil
}
