// Package opensearch connects to an OpenSearch cluster and sends bulk index
// requests for the SEARCH_REINDEX work adapter.
//
// New builds a *opensearch.Client from Config and runs Healthcheck once.
// Indexer wraps the client's Bulk API: EncodeBulk renders actions as NDJSON
// and DecodeBulkResponse turns the response into per-item outcomes, so callers
// can tell a rejected document from a failed request.
//
//	client, err := opensearch.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	res, err := opensearch.NewIndexer(client).Bulk(ctx, []opensearch.Action{
//	    {Op: opensearch.OpIndex, Index: "workqueue-orders", ID: "o1", Doc: doc},
//	    {Op: opensearch.OpDelete, Index: "workqueue-orders", ID: "o2"},
//	})
//	if failed := res.Failures(); len(failed) > 0 {
//	    // some documents were rejected
//	}
//
// A delete answered with 404 counts as success.
package opensearch
