// Package pagination walks the order history of one lead portfolio page by page.
//
// The upstream hands back an opaque "indexValue" with each page. The walker
// sends it with the next request until the upstream stops returning one, a
// page comes back empty, or the page cap is reached. Pages are fetched
// strictly one after another with a fixed delay before each request.
//
// Example usage:
//
//	orch, _ := client.New(client.DefaultConfig("", os.Getenv("BINANCE_PROXY_BASE")))
//	walker := pagination.NewWalker(orch, pagination.DefaultConfig())
//	res := walker.Walk(ctx, "4438679961865098497", pagination.DefaultTimeRange(time.Now()))
//
// A failed page ends the walk but keeps the records collected before it.
package pagination
