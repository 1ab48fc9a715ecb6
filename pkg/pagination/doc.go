// Package pagination walks the list endpoints of the entities API.
//
// Hotspot lists are cursor paginated: every page carries an "items" array and
// a "cursor" string, and the next page is requested by repeating the first
// request with an added cursor query parameter. An empty or null cursor ends
// the walk.
//
// Example usage:
//
//	walker := pagination.NewCursorWalker(apiClient, pagination.DefaultConfig())
//	stats, err := walker.Walk(ctx, "hotspots?subnetwork=iot", func(p pagination.Page) error {
//		return csvfile.AppendRecords(path, columns, p.Items)
//	})
//
// The walker:
//   - Requests pages strictly in sequence (each cursor comes from the previous page)
//   - Flattens every item into a flatten.Record before handing the page over
//   - Stops at the first page that cannot be fetched or decoded
//   - Reports pages and items seen, also on error
//
// Endpoints that return the whole list in one response, such as the org OUI
// list, are read with FetchList.
package pagination
