// Package pagination defines the paging contract shared by page loaders and
// scroll controllers.
//
// A page is identified by a 1-based index and a fixed size. Loaders return
// the decoded records of one page; an empty page is the authoritative
// end-of-data signal; no total counts or cursors are involved.
//
// Example usage:
//
//	req := pagination.PageRequest{Page: 1, Size: pagination.DefaultPageSize}
//	res, err := loader.FetchPage(ctx, req)
//	if err != nil {
//		return err
//	}
//	if res.Empty() {
//		// exhausted
//	}
//
// Any function with the right shape can act as a loader through FetcherFunc,
// which is how tests drive controllers without a network.
package pagination
