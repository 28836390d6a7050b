// Package scroll implements the infinite-scroll pagination state machine.
//
// A Controller owns the accumulated records of one list and a subscription
// to a sentinel: a marker placed after the last rendered record. Each time
// the sentinel becomes visible the controller fetches the next page, unless
// a fetch is already outstanding or an empty page has exhausted the list.
//
//	Idle --visible--> Loading --records--> Idle
//	                  Loading --empty----> Exhausted
//	                  Loading --error----> Idle (same page retried on next trigger)
//	any  --reload---> Loading (page 1, records cleared)
//
// At most one fetch is outstanding per generation. Reloads and Close bump the
// generation, and results from an older generation are dropped, so a
// response that lands after a reload or after Close never mutates state.
// Fetches are not cancelled; a hung fetch keeps the controller Loading until
// it returns.
//
// Example usage:
//
//	ctrl, err := scroll.New(ctx, loader, scroll.Config{
//		PageSize: 5,
//		OnChange: func(s scroll.Snapshot) { render(s) },
//	})
//	if err != nil {
//		return err
//	}
//	defer ctrl.Close()
//
//	ctrl.Start()
//	ctrl.AttachSentinel(el.Sentinel(viewport.DefaultOptions()))
package scroll
