package crm

import (
	"context"
	"iter"
)

// Page is one page of listing codes.
type Page struct {
	Number int
	IDs    []string
}

// Full reports whether the page was filled, i.e. more pages may follow.
func (p Page) Full(pageSize int) bool {
	return len(p.IDs) >= pageSize
}

// Pages walks the catalog from startPage. The sequence ends after the first
// short (or empty) page or after yielding an error; it never requests a page
// past a short one.
func (c *Client) Pages(ctx context.Context, startPage, pageSize int) iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		for n := startPage; ; n++ {
			ids, err := c.ListPage(ctx, n, pageSize)
			if err != nil {
				yield(Page{Number: n}, err)
				return
			}

			page := Page{Number: n, IDs: ids}
			if !yield(page, nil) || !page.Full(pageSize) {
				return
			}
		}
	}
}
