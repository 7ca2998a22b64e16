package catalog

// Dedupe collapses entries by product url, the last occurrence of a url wins.
// order holds each url once, in the position it was first seen.
func Dedupe(entries []ListingEntry) (byUrl map[string]ListingEntry, order []string) {
	byUrl = make(map[string]ListingEntry, len(entries))
	for _, e := range entries {
		if _, seen := byUrl[e.ProductURL]; !seen {
			order = append(order, e.ProductURL)
		}
		byUrl[e.ProductURL] = e
	}
	return byUrl, order
}

// Diff is the result of comparing a fresh scrape against the backend baseline.
type Diff struct {
	// Updates are products known to the backend whose stock status changed.
	Updates []ListingEntry
	// New are urls the backend has never seen.
	New []string
}

// Reconcile compares scraped entries against the baseline. order fixes the
// iteration order of the output, urls in order that are missing from scraped are ignored.
//
// Products present in the baseline but missing from the scrape are not reported.
func Reconcile(scraped map[string]ListingEntry, order []string, baseline map[string]ProductStatus) Diff {
	var diff Diff
	for _, productUrl := range order {
		entry, ok := scraped[productUrl]
		if !ok {
			continue
		}
		known, exists := baseline[productUrl]
		if !exists {
			diff.New = append(diff.New, productUrl)
			continue
		}
		if known.IsActive != entry.IsActive {
			diff.Updates = append(diff.Updates, entry)
		}
	}
	return diff
}
