package pipeline

import (
	"catalogscraper/internal/catalog"
	"catalogscraper/internal/images"
)

type Status string

const (
	// StatusDone means the write went through.
	StatusDone Status = "done"
	// StatusScraped means the product was scraped but writes were disabled.
	StatusScraped Status = "scraped"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Outcome is what happened to a single item of a run.
type Outcome struct {
	URL    string
	Status Status
	Reason string
	Err    error

	Product catalog.ProductDetail
	Images  []images.Result
}

func (o Outcome) Ok() bool {
	return o.Status == StatusDone || o.Status == StatusScraped
}

func done(url string) Outcome {
	return Outcome{URL: url, Status: StatusDone}
}

func skipped(url, reason string, err error) Outcome {
	return Outcome{URL: url, Status: StatusSkipped, Reason: reason, Err: err}
}

func failed(url, reason string, err error) Outcome {
	return Outcome{URL: url, Status: StatusFailed, Reason: reason, Err: err}
}
