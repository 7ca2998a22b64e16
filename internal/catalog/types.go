// Package catalog holds the records that flow between the storefront scraper and the
// backend, and the diffing of fresh scrapes against the backend's known state.
package catalog

// ListingEntry is one product card on a listing page.
type ListingEntry struct {
	ProductURL string `json:"product_url"`
	IsActive   bool   `json:"is_active"`
}

// ProductStatus is the backend's last known state of a product.
type ProductStatus struct {
	ProductURL string `json:"product_url"`
	IsActive   bool   `json:"is_active"`
}

// ProductDetail is a fully scraped product, ready to be upserted.
type ProductDetail struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	// Price is the local selling price, it is filled in downstream and always sent as 0.
	Price      float64  `json:"price"`
	MSRP       float64  `json:"MSRP"`
	Images     []string `json:"images"`
	IsActive   bool     `json:"is_active"`
	ProductURL string   `json:"product_url"`
	SKU        string   `json:"sku"`
}
