package storefront

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// jsonldNumber accepts a JSON number, a numeric string (commas allowed) or null.
type jsonldNumber struct {
	Value float64
}

func (n *jsonldNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
		if s == "" {
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*n = jsonldNumber{Value: v}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*n = jsonldNumber{Value: v}
	return nil
}

// jsonldText accepts a string or a number, skus are sometimes emitted unquoted.
type jsonldText string

func (t *jsonldText) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = jsonldText(s)
		return nil
	}
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*t = jsonldText(n.String())
	return nil
}

type jsonldOffer struct {
	Price        jsonldNumber `json:"price"`
	Availability string       `json:"availability"`
}

// jsonldOffers accepts either a list of offers or a single offer object.
type jsonldOffers []jsonldOffer

func (o *jsonldOffers) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var single jsonldOffer
		if err := json.Unmarshal(data, &single); err != nil {
			return err
		}
		*o = jsonldOffers{single}
		return nil
	}
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var many []jsonldOffer
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*o = many
	return nil
}

type jsonldProduct struct {
	Type        json.RawMessage `json:"@type"`
	Name        jsonldText      `json:"name"`
	Description jsonldText      `json:"description"`
	SKU         jsonldText      `json:"sku"`
	Offers      jsonldOffers    `json:"offers"`
}

func (p jsonldProduct) isProduct() bool {
	var single string
	if json.Unmarshal(p.Type, &single) == nil {
		return single == "Product"
	}
	var many []string
	if json.Unmarshal(p.Type, &many) == nil {
		for _, t := range many {
			if t == "Product" {
				return true
			}
		}
	}
	return false
}

// parseJsonld decodes a single ld+json script body, which may hold one object or a list of them.
func parseJsonld(text string) ([]jsonldProduct, error) {
	data := bytes.TrimSpace([]byte(text))
	if len(data) > 0 && data[0] == '[' {
		var many []jsonldProduct
		err := json.Unmarshal(data, &many)
		return many, err
	}
	var single jsonldProduct
	err := json.Unmarshal(data, &single)
	if err != nil {
		return nil, err
	}
	return []jsonldProduct{single}, nil
}
