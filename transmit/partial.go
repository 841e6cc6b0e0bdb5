package transmit

import (
	"fmt"
	"slices"

	jsoniter "github.com/json-iterator/go"

	"github.com/honeycombio/beacon/generics"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// partialResponse is the body of a 206 from the collection endpoint.
type partialResponse struct {
	ItemsReceived int         `json:"itemsReceived"`
	ItemsAccepted int         `json:"itemsAccepted"`
	Errors        []itemError `json:"errors"`
}

type itemError struct {
	Index      int    `json:"index"`
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
}

// parsePartialResponse decodes body and checks that it accounts for exactly
// the batchLen items that were sent.
func parsePartialResponse(body []byte, batchLen int) (*partialResponse, error) {
	var pr partialResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return nil, fmt.Errorf("decoding partial response: %w", err)
	}
	if err := pr.validate(batchLen); err != nil {
		return nil, err
	}
	return &pr, nil
}

func (p *partialResponse) validate(batchLen int) error {
	if p.ItemsReceived <= 0 {
		return fmt.Errorf("itemsReceived must be positive, got %d", p.ItemsReceived)
	}
	if p.ItemsReceived < p.ItemsAccepted {
		return fmt.Errorf("itemsAccepted %d exceeds itemsReceived %d", p.ItemsAccepted, p.ItemsReceived)
	}
	if p.ItemsReceived-p.ItemsAccepted != len(p.Errors) {
		return fmt.Errorf("%d errors for %d rejected items", len(p.Errors), p.ItemsReceived-p.ItemsAccepted)
	}

	seen := generics.NewSet[int]()
	for _, e := range p.Errors {
		if e.Index < 0 || e.Index >= batchLen {
			return fmt.Errorf("error index %d outside a batch of %d", e.Index, batchLen)
		}
		if seen.Contains(e.Index) {
			return fmt.Errorf("duplicate error index %d", e.Index)
		}
		seen.Add(e.Index)
	}
	return nil
}

// split returns the items that should be sent again and the items that are
// lost for good, each in batch order. Errors are walked from the highest
// index down.
func (p *partialResponse) split(items []string) (retry, failed []string) {
	errs := slices.Clone(p.Errors)
	slices.SortFunc(errs, func(a, b itemError) int { return b.Index - a.Index })

	for _, e := range errs {
		if retryableStatus(e.StatusCode) {
			retry = append(retry, items[e.Index])
		} else {
			failed = append(failed, items[e.Index])
		}
	}
	slices.Reverse(retry)
	slices.Reverse(failed)
	return retry, failed
}
