package http

import (
	"net/http"
	"sort"

	"github.com/golang/gddo/httputil/header"
)

// negotiateContentType picks one of the offered content types based on
// the request's Accept header. Offers are in order of our preference.
// Higher quality (`q`) wins; among equal qualities, the earlier offer
// wins. An absent Accept header gets the first offer, and an Accept
// header matching none of the offers gets "".
func negotiateContentType(r *http.Request, offers []string) string {
	specs := header.ParseAccept(r.Header, "Accept")
	if len(specs) == 0 {
		return offers[0]
	}

	var candidates []header.AcceptSpec
	for _, spec := range specs {
		if offerIndex(offers, spec.Value) < len(offers) {
			candidates = append(candidates, spec)
		}
	}
	if len(candidates) == 0 {
		return ""
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Q != candidates[j].Q {
			return candidates[i].Q > candidates[j].Q
		}
		return offerIndex(offers, candidates[i].Value) < offerIndex(offers, candidates[j].Value)
	})
	return candidates[0].Value
}

// offerIndex returns len(offers) rather than -1 when absent, so the
// result can be compared directly when ranking candidates.
func offerIndex(offers []string, value string) int {
	for i, o := range offers {
		if o == value {
			return i
		}
	}
	return len(offers)
}
