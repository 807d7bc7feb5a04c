package analyzer

import "errors"

var (
	ErrNoReviews       = errors.New("no peer reviews to aggregate")
	ErrMalformedReview = errors.New("malformed peer review")
	ErrNoVotes         = errors.New("no judgment votes to resolve")
)
