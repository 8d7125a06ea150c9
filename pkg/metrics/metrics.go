package metrics

/*
Labels and so on for metrics used in bluegreen.
*/

const (
	LabelMethod  = "method"
	LabelRoute   = "route"
	LabelService = "service"
	LabelSuccess = "success"

	// Labels for deployment metrics
	LabelColor   = "color"
	LabelOutcome = "outcome"
	LabelStage   = "stage"
)
