// Package agent implements the solving loop: observe the page, ask the
// oracle, execute its decision, and keep sound retry bookkeeping around
// whatever it decides.
package agent

import "fmt"

// ActionKind is the closed set of decisions the oracle can make.
type ActionKind string

const (
	ActionNavigate    ActionKind = "navigate"
	ActionExecuteCode ActionKind = "execute_code"
	ActionSubmit      ActionKind = "submit"
	ActionDone        ActionKind = "done"
	ActionUnknown     ActionKind = "unknown"
)

// Action is one validated decision-cycle outcome. Only the decision parser
// constructs these; the rest of the loop switches on Kind.
type Action struct {
	Kind ActionKind

	// Navigate
	URL string

	// ExecuteCode
	Code string

	// Submit
	SubmitURL string
	Payload   map[string]interface{}

	// Free-text the oracle wants appended to the scratchpad.
	Note string

	// Unknown: the unrecognized reply, kept for the error observation.
	Raw string
}

// ResultKind classifies a submission outcome.
type ResultKind string

const (
	ResultCorrect   ResultKind = "correct"
	ResultIncorrect ResultKind = "incorrect"
	// ResultNonJSON is a 2xx response with an unparseable body; for this
	// server class a non-erroring status signals acceptance.
	ResultNonJSON   ResultKind = "non_json_success"
	ResultTransport ResultKind = "transport_failure"
)

// SubmissionResult is the classified outcome of posting an answer.
type SubmissionResult struct {
	Kind    ResultKind
	NextURL string
	Reason  string
	Status  int
	Body    string
}

func (r SubmissionResult) String() string {
	switch r.Kind {
	case ResultCorrect:
		if r.NextURL != "" {
			return fmt.Sprintf("correct, next level at %s", r.NextURL)
		}
		return "correct, no further level"
	case ResultIncorrect:
		if r.Reason != "" {
			return fmt.Sprintf("incorrect: %s", r.Reason)
		}
		return "incorrect"
	case ResultNonJSON:
		return fmt.Sprintf("accepted (status %d, non-JSON body)", r.Status)
	default:
		return fmt.Sprintf("submission failed: %s", r.Reason)
	}
}
