package workflow

// ResultCode is the verdict returned by the workflow, driving ticket state
// transitions.
type ResultCode string

const (
	ResultAnswered                  ResultCode = "answered"
	ResultRequirementMoreAnswer     ResultCode = "requirement-more-answer"
	ResultRequiredHearing           ResultCode = "required_hearing"
	ResultAnsweredCallbackFulfilled ResultCode = "answered-callback-fulfilled"
)

// Verdict is the structured verdict decoded once from raw workflow outputs.
// Unrecognized codes keep their raw value in Code with Known reporting false.
type Verdict struct {
	Code               ResultCode
	Text               string
	Title              string
	HearingReason      string
	RecommendReasoning string
	HearingRealNames   []string
	HearingEmails      []string
	FulfilledText      string
}

// Known reports whether the verdict code is in the recognized set.
func (v Verdict) Known() bool {
	switch v.Code {
	case ResultAnswered, ResultRequirementMoreAnswer, ResultRequiredHearing, ResultAnsweredCallbackFulfilled:
		return true
	}
	return false
}

// DecodeVerdict maps raw outputs into a Verdict. Candidate responder names
// and emails are normalized to parallel string slices regardless of whether
// the workflow returned scalars or arrays.
func DecodeVerdict(out Outputs) Verdict {
	return Verdict{
		Code:               ResultCode(out.ResultCode()),
		Text:               out.Text(),
		Title:              out.Title(),
		HearingReason:      out.stringValue("hearingReason"),
		RecommendReasoning: out.stringValue("recommendReasoning"),
		HearingRealNames:   out.StringList("hearingRealNames"),
		HearingEmails:      out.StringList("hearingEmails"),
		FulfilledText:      out.stringValue("fulfilledText"),
	}
}
