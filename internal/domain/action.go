package domain

// ActionType names a directive embedded in generated text. Parsed types are
// kept verbatim, so values outside this set can appear.
type ActionType string

const (
	ActionScheduleMeeting  ActionType = "SCHEDULE_MEETING"
	ActionScheduleFollowup ActionType = "SCHEDULE_FOLLOWUP"
	ActionSendInformation  ActionType = "SEND_INFORMATION"
	ActionUpdateLead       ActionType = "UPDATE_LEAD"
	ActionEscalateToHuman  ActionType = "ESCALATE_TO_HUMAN"
	ActionRecommendProduct ActionType = "RECOMMEND_PRODUCT"
)

type Action struct {
	Type   ActionType        `json:"type"`
	Params map[string]string `json:"params,omitempty"`
}

// Param returns the named parameter or def when absent or blank.
func (a Action) Param(key, def string) string {
	if v, ok := a.Params[key]; ok && v != "" {
		return v
	}
	return def
}

// ActionResult is the outcome of one executed Action.
type ActionResult struct {
	Success bool           `json:"success"`
	Type    ActionType     `json:"action_type"`
	Details map[string]any `json:"details,omitempty"`
	Error   string         `json:"error,omitempty"`
}
