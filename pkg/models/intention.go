package models

// IntentionType is the fixed taxonomy of comment purposes.
type IntentionType string

const (
	IntentionResolve  IntentionType = "resolve"
	IntentionComplain IntentionType = "complain"
	IntentionCompare  IntentionType = "compare"
	IntentionCancel   IntentionType = "cancel"
	IntentionInquire  IntentionType = "inquire"
	IntentionPraise   IntentionType = "praise"
	IntentionSuggest  IntentionType = "suggest"
	IntentionOther    IntentionType = "other"
)

// AllIntentionTypes lists the taxonomy in display order.
var AllIntentionTypes = []IntentionType{
	IntentionResolve,
	IntentionComplain,
	IntentionCompare,
	IntentionCancel,
	IntentionInquire,
	IntentionPraise,
	IntentionSuggest,
	IntentionOther,
}

// IsValid reports whether t is part of the taxonomy.
func (t IntentionType) IsValid() bool {
	for _, known := range AllIntentionTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Intention is a seeded taxonomy row. The pipeline never creates intentions.
type Intention struct {
	ID          int64         `json:"id"`
	Type        IntentionType `json:"type"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
}
