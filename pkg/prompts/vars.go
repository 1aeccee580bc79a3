package prompts

// Name identifies a prompt template.
type Name string

const (
	InsightDetection   Name = "insight-detection"
	IntentionDetection Name = "intention-detection"
	SentimentAnalysis  Name = "sentiment-analysis"
)

// InsightDetectionVars feeds the insight-detection template.
type InsightDetectionVars struct {
	ExistingInsights []string `json:"existingInsights" validate:"dive,required"`
	Comments         []string `json:"comments" validate:"min=1,dive,required"`
}

// IntentionDetectionVars feeds the intention-detection template.
type IntentionDetectionVars struct {
	Comments       []string `json:"comments" validate:"min=1,dive,required"`
	IntentionTypes []string `json:"intentionTypes" validate:"min=1,dive,required"`
}

// SentimentPair is one (comment, insight) pair to rate.
type SentimentPair struct {
	Index   int    `json:"index" validate:"min=0"`
	Comment string `json:"comment" validate:"required"`
	Insight string `json:"insight" validate:"required"`
}

// SentimentLevelInfo describes one step of the PIXE scale.
type SentimentLevelInfo struct {
	Level       string `json:"level" validate:"required"`
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
	Severity    string `json:"severity" validate:"required"`
	Intensity   int    `json:"intensity"`
}

// SentimentAnalysisVars feeds the sentiment-analysis template.
type SentimentAnalysisVars struct {
	Pairs  []SentimentPair      `json:"pairs" validate:"min=1,dive"`
	Levels []SentimentLevelInfo `json:"levels" validate:"min=1,dive"`
}

// varTypes pins each template to the variables struct it renders.
var varTypes = map[Name]any{
	InsightDetection:   InsightDetectionVars{},
	IntentionDetection: IntentionDetectionVars{},
	SentimentAnalysis:  SentimentAnalysisVars{},
}
