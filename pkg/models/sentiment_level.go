package models

// SentimentLevelName identifies a level on the PIXE emotional scale.
type SentimentLevelName string

const (
	SentimentFury           SentimentLevelName = "fury"
	SentimentAnger          SentimentLevelName = "anger"
	SentimentFrustration    SentimentLevelName = "frustration"
	SentimentDisappointment SentimentLevelName = "disappointment"
	SentimentAnnoyance      SentimentLevelName = "annoyance"
	SentimentConcern        SentimentLevelName = "concern"
	SentimentConfusion      SentimentLevelName = "confusion"
	SentimentImpatience     SentimentLevelName = "impatience"
	SentimentNeutral        SentimentLevelName = "neutral"
	SentimentSatisfaction   SentimentLevelName = "satisfaction"
	SentimentGratitude      SentimentLevelName = "gratitude"
)

// Severity groups sentiment levels into bands.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityNone     Severity = "none"
	SeverityPositive Severity = "positive"
)

// SentimentLevel is one seeded row of the PIXE scale, from fury (-8) to gratitude (+2).
type SentimentLevel struct {
	ID             int64              `json:"id"`
	Level          SentimentLevelName `json:"level"`
	Name           string             `json:"name"`
	Description    string             `json:"description"`
	Severity       Severity           `json:"severity"`
	IntensityValue int                `json:"intensity_value"`
}
