package queue

import (
	"testing"

	"github.com/saare1/aisales/internal/domain"
)

func TestRank(t *testing.T) {
	tests := []struct {
		name string
		in   Signals
		want domain.PriorityLevel
	}{
		{"baseline", Signals{Status: domain.StatusInterested, Text: "tell me more"}, domain.PriorityMedium},
		{"new lead", Signals{Status: domain.StatusNew, Text: "hi"}, domain.PriorityHigh},
		{"qualified", Signals{Status: domain.StatusQualified}, domain.PriorityHigh},
		{"meeting scheduled", Signals{Status: domain.StatusMeetingScheduled}, domain.PriorityHigh},
		{"negotiating", Signals{Status: domain.StatusNegotiating}, domain.PriorityUrgent},
		{"hot lead", Signals{Status: domain.StatusInterested, Temperature: domain.TemperatureHot}, domain.PriorityHigh},
		{"warm lead", Signals{Status: domain.StatusInterested, Temperature: domain.TemperatureWarm}, domain.PriorityMedium},
		{"warm never lowers", Signals{Status: domain.StatusNegotiating, Temperature: domain.TemperatureWarm}, domain.PriorityUrgent},
		{"urgency keyword", Signals{Status: domain.StatusInterested, Text: "Please reply ASAP"}, domain.PriorityUrgent},
		{"ready to proceed", Signals{Status: domain.StatusDormant, Text: "We are ready to proceed"}, domain.PriorityUrgent},
		{"early contact", Signals{Status: domain.StatusInterested, EarlyContact: true}, domain.PriorityHigh},
		{"mildly negative", Signals{Status: domain.StatusInterested, Compound: -0.2}, domain.PriorityHigh},
		{"very negative", Signals{Status: domain.StatusInterested, Compound: -0.5}, domain.PriorityUrgent},
		{"slightly negative", Signals{Status: domain.StatusInterested, Compound: -0.19}, domain.PriorityMedium},
		{"negative does not lower negotiating", Signals{Status: domain.StatusNegotiating, Compound: -0.3}, domain.PriorityUrgent},
		{
			"purchase intent on cold lead",
			Signals{Status: domain.StatusDormant, Temperature: domain.TemperatureCold, Text: "I'm ready to buy, send me the contract"},
			domain.PriorityImmediate,
		},
		{
			"purchase intent beats distress",
			Signals{Status: domain.StatusLost, Text: "This is awful but let's do it", Compound: -0.9},
			domain.PriorityImmediate,
		},
		{"payment mention", Signals{Text: "Which Payment methods do you take?"}, domain.PriorityImmediate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Rank(tt.in); got != tt.want {
				t.Errorf("Rank() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRank_ReadyToBuyAnyState(t *testing.T) {
	text := "I'm ready to buy, send me the contract"
	statuses := []domain.LeadStatus{
		domain.StatusNew, domain.StatusQualifying, domain.StatusInterested, domain.StatusQualified,
		domain.StatusNegotiating, domain.StatusMeetingScheduled, domain.StatusWon, domain.StatusLost, domain.StatusDormant,
	}
	temps := []domain.Temperature{domain.TemperatureHot, domain.TemperatureWarm, domain.TemperatureCold, ""}
	for _, st := range statuses {
		for _, tp := range temps {
			for _, compound := range []float64{-1, 0, 1} {
				got := Rank(Signals{Status: st, Temperature: tp, Text: text, Compound: compound})
				if got != domain.PriorityImmediate {
					t.Fatalf("status=%s temp=%s compound=%v: got %s", st, tp, compound, got)
				}
			}
		}
	}
}

func TestRank_Monotone(t *testing.T) {
	base := Signals{Status: domain.StatusInterested, Text: "hello"}
	basePrio := Rank(base)

	escalated := []Signals{
		{Status: domain.StatusNegotiating, Text: "hello"},
		{Status: domain.StatusInterested, Text: "urgent hello"},
		{Status: domain.StatusInterested, Text: "hello", Compound: -0.7},
		{Status: domain.StatusInterested, Text: "hello", EarlyContact: true},
		{Status: domain.StatusInterested, Temperature: domain.TemperatureHot, Text: "hello"},
	}
	for _, s := range escalated {
		if got := Rank(s); got < basePrio {
			t.Errorf("signal lowered priority: %+v -> %s", s, got)
		}
	}
}
