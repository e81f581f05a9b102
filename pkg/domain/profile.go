package domain

// Profile describes a party to the scoring service.
type Profile struct {
	ID             string         `json:"id"`
	Role           Role           `json:"role"`
	DisplayName    string         `json:"displayName,omitempty"`
	Industry       string         `json:"industry,omitempty"`
	Stage          string         `json:"stage,omitempty"`
	Location       string         `json:"location,omitempty"`
	FundingAmount  string         `json:"fundingAmount,omitempty"`
	InvestmentType string         `json:"investmentType,omitempty"`
	BusinessModel  string         `json:"businessModel,omitempty"`
	TargetMarket   string         `json:"targetMarket,omitempty"`
	TeamSize       int            `json:"teamSize,omitempty"`
	Brief          string         `json:"brief,omitempty"`
	Attributes     map[string]any `json:"attributes,omitempty"`
}

// Party returns the identity part of the profile.
func (p Profile) Party() Party {
	return Party{ID: p.ID, Role: p.Role, DisplayName: p.DisplayName}
}
