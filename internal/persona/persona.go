// ABOUTME: Persona metadata carried by chat requests and its normalization rules
// ABOUTME: Resolves customer/advisor conflicts deterministically and derives the user type

package persona

import "strings"

// UserType identifies which side of the portal a conversation belongs to.
type UserType string

const (
	UserTypeCustomer UserType = "customer"
	UserTypeAdvisor  UserType = "advisor"
)

// Metadata is the persona information attached to a chat request.
// At most one of CustomerPersonaID and AdvisorPersonaID is meaningful after Normalize.
type Metadata struct {
	CustomerPersonaID string   `json:"customerPersonaId,omitempty"`
	AdvisorPersonaID  string   `json:"advisorPersonaId,omitempty"`
	UserType          UserType `json:"userType,omitempty"`
}

// Normalized is the result of Normalize.
type Normalized struct {
	Metadata Metadata

	// Conflict is true when both personas were present and the advisor was dropped.
	Conflict bool

	// DroppedAdvisorID is the advisor persona ignored because of a conflict.
	DroppedAdvisorID string
}

// Normalize trims identifiers, applies the customer-wins tie-break, and
// derives UserType. The inbound UserType is never trusted.
func Normalize(m Metadata) Normalized {
	out := Normalized{
		Metadata: Metadata{
			CustomerPersonaID: strings.TrimSpace(m.CustomerPersonaID),
			AdvisorPersonaID:  strings.TrimSpace(m.AdvisorPersonaID),
		},
	}

	if out.Metadata.CustomerPersonaID != "" && out.Metadata.AdvisorPersonaID != "" {
		out.Conflict = true
		out.DroppedAdvisorID = out.Metadata.AdvisorPersonaID
		out.Metadata.AdvisorPersonaID = ""
	}

	out.Metadata.UserType = UserTypeCustomer
	if out.Metadata.AdvisorPersonaID != "" {
		out.Metadata.UserType = UserTypeAdvisor
	}

	return out
}

// IsAdvisor reports whether an advisor persona is the active persona.
func (m Metadata) IsAdvisor() bool {
	return m.CustomerPersonaID == "" && m.AdvisorPersonaID != ""
}

// HasPersona reports whether any persona is set.
func (m Metadata) HasPersona() bool {
	return m.CustomerPersonaID != "" || m.AdvisorPersonaID != ""
}

// Key returns a stable string identifying the persona combination.
// Distinct normalized metadata values always produce distinct keys.
func (m Metadata) Key() string {
	switch {
	case m.CustomerPersonaID != "" && m.AdvisorPersonaID != "":
		return "customer:" + m.CustomerPersonaID + "|advisor:" + m.AdvisorPersonaID
	case m.CustomerPersonaID != "":
		return "customer:" + m.CustomerPersonaID
	case m.AdvisorPersonaID != "":
		return "advisor:" + m.AdvisorPersonaID
	default:
		return "none"
	}
}
