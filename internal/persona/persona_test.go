// ABOUTME: Tests for persona metadata normalization
// ABOUTME: Covers trimming, the customer-wins conflict rule, and derived user type

package persona

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name         string
		in           Metadata
		want         Metadata
		wantConflict bool
	}{
		{
			name: "empty defaults to customer",
			in:   Metadata{},
			want: Metadata{UserType: UserTypeCustomer},
		},
		{
			name: "customer only",
			in:   Metadata{CustomerPersonaID: "CUST-001"},
			want: Metadata{CustomerPersonaID: "CUST-001", UserType: UserTypeCustomer},
		},
		{
			name: "advisor only",
			in:   Metadata{AdvisorPersonaID: "ADV-002"},
			want: Metadata{AdvisorPersonaID: "ADV-002", UserType: UserTypeAdvisor},
		},
		{
			name:         "both present customer wins",
			in:           Metadata{CustomerPersonaID: "CUST-001", AdvisorPersonaID: "ADV-002", UserType: UserTypeAdvisor},
			want:         Metadata{CustomerPersonaID: "CUST-001", UserType: UserTypeCustomer},
			wantConflict: true,
		},
		{
			name: "inbound user type is not trusted",
			in:   Metadata{CustomerPersonaID: "CUST-001", UserType: UserTypeAdvisor},
			want: Metadata{CustomerPersonaID: "CUST-001", UserType: UserTypeCustomer},
		},
		{
			name: "whitespace is trimmed",
			in:   Metadata{CustomerPersonaID: "  ", AdvisorPersonaID: " ADV-9 "},
			want: Metadata{AdvisorPersonaID: "ADV-9", UserType: UserTypeAdvisor},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.in)
			assert.Equal(t, tt.want, got.Metadata)
			assert.Equal(t, tt.wantConflict, got.Conflict)
		})
	}
}

func TestNormalize_ConflictMatchesCustomerOnly(t *testing.T) {
	both := Normalize(Metadata{CustomerPersonaID: "CUST-001", AdvisorPersonaID: "ADV-002"})
	only := Normalize(Metadata{CustomerPersonaID: "CUST-001"})

	assert.Equal(t, only.Metadata, both.Metadata)
	assert.Equal(t, only.Metadata.Key(), both.Metadata.Key())
	assert.Equal(t, "ADV-002", both.DroppedAdvisorID)
}

func TestMetadata_KeyDistinct(t *testing.T) {
	values := []Metadata{
		{},
		{CustomerPersonaID: "A"},
		{AdvisorPersonaID: "A"},
		{CustomerPersonaID: "B"},
		{CustomerPersonaID: "A", AdvisorPersonaID: "A"},
	}

	seen := make(map[string]Metadata)
	for _, v := range values {
		k := v.Key()
		if prev, ok := seen[k]; ok {
			t.Errorf("key %q shared by %+v and %+v", k, prev, v)
		}
		seen[k] = v
	}
}

func TestMetadata_Predicates(t *testing.T) {
	assert.False(t, Metadata{}.HasPersona())
	assert.True(t, Metadata{CustomerPersonaID: "c"}.HasPersona())
	assert.True(t, Metadata{AdvisorPersonaID: "a"}.IsAdvisor())
	assert.False(t, Metadata{CustomerPersonaID: "c", AdvisorPersonaID: "a"}.IsAdvisor())
}
