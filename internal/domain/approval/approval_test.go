package approval

import (
	"errors"
	"testing"

	"github.com/keepup/cowork/internal/domain"
)

func TestResolveRequestValidate(t *testing.T) {
	tests := []struct {
		status  Status
		wantErr bool
	}{
		{StatusApproved, false},
		{StatusRejected, false},
		{StatusPending, true},
		{"", true},
		{"maybe", true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			r := ResolveRequest{Status: tt.status}
			err := r.Validate()
			if tt.wantErr != (err != nil) {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, domain.ErrValidation) {
				t.Errorf("error does not wrap ErrValidation: %v", err)
			}
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	if StatusPending.Terminal() {
		t.Error("pending is not terminal")
	}
	if !StatusApproved.Terminal() || !StatusRejected.Terminal() {
		t.Error("approved and rejected are terminal")
	}
}
