package domain

import "testing"

func TestDocumentIsOriginal(t *testing.T) {
	original := &Document{ID: "doc-1", ContentHash: "abc"}
	if !original.IsOriginal() {
		t.Error("expected document without OriginalID to be an original")
	}

	reference := &Document{ID: "doc-2", ContentHash: "abc", OriginalID: "doc-1"}
	if reference.IsOriginal() {
		t.Error("expected document with OriginalID to be a reference")
	}
}

func TestTenantValid(t *testing.T) {
	tests := []struct {
		name   string
		tenant Tenant
		want   bool
	}{
		{"both set", Tenant{OrgID: "org-1", CourseID: "course-1"}, true},
		{"missing org", Tenant{CourseID: "course-1"}, false},
		{"missing course", Tenant{OrgID: "org-1"}, false},
		{"empty", Tenant{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.tenant.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}
