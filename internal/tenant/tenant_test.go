package tenant

import (
	"context"
	"testing"
)

func TestStaticTenantName(t *testing.T) {
	d := Static{Names: map[int64]string{7: "Acme Corp"}}

	name, err := d.TenantName(context.Background(), 7)
	if err != nil {
		t.Fatalf("TenantName: %v", err)
	}
	if name != "Acme Corp" {
		t.Errorf("name = %q, want Acme Corp", name)
	}

	name, err = d.TenantName(context.Background(), 42)
	if err != nil {
		t.Fatalf("TenantName unknown: %v", err)
	}
	if name != "42" {
		t.Errorf("unknown tenant name = %q, want 42", name)
	}
}

func TestStaticQuotaLimit(t *testing.T) {
	d := Static{Quota: 1 << 30}
	limit, err := d.QuotaLimit(context.Background(), 1)
	if err != nil {
		t.Fatalf("QuotaLimit: %v", err)
	}
	if limit != 1<<30 {
		t.Errorf("limit = %d, want %d", limit, int64(1<<30))
	}
}
