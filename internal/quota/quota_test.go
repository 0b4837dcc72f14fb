package quota

import "testing"

func TestDailyCapsOrdering(t *testing.T) {
	if DailyCaps[TierFree] >= DailyCaps[TierPro] {
		t.Fatal("expected free tier cap to be lower than pro tier cap")
	}
	if DailyCaps[TierEnterprise] <= DailyCaps[TierPro] {
		t.Fatal("expected enterprise tier to be effectively unbounded relative to pro")
	}
}
