package models

import "testing"

func TestInverseRelationship(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		value string
		want  string
	}{
		{"supplier", RelationshipSupplier, RelationshipCustomer},
		{"customer", RelationshipCustomer, RelationshipSupplier},
	}

	for _, tt := range cases {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := InverseRelationship(tt.value); got != tt.want {
				t.Fatalf("InverseRelationship(%q) = %q, want %q", tt.value, got, tt.want)
			}
		})
	}
}

func TestLocationHasCoordinates(t *testing.T) {
	t.Parallel()

	lat, lng := 45.07, 7.68
	if !(Location{Latitude: &lat, Longitude: &lng}).HasCoordinates() {
		t.Fatal("expected a full coordinate pair to count")
	}
	if (Location{Latitude: &lat}).HasCoordinates() {
		t.Fatal("expected a missing longitude to disqualify the location")
	}
	if (Location{}).HasCoordinates() {
		t.Fatal("expected an empty location to have no coordinates")
	}
}

func TestProductBatchMinted(t *testing.T) {
	t.Parallel()

	var batch ProductBatch
	if batch.Minted() {
		t.Fatal("expected a batch without token to be unminted")
	}
	token := uint64(3)
	batch.TokenID = &token
	if !batch.Minted() {
		t.Fatal("expected a batch with a token to be minted")
	}
}
