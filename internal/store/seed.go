package store

import "posledger/internal/domain"

// DefaultLocations is the fixed location catalog every installation starts
// with. The core never creates locations at runtime.
func DefaultLocations() []domain.Location {
	return []domain.Location{
		{Name: "Main Warehouse", Type: domain.LocationWarehouse},
		{Name: "Main Store", Type: domain.LocationStore},
		{Name: "Display Floor", Type: domain.LocationDisplay},
		{Name: "Shrinkage", Type: domain.LocationWaste},
		{Name: "Digital Vault", Type: domain.LocationDigital, IsVirtual: true},
	}
}

func DefaultUOMs() []domain.UOM {
	return []domain.UOM{
		{Name: "Piece", Abbreviation: "pz"},
		{Name: "Kilogram", Abbreviation: "kg"},
		{Name: "Liter", Abbreviation: "lt"},
		{Name: "Box", Abbreviation: "box"},
		{Name: "Pack", Abbreviation: "pk"},
		{Name: "Digital License", Abbreviation: "key"},
	}
}
