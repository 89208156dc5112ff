package models

import "strings"

// ServiceCatalogEntry is one bookable service type.
type ServiceCatalogEntry struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	BaseDurationMin float64 `json:"base_duration_min"`
}

// DisplayName returns the name with underscores turned into spaces.
func (s ServiceCatalogEntry) DisplayName() string {
	return strings.ReplaceAll(s.Name, "_", " ")
}

// DefaultCatalog mirrors the service types the queue service ships with. It is
// only used when the catalog cannot be fetched.
func DefaultCatalog() []ServiceCatalogEntry {
	return []ServiceCatalogEntry{
		{ID: "Cash_Deposit", Name: "Cash Deposit", BaseDurationMin: 5},
		{ID: "Cash_Withdrawal", Name: "Cash Withdrawal", BaseDurationMin: 4},
		{ID: "Loan_Inquiry", Name: "Loan Inquiry", BaseDurationMin: 15},
		{ID: "KYC_Update", Name: "KYC Update", BaseDurationMin: 12},
		{ID: "Forex", Name: "Forex", BaseDurationMin: 20},
		{ID: "Lost_Card", Name: "Lost Card", BaseDurationMin: 10},
		{ID: "Account_Opening", Name: "Account Opening", BaseDurationMin: 25},
		{ID: "Fixed_Deposit", Name: "Fixed Deposit", BaseDurationMin: 18},
	}
}

// FindService returns the catalog entry with the given id.
func FindService(catalog []ServiceCatalogEntry, id string) (ServiceCatalogEntry, bool) {
	for _, s := range catalog {
		if s.ID == id {
			return s, true
		}
	}
	return ServiceCatalogEntry{}, false
}
