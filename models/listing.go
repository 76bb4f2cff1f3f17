package models

import "time"

// Listing is the local mirror of one CRM property. It is only ever inserted
// or overwritten as a whole, keyed by the CRM code.
type Listing struct {
	ID            string  `json:"id" db:"id"`
	Title         string  `json:"title" db:"title"`
	Description   string  `json:"description" db:"description"`
	Status        string  `json:"status" db:"status"`
	Category      string  `json:"category" db:"category"`
	Purpose       string  `json:"purpose" db:"purpose"`
	ParkingSpaces string  `json:"parking_spaces" db:"parking_spaces"`
	Bedrooms      string  `json:"bedrooms" db:"bedrooms"`
	Suites        *string `json:"suites" db:"suites"`
	Bathrooms     string  `json:"bathrooms" db:"bathrooms"`
	PrivateArea   string  `json:"private_area" db:"private_area"`
	Address       string  `json:"address" db:"address"`
	AddressType   string  `json:"address_type" db:"address_type"`
	Neighborhood  string  `json:"neighborhood" db:"neighborhood"`
	City          string  `json:"city" db:"city"`
	State         string  `json:"state" db:"state"`
	SeaDistance   string  `json:"sea_distance" db:"sea_distance"`
	SalePrice     string  `json:"sale_price" db:"sale_price"`
	RentalPrice   string  `json:"rental_price" db:"rental_price"`
	PropertyTax   string  `json:"property_tax" db:"property_tax"`
	CondoFee      string  `json:"condo_fee" db:"condo_fee"`
	Latitude      string  `json:"latitude" db:"latitude"`
	Longitude     string  `json:"longitude" db:"longitude"`
	Situation     string  `json:"situation" db:"situation"`
	CRMUpdatedAt  string  `json:"crm_updated_at" db:"crm_updated_at"` // DataAtualizacao as the CRM sent it
	LastModified  string  `json:"last_modified" db:"last_modified"`   // YYYY-MM-DD of the last sync
	Synced        bool    `json:"synced" db:"synced"`
	Visible       bool    `json:"visible" db:"visible"`
}

// ValuationSnapshot is an append-only copy of a listing's price fields taken
// on every successful sync.
type ValuationSnapshot struct {
	ID          int64     `json:"id" db:"id"`
	ListingID   string    `json:"listing_id" db:"listing_id"`
	RecordedAt  time.Time `json:"recorded_at" db:"recorded_at"`
	SalePrice   string    `json:"sale_price" db:"sale_price"`
	RentalPrice string    `json:"rental_price" db:"rental_price"`
	PropertyTax string    `json:"property_tax" db:"property_tax"`
	CondoFee    string    `json:"condo_fee" db:"condo_fee"`
}

// PhotoAsset is one downloaded image. RemoteFilename is its stable identity;
// Filename is "<listing id>/<canonical name>" relative to the photo root.
type PhotoAsset struct {
	ID             int64   `json:"id" db:"id"`
	ListingID      string  `json:"listing_id" db:"listing_id"`
	Filename       string  `json:"filename" db:"filename"`
	RemoteFilename string  `json:"remote_filename" db:"remote_filename"`
	Caption        *string `json:"caption" db:"caption"`
	CategoryID     int     `json:"category_id" db:"category_id"`
	IsPrimary      bool    `json:"is_primary" db:"is_primary"`
	ImportedID     string  `json:"imported_id" db:"imported_id"`
	DisplayOrder   int     `json:"display_order" db:"display_order"`
}

// PhotoCategoryDefault is the category every synced photo is filed under.
const PhotoCategoryDefault = 1

// PhotoWrite reports what UpsertPhoto did with a row.
type PhotoWrite string

const (
	PhotoInserted  PhotoWrite = "inserted"
	PhotoUpdated   PhotoWrite = "updated"
	PhotoUnchanged PhotoWrite = "unchanged"
)
