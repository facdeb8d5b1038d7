package chat

// ListingType names the marketplace section a listing belongs to. Each
// section has its own "contact owner" entry point, but they all produce the
// same post inquiry payload.
type ListingType string

const (
	ListingTrade     ListingType = "trade"
	ListingRent      ListingType = "rent"
	ListingDonation  ListingType = "donation"
	ListingLostFound ListingType = "lostfound"
)

// Listing is the marketplace listing a buyer is inquiring about. Only the
// fields needed for the message snapshot are modeled here; the listing pages
// themselves own the full record. Price and Condition are optional and only
// meaningful for some listing types.
type Listing struct {
	ID          string
	Title       string
	Status      string
	Category    string
	Location    string
	Image       string
	Description string
	OwnerName   string
	OwnerUID    string
	CreatedAt   int64
	Type        ListingType
	Price       string
	Condition   string
}
