package domain

// Book represents a physical title in the catalog with its copy counts.
type Book struct {
	Record
	Title       string `json:"title"`
	Author      string `json:"author"`
	ISBN        string `json:"isbn,omitempty"`
	Publisher   string `json:"publisher,omitempty"`
	PublishYear int    `json:"publish_year,omitempty"`
	Description string `json:"description,omitempty"`
	// Price is the replacement cost in VND, used when issuing lost/damaged fines.
	Price int64 `json:"price,omitempty"`
	// Quantity is the total number of copies the library owns.
	Quantity int `json:"quantity"`
	// AvailableQuantity is how many copies are currently on the shelf.
	// Invariant: 0 <= AvailableQuantity <= Quantity at every commit.
	AvailableQuantity int `json:"available_quantity"`
}

// IsAvailable returns true if at least one copy is on the shelf.
func (b *Book) IsAvailable() bool {
	return b.AvailableQuantity > 0
}
