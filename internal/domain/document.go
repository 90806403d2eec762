package domain

// Document is the portable configuration snapshot used for export and import.
type Document struct {
	Token    string  `json:"token"`
	Groups   []Group `json:"groups"`
	IsLocked bool    `json:"isLocked"`
}
