package backup

// Roots holds the derived source and destination roots.
// An empty field means that root is undefined (no marker, or more than one).
type Roots struct {
	Source      string `json:"source_base"`
	Destination string `json:"dest_base"`
}

// Defined reports whether both roots are defined.
func (r Roots) Defined() bool {
	return r.Source != "" && r.Destination != ""
}
