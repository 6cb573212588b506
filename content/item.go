package content

// Item is one unit of transferred content: a URL or filesystem path plus
// an optional display name. Items are immutable values; a transfer owns
// an ordered sequence of them.
type Item struct {
	url  string
	name string
}

// NewItem returns an item referencing url.
func NewItem(url string) Item {
	return Item{url: url}
}

// NewNamedItem returns an item referencing url with a display name.
func NewNamedItem(url, name string) Item {
	return Item{url: url, name: name}
}

// URL returns the reference the item carries.
func (i Item) URL() string {
	return i.url
}

// Name returns the display name, empty when none was attached.
func (i Item) Name() string {
	return i.name
}
